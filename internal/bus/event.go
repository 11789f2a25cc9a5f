package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the daemon.
const (
	KindTreeChanged        = "tree.changed"
	KindMessageSent        = "message.sent"
	KindMessageFanoutFail  = "message.fanout_failed"
	KindPushSent           = "push.sent"
	KindPushFailed         = "push.failed"
	KindDaemonStatusChange = "daemon.status_changed"
)
