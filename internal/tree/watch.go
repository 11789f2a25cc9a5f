package tree

import (
	"context"

	"github.com/matheus3301/campus/internal/bus"
	"go.uber.org/zap"
)

// Subscription is a live Watch. Close stops further callbacks.
type Subscription struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Path returns the watched path.
func (s *Subscription) Path() string {
	return s.path
}

// Close stops delivery. It does not wait for an in-flight callback, so it
// is safe to call from inside one.
func (s *Subscription) Close() {
	s.cancel()
}

// Done is closed once the watch goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Watch calls fn with the snapshot at path now and after every write that
// touches path, one of its ancestors, or one of its descendants. Bursts of
// writes are coalesced into a single re-read.
func (t *Tree) Watch(ctx context.Context, path string, fn func(Snapshot)) *Subscription {
	path = Clean(path)
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{path: path, cancel: cancel, done: make(chan struct{})}

	// Subscribe before the first read so no write slips in between.
	ch, unsub := t.bus.Subscribe(bus.KindTreeChanged, 1024)

	go func() {
		defer close(sub.done)
		defer unsub()

		deliver := func() {
			snap, err := t.Get(ctx, path)
			if err != nil {
				if ctx.Err() == nil {
					t.logger.Warn("watch read failed", zap.String("path", path), zap.Error(err))
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			fn(snap)
		}

		deliver()
		for {
			select {
			case evt := <-ch:
				if !touches(path, evt) {
					continue
				}
				drain(ch)
				deliver()
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub
}

func touches(path string, evt bus.Event) bool {
	change, ok := evt.Payload.(Change)
	if !ok {
		return false
	}
	for _, p := range change.Paths {
		if Related(path, p) {
			return true
		}
	}
	return false
}

// drain discards queued events; the caller re-reads the full state anyway.
func drain(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
