package store

import (
	"context"
	"encoding/json"
	"time"
)

// PushEntry is one device push waiting in, or delivered from, the outbox.
type PushEntry struct {
	ID           int64
	Token        string
	Title        string
	Body         string
	Data         map[string]string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	Attempts     int
	CreatedAt    int64
}

// QueuePush adds a push to the outbox.
func (db *DB) QueuePush(ctx context.Context, token, title, body string, data map[string]string) (int64, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		INSERT INTO push_outbox (token, title, body, data, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		token, title, body, string(raw), now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CountQueuedPushes returns how many pushes are waiting to be sent.
func (db *DB) CountQueuedPushes(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM push_outbox WHERE status IN ('queued', 'sending')`).Scan(&n)
	return n, err
}

// MarkPushSending updates an outbox entry to 'sending' and counts the attempt.
func (db *DB) MarkPushSending(ctx context.Context, id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx,
		`UPDATE push_outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// MarkPushSent updates an outbox entry to 'sent'.
func (db *DB) MarkPushSent(ctx context.Context, id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx,
		`UPDATE push_outbox SET status = 'sent', error_message = '', updated_at = ? WHERE id = ?`, now, id)
	return err
}

// MarkPushFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkPushFailed(ctx context.Context, id int64, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx,
		`UPDATE push_outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE id = ?`, errMsg, now, id)
	return err
}

// RequeueSending puts entries left in 'sending' by a crashed daemon back in the queue.
func (db *DB) RequeueSending(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx,
		`UPDATE push_outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingPushes returns up to limit queued pushes, oldest first.
func (db *DB) PendingPushes(ctx context.Context, limit int) ([]PushEntry, error) {
	return db.queryPushes(ctx, `
		SELECT id, token, title, body, data, status, error_message, attempts, created_at
		FROM push_outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
}

// RecentPushes returns the latest pushes in any state, newest first.
func (db *DB) RecentPushes(ctx context.Context, limit int) ([]PushEntry, error) {
	return db.queryPushes(ctx, `
		SELECT id, token, title, body, data, status, error_message, attempts, created_at
		FROM push_outbox ORDER BY id DESC LIMIT ?`, limit)
}

// PrunePushes deletes delivered and failed entries older than before.
func (db *DB) PrunePushes(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM push_outbox WHERE status IN ('sent', 'failed') AND updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryPushes(ctx context.Context, query string, args ...any) ([]PushEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []PushEntry
	for rows.Next() {
		var (
			e    PushEntry
			data string
		)
		if err := rows.Scan(&e.ID, &e.Token, &e.Title, &e.Body, &data, &e.Status, &e.ErrorMessage, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, err
		}
		if data != "" {
			_ = json.Unmarshal([]byte(data), &e.Data)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
