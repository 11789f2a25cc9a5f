// Package redistree stores tree leaves in Redis so several daemons can share
// one tree and observe each other's writes.
//
// Leaf paths live in a sorted set with equal scores (ordered by ZRANGEBYLEX)
// and their JSON values in a hash. Every batch is published on a channel.
package redistree

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/campus/internal/tree"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPrefix = "campus:tree:"

// Backend is a tree.Backend and tree.Feed on Redis.
type Backend struct {
	client *redis.Client
	prefix string
	origin string
	logger *zap.Logger
}

type changeMessage struct {
	Origin string   `json:"origin"`
	Paths  []string `json:"paths"`
}

// Open connects to the Redis server at redisURL.
func Open(redisURL string, logger *zap.Logger) (*Backend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		client: client,
		prefix: defaultPrefix,
		origin: uuid.NewString(),
		logger: logger,
	}
}

func (b *Backend) indexKey() string   { return b.prefix + "index" }
func (b *Backend) valuesKey() string  { return b.prefix + "values" }
func (b *Backend) channelKey() string { return b.prefix + "changes" }

// paths lists the stored leaf paths at or below path.
func (b *Backend) paths(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		return b.client.ZRange(ctx, b.indexKey(), 0, -1).Result()
	}
	lo, hi := tree.SubtreeBounds(path)
	below, err := b.client.ZRangeByLex(ctx, b.indexKey(), &redis.ZRangeBy{
		Min: "[" + lo,
		Max: "(" + hi,
	}).Result()
	if err != nil {
		return nil, err
	}
	exists, err := b.client.HExists(ctx, b.valuesKey(), path).Result()
	if err != nil {
		return nil, err
	}
	if exists {
		below = append(below, path)
	}
	return below, nil
}

func (b *Backend) Leaves(ctx context.Context, path string) (map[string][]byte, error) {
	keys, err := b.paths(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := b.client.HMGet(ctx, b.valuesKey(), keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		// A nil entry is a path removed between the two reads.
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (b *Backend) Apply(ctx context.Context, ops []tree.Op) error {
	doomed := map[string]struct{}{}
	pending := map[string][]byte{}

	for _, op := range ops {
		existing, err := b.paths(ctx, op.Path)
		if err != nil {
			return err
		}
		for _, p := range existing {
			doomed[p] = struct{}{}
		}
		for _, a := range tree.Ancestors(op.Path) {
			doomed[a] = struct{}{}
			delete(pending, a)
		}
		for p := range pending {
			if tree.InSubtree(op.Path, p) {
				delete(pending, p)
			}
		}
		for k, v := range op.Leaves {
			pending[k] = v
		}
	}
	for p := range pending {
		delete(doomed, p)
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(doomed) > 0 {
			members := make([]any, 0, len(doomed))
			fields := make([]string, 0, len(doomed))
			for p := range doomed {
				members = append(members, p)
				fields = append(fields, p)
			}
			pipe.ZRem(ctx, b.indexKey(), members...)
			pipe.HDel(ctx, b.valuesKey(), fields...)
		}
		if len(pending) > 0 {
			zs := make([]redis.Z, 0, len(pending))
			values := make(map[string]any, len(pending))
			for p, v := range pending {
				zs = append(zs, redis.Z{Member: p})
				values[p] = string(v)
			}
			pipe.ZAdd(ctx, b.indexKey(), zs...)
			pipe.HSet(ctx, b.valuesKey(), values)
		}
		return nil
	})
	if err != nil {
		return err
	}

	msg := changeMessage{Origin: b.origin}
	for _, op := range ops {
		msg.Paths = append(msg.Paths, op.Path)
	}
	payload, _ := json.Marshal(msg)
	if err := b.client.Publish(ctx, b.channelKey(), payload).Err(); err != nil {
		// The write itself landed; peers just will not hear about it.
		b.logger.Warn("publish tree change failed", zap.Error(err))
	}
	return nil
}

// Changes streams the paths written by other processes.
func (b *Backend) Changes(ctx context.Context) (<-chan []string, error) {
	sub := b.client.Subscribe(ctx, b.channelKey())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan []string, 64)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var cm changeMessage
				if err := json.Unmarshal([]byte(m.Payload), &cm); err != nil {
					b.logger.Warn("bad tree change message", zap.Error(err))
					continue
				}
				if cm.Origin == b.origin {
					continue
				}
				select {
				case out <- cm.Paths:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
