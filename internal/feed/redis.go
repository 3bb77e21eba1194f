package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/memory"
)

// DefaultStream is the Redis stream conversations are appended to.
const DefaultStream = "village:conversations"

// RedisSink appends each conversation to a Redis stream so external
// consumers can tail the village in real time.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisSink connects to Redis and returns a stream sink.
func NewRedisSink(redisURL, stream string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{rdb: rdb, stream: stream, logger: logger}, nil
}

// Publish appends the conversation as one stream entry.
func (s *RedisSink) Publish(ctx context.Context, c *memory.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.stream, err)
	}
	s.logger.Debug("conversation streamed",
		zap.String("from", c.FromAgent),
		zap.String("to", c.ToAgent),
		zap.String("type", string(c.Type)))
	return nil
}

// Tail reads conversations from the stream as they arrive. Cancel the
// context to stop. Intended for external watchers and tests.
func (s *RedisSink) Tail(ctx context.Context) <-chan *memory.Conversation {
	ch := make(chan *memory.Conversation, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{s.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var c memory.Conversation
					if json.Unmarshal([]byte(data), &c) == nil {
						ch <- &c
					}
				}
			}
		}
	}()
	return ch
}

// Close shuts down the Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
