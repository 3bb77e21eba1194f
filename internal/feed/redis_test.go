package feed

import (
	"context"
	"os"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/memory"
)

func startRedis(t *testing.T) *RedisSink {
	t.Helper()
	if os.Getenv("VILLAGE_TEST_CONTAINERS") == "" {
		t.Skip("container tests disabled (set VILLAGE_TEST_CONTAINERS=1)")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}

	sink, err := NewRedisSink("redis://"+endpoint, "", zap.NewNop())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestRedisSinkRoundTrip(t *testing.T) {
	sink := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tail := sink.Tail(ctx)
	// Give the XRead loop a moment to attach past the "$" cursor.
	time.Sleep(200 * time.Millisecond)

	sent := &memory.Conversation{
		ID: "c1", FromAgent: "xiaoli", ToAgent: "wangfang",
		Message: "is 38 degrees bad?", Type: memory.ConvHelpRequest,
		Timestamp: time.Now(),
	}
	if err := sink.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-tail:
		if got.FromAgent != "xiaoli" || got.Message != sent.Message {
			t.Fatalf("round trip mismatch: %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for streamed conversation")
	}
}
