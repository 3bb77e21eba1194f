package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/memory"
)

// startPostgres starts a PostgreSQL testcontainer, returns a migrated
// store plus cleanup. Skipped unless VILLAGE_TEST_CONTAINERS is set.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("VILLAGE_TEST_CONTAINERS") == "" {
		t.Skip("container tests disabled (set VILLAGE_TEST_CONTAINERS=1)")
	}

	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("village_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}

	s, err := New(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })

	if err := s.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, id := range []string{"xiaoli", "wangfang"} {
		if err := s.RegisterAgent(ctx, id, id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return s
}

func TestPostgresTotalOrderAcrossKinds(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	seq1, err := s.AppendMemory(ctx, &memory.Memory{
		AgentID: "xiaoli", Type: memory.MemoryObservation,
		Content: "quiet morning", Importance: 2,
		Metadata: map[string]string{"source": "test"},
	})
	if err != nil {
		t.Fatalf("append memory: %v", err)
	}
	seq2, err := s.AppendConversation(ctx, &memory.Conversation{
		FromAgent: "xiaoli", ToAgent: "wangfang",
		Message: "how is the little one?", Type: memory.ConvChat,
	})
	if err != nil {
		t.Fatalf("append conversation: %v", err)
	}
	seq3, err := s.AppendPlan(ctx, &memory.DailyPlan{
		AgentID: "xiaoli", Action: "feed the baby", Priority: 8, TimeSlot: "childcare",
	})
	if err != nil {
		t.Fatalf("append plan: %v", err)
	}
	if seq1 >= seq2 || seq2 >= seq3 {
		t.Fatalf("sequences not increasing: %d %d %d", seq1, seq2, seq3)
	}

	it, err := s.Query(ctx, memory.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	records, err := memory.Collect(it)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if _, ok := records[0].(*memory.DailyPlan); !ok {
		t.Errorf("newest record should be the plan, got %T", records[0])
	}
	if _, ok := records[2].(*memory.Memory); !ok {
		t.Errorf("oldest record should be the memory, got %T", records[2])
	}
}

func TestPostgresRejectsUnknownReceiver(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	_, err := s.AppendConversation(ctx, &memory.Conversation{
		FromAgent: "xiaoli", ToAgent: "ghost", Message: "hello?", Type: memory.ConvChat,
	})
	if !errors.Is(err, memory.ErrUnknownReceiver) {
		t.Fatalf("expected ErrUnknownReceiver, got %v", err)
	}

	// The rejected insert must not burn a sequence number.
	seq, err := s.AppendConversation(ctx, &memory.Conversation{
		FromAgent: "xiaoli", Message: "morning everyone", Type: memory.ConvShare,
	})
	if err != nil {
		t.Fatalf("broadcast append: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1 for first accepted record, got %d", seq)
	}
}

func TestPostgresPlanLifecycle(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	p := &memory.DailyPlan{AgentID: "xiaoli", Action: "nap time", Priority: 5}
	if _, err := s.AppendPlan(ctx, p); err != nil {
		t.Fatalf("append plan: %v", err)
	}

	if err := s.UpdatePlanStatus(ctx, p.ID, memory.PlanCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.UpdatePlanStatus(ctx, p.ID, memory.PlanSkipped); !errors.Is(err, memory.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.UpdatePlanStatus(ctx, "3b2cfc9e-1f0a-4bfb-9f58-000000000000", memory.PlanCompleted); !errors.Is(err, memory.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}

	plans, err := s.PendingPlans(ctx, "xiaoli")
	if err != nil {
		t.Fatalf("pending plans: %v", err)
	}
	if len(plans) != 0 {
		t.Fatalf("expected no pending plans, got %d", len(plans))
	}
}

func TestPostgresPendingPlanOrdering(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	s.AppendPlan(ctx, &memory.DailyPlan{AgentID: "xiaoli", Action: "low", Priority: 2})
	s.AppendPlan(ctx, &memory.DailyPlan{AgentID: "xiaoli", Action: "urgent", Priority: 9})
	s.AppendPlan(ctx, &memory.DailyPlan{AgentID: "xiaoli", Action: "also urgent", Priority: 9})

	plans, err := s.PendingPlans(ctx, "xiaoli")
	if err != nil {
		t.Fatalf("pending plans: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}
	if plans[0].Action != "urgent" || plans[1].Action != "also urgent" || plans[2].Action != "low" {
		t.Fatalf("wrong order: %s, %s, %s", plans[0].Action, plans[1].Action, plans[2].Action)
	}
}

func TestPostgresRetentionCleanup(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	s.AppendMemory(ctx, &memory.Memory{
		AgentID: "xiaoli", Type: memory.MemoryAction, Content: "stale",
		Importance: 1, Timestamp: time.Now().Add(-48 * time.Hour),
	})
	s.AppendMemory(ctx, &memory.Memory{
		AgentID: "xiaoli", Type: memory.MemoryAction, Content: "fresh", Importance: 1,
	})

	removed, err := s.RetentionCleanup(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
