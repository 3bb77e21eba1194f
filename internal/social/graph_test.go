package social

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func startGraph(t *testing.T) *Graph {
	t.Helper()
	if os.Getenv("VILLAGE_TEST_CONTAINERS") == "" {
		t.Skip("container tests disabled (set VILLAGE_TEST_CONTAINERS=1)")
	}

	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("driver: %v", err)
	}

	g := NewGraph(driver, 0.1, 0.05, zap.NewNop())
	t.Cleanup(func() { g.Close(ctx) })
	return g
}

func TestInteractionsStrengthenAndDecay(t *testing.T) {
	g := startGraph(t)
	ctx := context.Background()

	if err := g.EnsureVillager(ctx, "xiaoli", "Xiao Li"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := g.EnsureVillager(ctx, "wangfang", "Wang Fang"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := g.RecordInteraction(ctx, "xiaoli", "wangfang", "asked about fever"); err != nil {
			t.Fatalf("record interaction: %v", err)
		}
	}

	ties, err := g.Ties(ctx, "xiaoli")
	if err != nil {
		t.Fatalf("ties: %v", err)
	}
	if len(ties) != 1 {
		t.Fatalf("expected 1 tie, got %d", len(ties))
	}
	tie := ties[0]
	if tie.ToAgent != "wangfang" {
		t.Errorf("tie target: %s", tie.ToAgent)
	}
	if tie.Strength < 0.29 || tie.Strength > 0.31 {
		t.Errorf("expected strength around 0.3, got %v", tie.Strength)
	}
	if len(tie.History) != 3 {
		t.Errorf("history entries: %d", len(tie.History))
	}

	if err := g.Decay(ctx); err != nil {
		t.Fatalf("decay: %v", err)
	}
	ties, _ = g.Ties(ctx, "xiaoli")
	if ties[0].Strength >= tie.Strength {
		t.Errorf("decay did not weaken tie: %v -> %v", tie.Strength, ties[0].Strength)
	}

	// TickDone is the per-tick entry point the scheduler drives.
	decayed := ties[0].Strength
	g.TickDone(ctx, 1)
	ties, _ = g.Ties(ctx, "xiaoli")
	if ties[0].Strength >= decayed {
		t.Errorf("tick decay did not weaken tie: %v -> %v", decayed, ties[0].Strength)
	}
}

func TestStrengthIsCapped(t *testing.T) {
	g := startGraph(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if err := g.RecordInteraction(ctx, "a", "b", "chat"); err != nil {
			t.Fatalf("record interaction: %v", err)
		}
	}
	ties, err := g.Ties(ctx, "a")
	if err != nil {
		t.Fatalf("ties: %v", err)
	}
	if len(ties) != 1 || ties[0].Strength > 1.0 {
		t.Fatalf("strength exceeded cap: %+v", ties)
	}
}
