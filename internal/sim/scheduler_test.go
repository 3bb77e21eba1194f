package sim

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/agent"
	"github.com/yuelin/mamavillage/internal/memory"
)

func newScheduler(t *testing.T, chat agent.Chater, ids ...string) (*memory.MemStore, *agent.Roster, *Scheduler) {
	t.Helper()
	store, roster, workflow := newVillage(t, chat, ids...)
	sched := NewScheduler(Config{
		TickStep:  5 * time.Minute,
		StartTime: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}, roster, workflow, zap.NewNop())
	return store, roster, sched
}

func TestRunStopsAtMaxTicks(t *testing.T) {
	store, _, sched := newScheduler(t, nil, "xiaoli")

	if err := sched.Run(context.Background(), Limits{MaxTicks: 10}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sched.Tick() != 10 {
		t.Fatalf("expected exactly 10 ticks, got %d", sched.Tick())
	}

	// One observation and one action memory per tick, even with no provider.
	if n := countMemories(t, store, "xiaoli", memory.MemoryObservation); n != 10 {
		t.Errorf("observation memories: %d", n)
	}
	if n := countMemories(t, store, "xiaoli", memory.MemoryAction); n != 10 {
		t.Errorf("action memories: %d", n)
	}
	if sched.Conversations() != 0 {
		t.Errorf("fallback run emitted %d conversations", sched.Conversations())
	}
}

func TestRunStopsAtMaxConversations(t *testing.T) {
	chat := &scriptedChat{response: `{"description": "said hello in the group",
		"message": "morning everyone", "conversation_type": "chat", "mood": "cheerful"}`}
	_, _, sched := newScheduler(t, chat, "xiaoli", "wangfang")

	if err := sched.Run(context.Background(), Limits{MaxConversations: 3, MaxTicks: 50}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sched.Conversations() != 3 {
		t.Fatalf("expected exactly 3 conversations, got %d", sched.Conversations())
	}
	if sched.Tick() >= 50 {
		t.Fatal("conversation limit did not stop the run")
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	_, _, sched := newScheduler(t, nil, "xiaoli")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sched.Run(ctx, Limits{MaxTicks: 100}); err != nil {
		t.Fatalf("cancelled run should terminate cleanly: %v", err)
	}
	if sched.Tick() != 0 {
		t.Fatalf("expected no ticks after pre-cancelled context, got %d", sched.Tick())
	}
}

func TestStaleStopRequestIsReset(t *testing.T) {
	_, _, sched := newScheduler(t, nil, "xiaoli")
	sched.RequestStop()

	// The flag is cleared when the run starts, so it completes normally.
	if err := sched.Run(context.Background(), Limits{MaxTicks: 100}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sched.Tick() != 100 {
		t.Fatalf("stale stop request leaked into new run: %d ticks", sched.Tick())
	}
}

func TestRequestStopEndsRunInFlight(t *testing.T) {
	_, _, sched := newScheduler(t, nil, "xiaoli")

	runErr := make(chan error, 1)
	go func() {
		runErr <- sched.Run(context.Background(), Limits{MaxTicks: 1_000_000})
	}()

	// Let a handful of ticks pass before asking for the stop.
	deadline := time.Now().Add(10 * time.Second)
	for sched.Tick() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("run never reached tick 5")
		}
		time.Sleep(time.Millisecond)
	}
	sched.RequestStop()
	sched.Wait()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("stopped run should terminate cleanly: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after stop request")
	}

	st := sched.Status()
	if st.Running {
		t.Error("scheduler still running after Wait returned")
	}
	if st.Tick < 5 || st.Tick >= 1_000_000 {
		t.Fatalf("expected a prompt mid-run stop, got %d ticks", st.Tick)
	}
}

func TestWaitReturnsWhenIdle(t *testing.T) {
	_, _, sched := newScheduler(t, nil, "xiaoli")
	sched.Wait() // no run in flight, must not block
}

type tickRecorder struct {
	ticks []int64
}

func (r *tickRecorder) TickDone(_ context.Context, tick int64) {
	r.ticks = append(r.ticks, tick)
}

func TestListenersNotifiedEveryTick(t *testing.T) {
	_, _, sched := newScheduler(t, nil, "xiaoli")
	rec := &tickRecorder{}
	sched.AddListener(rec)

	if err := sched.Run(context.Background(), Limits{MaxTicks: 4}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.ticks) != 4 {
		t.Fatalf("listener saw %d ticks, want 4", len(rec.ticks))
	}
	for i, tick := range rec.ticks {
		if tick != int64(i) {
			t.Fatalf("listener tick %d = %d", i, tick)
		}
	}
}

func TestSelectionSharesTicksAcrossVillagers(t *testing.T) {
	store, _, sched := newScheduler(t, nil, "alice", "bob")

	if err := sched.Run(context.Background(), Limits{MaxTicks: 12}); err != nil {
		t.Fatalf("run: %v", err)
	}

	actedA := countMemories(t, store, "alice", memory.MemoryAction)
	actedB := countMemories(t, store, "bob", memory.MemoryAction)
	if actedA+actedB != 12 {
		t.Fatalf("expected 12 actions total, got %d", actedA+actedB)
	}
	if actedA < 3 || actedB < 3 {
		t.Fatalf("selection starved a villager: alice=%d bob=%d", actedA, actedB)
	}
}

func TestWorldClockAdvancesPerTick(t *testing.T) {
	_, _, sched := newScheduler(t, nil, "xiaoli")

	if err := sched.Run(context.Background(), Limits{MaxTicks: 6}); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := sched.Status()
	want := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	if !st.WorldTime.Equal(want) {
		t.Fatalf("world time = %v, want %v", st.WorldTime, want)
	}
}

func TestStatusSnapshot(t *testing.T) {
	_, roster, sched := newScheduler(t, nil, "xiaoli", "wangfang")

	st := sched.Status()
	if st.Running {
		t.Error("fresh scheduler reports running")
	}
	if len(st.Agents) != roster.Len() {
		t.Errorf("agents in status: %d", len(st.Agents))
	}

	if err := sched.Run(context.Background(), Limits{MaxTicks: 4}); err != nil {
		t.Fatalf("run: %v", err)
	}
	st = sched.Status()
	if st.Running {
		t.Error("finished scheduler reports running")
	}
	if st.Tick != 4 {
		t.Errorf("status tick: %d", st.Tick)
	}

	if _, ok := sched.AgentDetail("xiaoli"); !ok {
		t.Error("agent detail missing")
	}
	if _, ok := sched.AgentDetail("nobody"); ok {
		t.Error("phantom agent detail")
	}
}

func TestRunRejectsEmptyRoster(t *testing.T) {
	store := memory.NewMemStore(zap.NewNop())
	roster := agent.NewRoster(nil)
	workflow := NewWorkflow(store, nil, agent.HeuristicPolicy{}, roster, zap.NewNop())
	sched := NewScheduler(Config{}, roster, workflow, zap.NewNop())

	if err := sched.Run(context.Background(), Limits{MaxTicks: 1}); err == nil {
		t.Fatal("expected error for empty roster")
	}
}
