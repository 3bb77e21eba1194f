package sim

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/agent"
	"github.com/yuelin/mamavillage/internal/memory"
	"github.com/yuelin/mamavillage/internal/profile"
	"github.com/yuelin/mamavillage/internal/provider"
)

// scriptedChat returns one canned response for every prompt, or fails.
type scriptedChat struct {
	response string
	err      error
	calls    int
}

func (s *scriptedChat) Chat(_ context.Context, _ *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.ChatResponse{Content: s.response}, nil
}

func testProfile(id string) *profile.Profile {
	return &profile.Profile{
		ID: id, Name: id, Age: 30, Role: profile.RoleYoungMother,
		ResponseProbability: 0.9, Initiative: 0.5,
		SocialConnections: nil,
	}
}

func newVillage(t *testing.T, chat agent.Chater, ids ...string) (*memory.MemStore, *agent.Roster, *Workflow) {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewMemStore(logger)

	var runtimes []*agent.Runtime
	for _, id := range ids {
		if err := store.RegisterAgent(context.Background(), id, id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		runtimes = append(runtimes, agent.NewRuntime(testProfile(id), store, logger))
	}
	roster := agent.NewRoster(runtimes)
	workflow := NewWorkflow(store, chat, agent.HeuristicPolicy{}, roster, logger)
	return store, roster, workflow
}

func countMemories(t *testing.T, store *memory.MemStore, agentID string, mt memory.MemoryType) int {
	t.Helper()
	it, err := store.Query(context.Background(), memory.Filter{
		AgentID:    agentID,
		Kinds:      []memory.Kind{memory.KindMemory},
		MemoryType: mt,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	records, err := memory.Collect(it)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return len(records)
}

func tickInfo(tick int64) TickInfo {
	return TickInfo{Tick: tick, WorldTime: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestRunWithDeadProviderStillProducesFullCycle(t *testing.T) {
	store, roster, workflow := newVillage(t, nil, "xiaoli")
	rt, _ := roster.Get("xiaoli")

	rt.BeginTick()
	result, err := workflow.Run(context.Background(), rt, tickInfo(0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ConversationsEmitted != 0 {
		t.Fatalf("fallback action must not emit conversations, got %d", result.ConversationsEmitted)
	}

	if n := countMemories(t, store, "xiaoli", memory.MemoryObservation); n != 1 {
		t.Errorf("observation memories: %d", n)
	}
	if n := countMemories(t, store, "xiaoli", memory.MemoryAction); n != 1 {
		t.Errorf("action memories: %d", n)
	}
	if n := countMemories(t, store, "xiaoli", memory.MemoryPlan); n != 1 {
		t.Errorf("plan memories: %d", n)
	}
}

func TestPlanWritesEntriesBeforeMirrorMemory(t *testing.T) {
	chat := &scriptedChat{response: "1. visit grandma (7)\n2. wash bottles (4)"}
	store, roster, workflow := newVillage(t, chat, "xiaoli")
	rt, _ := roster.Get("xiaoli")

	rt.BeginTick()
	if _, err := workflow.Run(context.Background(), rt, tickInfo(0)); err != nil {
		t.Fatalf("run: %v", err)
	}

	it, _ := store.Query(context.Background(), memory.Filter{AgentID: "xiaoli"})
	records, _ := memory.Collect(it)

	var planMemSeq, lastPlanSeq int64
	for _, r := range records {
		switch v := r.(type) {
		case *memory.Memory:
			if v.Type == memory.MemoryPlan {
				planMemSeq = v.Seq
			}
		case *memory.DailyPlan:
			if v.Seq > lastPlanSeq {
				lastPlanSeq = v.Seq
			}
		}
	}
	if planMemSeq == 0 || lastPlanSeq == 0 {
		t.Fatal("missing plan entries or mirror memory")
	}
	if lastPlanSeq >= planMemSeq {
		t.Fatalf("plan entries (last seq %d) must precede mirror memory (seq %d)", lastPlanSeq, planMemSeq)
	}
}

func TestExecuteConsumesHighestPriorityPlan(t *testing.T) {
	store, roster, workflow := newVillage(t, nil, "xiaoli")
	rt, _ := roster.Get("xiaoli")
	ctx := context.Background()

	low := &memory.DailyPlan{AgentID: "xiaoli", Action: "sweep the yard", Priority: 2}
	high := &memory.DailyPlan{AgentID: "xiaoli", Action: "take temperature", Priority: 9}
	store.AppendPlan(ctx, low)
	store.AppendPlan(ctx, high)
	rt.NotePlanned(2)

	rt.BeginTick()
	if _, err := workflow.Run(ctx, rt, tickInfo(0)); err != nil {
		t.Fatalf("run: %v", err)
	}

	plans, _ := store.PendingPlans(ctx, "xiaoli")
	if len(plans) != 1 || plans[0].ID != low.ID {
		t.Fatalf("expected only the low-priority plan to remain, got %d", len(plans))
	}

	it, _ := store.Query(ctx, memory.Filter{
		AgentID: "xiaoli", Kinds: []memory.Kind{memory.KindMemory},
		MemoryType: memory.MemoryAction,
	})
	records, _ := memory.Collect(it)
	if len(records) != 1 {
		t.Fatalf("action memories: %d", len(records))
	}
	m := records[0].(*memory.Memory)
	if m.Content != "went ahead with: take temperature" {
		t.Errorf("action content: %q", m.Content)
	}
}

func TestSignalEndsAtRunLimits(t *testing.T) {
	_, _, workflow := newVillage(t, nil, "xiaoli")

	info := tickInfo(4)
	info.Limits = Limits{MaxTicks: 5}
	if sig := workflow.signal(info, 0); sig != SignalEnd {
		t.Errorf("final tick should signal end, got %s", sig)
	}

	info = tickInfo(1)
	info.Limits = Limits{MaxTicks: 50, MaxConversations: 3}
	info.Conversations = 2
	if sig := workflow.signal(info, 1); sig != SignalEnd {
		t.Errorf("conversation limit should signal end, got %s", sig)
	}
	if sig := workflow.signal(info, 0); sig != SignalContinue {
		t.Errorf("under both limits should continue, got %s", sig)
	}

	info.Limits = Limits{}
	if sig := workflow.signal(info, 5); sig != SignalContinue {
		t.Errorf("unlimited run should continue, got %s", sig)
	}
}

// completionRejectingStore refuses every plan status update, as a store
// would for a plan already completed elsewhere.
type completionRejectingStore struct {
	*memory.MemStore
}

func (s *completionRejectingStore) UpdatePlanStatus(context.Context, string, memory.PlanStatus) error {
	return memory.ErrInvalidTransition
}

func TestRejectedPlanCompletionKeepsPendingCount(t *testing.T) {
	logger := zap.NewNop()
	base := memory.NewMemStore(logger)
	ctx := context.Background()
	if err := base.RegisterAgent(ctx, "xiaoli", "xiaoli"); err != nil {
		t.Fatalf("register: %v", err)
	}

	store := &completionRejectingStore{MemStore: base}
	rt := agent.NewRuntime(testProfile("xiaoli"), store, logger)
	roster := agent.NewRoster([]*agent.Runtime{rt})
	workflow := NewWorkflow(store, nil, agent.HeuristicPolicy{}, roster, logger)

	base.AppendPlan(ctx, &memory.DailyPlan{AgentID: "xiaoli", Action: "take temperature", Priority: 9})
	rt.NotePlanned(1)

	rt.BeginTick()
	if _, err := workflow.Run(ctx, rt, tickInfo(0)); err != nil {
		t.Fatalf("rejected completion must not abort the tick: %v", err)
	}

	// The store still holds the plan as pending, so the counter must too.
	if got := rt.View().PendingPlans; got != 1 {
		t.Fatalf("pending count drifted from the store: %d", got)
	}
}

func TestConversationToUnknownReceiverIsDropped(t *testing.T) {
	chat := &scriptedChat{response: `{"description": "asked a stranger", "message": "hello?",
		"to_agent": "ghost", "conversation_type": "chat", "mood": "calm"}`}
	store, roster, workflow := newVillage(t, chat, "xiaoli")
	rt, _ := roster.Get("xiaoli")

	rt.BeginTick()
	result, err := workflow.Run(context.Background(), rt, tickInfo(0))
	if err != nil {
		t.Fatalf("drop must not abort the tick: %v", err)
	}
	if result.ConversationsEmitted != 0 {
		t.Fatalf("dropped conversation still counted: %d", result.ConversationsEmitted)
	}

	it, _ := store.Query(context.Background(), memory.Filter{Kinds: []memory.Kind{memory.KindConversation}})
	records, _ := memory.Collect(it)
	if len(records) != 0 {
		t.Fatalf("dropped conversation reached the log: %d", len(records))
	}
	// The action itself is still recorded.
	if n := countMemories(t, store, "xiaoli", memory.MemoryAction); n != 1 {
		t.Errorf("action memories: %d", n)
	}
}

func TestDirectedConversationReachesLogAndCounts(t *testing.T) {
	chat := &scriptedChat{response: `{"description": "asked for advice", "message": "is 38 degrees bad?",
		"to_agent": "wangfang", "conversation_type": "help_request", "mood": "worried"}`}
	store, roster, workflow := newVillage(t, chat, "xiaoli", "wangfang")
	rt, _ := roster.Get("xiaoli")

	rt.BeginTick()
	result, err := workflow.Run(context.Background(), rt, tickInfo(0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ConversationsEmitted != 1 {
		t.Fatalf("expected 1 conversation, got %d", result.ConversationsEmitted)
	}

	it, _ := store.Query(context.Background(), memory.Filter{Kinds: []memory.Kind{memory.KindConversation}})
	records, _ := memory.Collect(it)
	if len(records) != 1 {
		t.Fatalf("conversations in log: %d", len(records))
	}
	c := records[0].(*memory.Conversation)
	if c.ToAgent != "wangfang" || c.Type != memory.ConvHelpRequest {
		t.Errorf("conversation: %+v", c)
	}
	if rt.Mood() != "worried" {
		t.Errorf("mood not applied: %s", rt.Mood())
	}
}

func TestReflectionOnCadence(t *testing.T) {
	store, roster, workflow := newVillage(t, nil, "xiaoli")
	rt, _ := roster.Get("xiaoli")

	// Reach the reflection cadence without draining energy.
	for i := 0; i < 8; i++ {
		rt.BeginTick()
	}
	if _, err := workflow.Run(context.Background(), rt, tickInfo(0)); err != nil {
		t.Fatalf("run: %v", err)
	}

	if n := countMemories(t, store, "xiaoli", memory.MemoryReflection); n != 1 {
		t.Fatalf("reflection memories: %d", n)
	}
	if rt.View().TicksSinceReflec != 0 {
		t.Errorf("reflection counter not reset")
	}
}

func TestObserveSeesOthersSinceWatermark(t *testing.T) {
	store, roster, workflow := newVillage(t, nil, "xiaoli", "wangfang")
	rt, _ := roster.Get("xiaoli")
	ctx := context.Background()

	store.AppendConversation(ctx, &memory.Conversation{
		FromAgent: "wangfang", Message: "lunch is ready", Type: memory.ConvShare,
	})
	store.AppendMemory(ctx, &memory.Memory{
		AgentID: "wangfang", Type: memory.MemoryAction, Content: "hung the laundry", Importance: 3,
	})

	rt.BeginTick()
	if _, err := workflow.Run(ctx, rt, tickInfo(0)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rt.LastSeenSeq() == 0 {
		t.Fatal("watermark not advanced")
	}
	before := rt.LastSeenSeq()

	// Nothing new: watermark must not move backwards or re-deliver.
	rt.BeginTick()
	if _, err := workflow.Run(ctx, rt, tickInfo(1)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rt.LastSeenSeq() < before {
		t.Fatal("watermark regressed")
	}
}
