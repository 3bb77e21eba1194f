package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuelin/mamavillage/internal/agent"
	"github.com/yuelin/mamavillage/internal/memory"
	"github.com/yuelin/mamavillage/internal/provider"
	"go.uber.org/zap"
)

// Signal tells the scheduler whether to keep ticking.
type Signal string

const (
	SignalContinue Signal = "continue"
	SignalEnd      Signal = "end"
)

// TickInfo is the scheduler-owned context handed to one workflow run.
// The workflow never touches global state directly.
type TickInfo struct {
	Tick          int64
	WorldTime     time.Time
	Conversations int64
	Limits        Limits
}

// TickResult reports what one workflow run produced.
type TickResult struct {
	ConversationsEmitted int
	Signal               Signal
}

// ConversationSink receives accepted conversations, e.g. a Redis stream
// or a chat platform mirror. Failures are logged and ignored.
type ConversationSink interface {
	Publish(ctx context.Context, c *memory.Conversation) error
}

// RelationRecorder strengthens a social tie after a directed conversation.
type RelationRecorder interface {
	RecordInteraction(ctx context.Context, fromID, toID, summary string) error
}

// Recaller retrieves semantically related memories and indexes new ones.
type Recaller interface {
	Related(ctx context.Context, agentID, text string, topK int) ([]string, error)
	Index(ctx context.Context, m *memory.Memory) error
}

// Observation is what one villager notices before deciding anything.
type Observation struct {
	TimeContext   string
	Conversations []*memory.Conversation
	OtherActions  []*memory.Memory
	OwnMemories   []*memory.Memory
}

// Workflow runs the four cognitive phases for one selected villager on
// one tick: observe, then conditionally plan, then execute, then
// conditionally reflect. Provider failures degrade output, never the run.
type Workflow struct {
	store     memory.Store
	chat      agent.Chater
	policy    agent.DecisionPolicy
	roster    *agent.Roster
	logger    *zap.Logger
	sinks     []ConversationSink
	relations RelationRecorder
	recall    Recaller

	// observeWindow caps how many records Observe pulls per query.
	observeWindow int
	// recallTopK caps semantic recall context lines.
	recallTopK int
}

// WorkflowOption configures optional collaborators.
type WorkflowOption func(*Workflow)

// WithSink adds a conversation sink.
func WithSink(s ConversationSink) WorkflowOption {
	return func(w *Workflow) { w.sinks = append(w.sinks, s) }
}

// WithRelations wires the social relation recorder.
func WithRelations(r RelationRecorder) WorkflowOption {
	return func(w *Workflow) { w.relations = r }
}

// WithRecall wires semantic memory recall.
func WithRecall(r Recaller) WorkflowOption {
	return func(w *Workflow) { w.recall = r }
}

// WithObserveWindow overrides the per-query record cap.
func WithObserveWindow(n int) WorkflowOption {
	return func(w *Workflow) {
		if n > 0 {
			w.observeWindow = n
		}
	}
}

// NewWorkflow creates a workflow over the given store, provider surface,
// and decision policy.
func NewWorkflow(store memory.Store, chat agent.Chater, policy agent.DecisionPolicy, roster *agent.Roster, logger *zap.Logger, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		store:         store,
		chat:          chat,
		policy:        policy,
		roster:        roster,
		logger:        logger,
		observeWindow: 10,
		recallTopK:    5,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes one full cognitive cycle. Only storage failures are
// returned; everything else is absorbed into degraded output.
func (w *Workflow) Run(ctx context.Context, rt *agent.Runtime, info TickInfo) (TickResult, error) {
	obs, err := w.observe(ctx, rt, info)
	if err != nil {
		return TickResult{}, err
	}

	if err := w.plan(ctx, rt, obs, info); err != nil {
		return TickResult{}, err
	}

	emitted, err := w.execute(ctx, rt, obs, info)
	if err != nil {
		return TickResult{ConversationsEmitted: emitted}, err
	}

	if err := w.reflect(ctx, rt, info); err != nil {
		return TickResult{ConversationsEmitted: emitted}, err
	}

	return TickResult{
		ConversationsEmitted: emitted,
		Signal:               w.signal(info, emitted),
	}, nil
}

// signal is "end" once a termination condition is already met.
func (w *Workflow) signal(info TickInfo, emitted int) Signal {
	if info.Limits.MaxTicks > 0 && info.Tick+1 >= info.Limits.MaxTicks {
		return SignalEnd
	}
	if info.Limits.MaxConversations > 0 &&
		info.Conversations+int64(emitted) >= info.Limits.MaxConversations {
		return SignalEnd
	}
	return SignalContinue
}

// observe gathers what changed since this villager last looked: new
// conversations visible to them and other villagers' actions. Never
// calls the provider, so it never suspends.
func (w *Workflow) observe(ctx context.Context, rt *agent.Runtime, info TickInfo) (*Observation, error) {
	obs := &Observation{TimeContext: timeContext(info.WorldTime.Hour())}
	watermark := rt.LastSeenSeq()
	maxSeen := watermark

	it, err := w.store.Query(ctx, memory.Filter{
		Kinds:    []memory.Kind{memory.KindConversation},
		Audience: rt.ID(),
		AfterSeq: watermark,
		Limit:    w.observeWindow,
	})
	if err != nil {
		return nil, err
	}
	records, err := memory.Collect(it)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if c, ok := r.(*memory.Conversation); ok {
			if c.FromAgent == rt.ID() {
				continue
			}
			obs.Conversations = append(obs.Conversations, c)
		}
		if r.SeqNo() > maxSeen {
			maxSeen = r.SeqNo()
		}
	}

	it, err = w.store.Query(ctx, memory.Filter{
		Kinds:      []memory.Kind{memory.KindMemory},
		MemoryType: memory.MemoryAction,
		AfterSeq:   watermark,
		Limit:      w.observeWindow,
	})
	if err != nil {
		return nil, err
	}
	records, err = memory.Collect(it)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if m, ok := r.(*memory.Memory); ok && m.AgentID != rt.ID() {
			obs.OtherActions = append(obs.OtherActions, m)
		}
		if r.SeqNo() > maxSeen {
			maxSeen = r.SeqNo()
		}
	}

	it, err = w.store.Query(ctx, memory.Filter{
		Kinds:   []memory.Kind{memory.KindMemory},
		AgentID: rt.ID(),
		Limit:   7,
	})
	if err != nil {
		return nil, err
	}
	records, err = memory.Collect(it)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if m, ok := r.(*memory.Memory); ok {
			obs.OwnMemories = append(obs.OwnMemories, m)
		}
	}

	rt.MarkSeen(maxSeen)

	content := fmt.Sprintf("noticed %d new messages and %d things others did; %s",
		len(obs.Conversations), len(obs.OtherActions), obs.TimeContext)
	if err := w.appendMemory(ctx, rt, memory.MemoryObservation, content, 2, nil); err != nil {
		return nil, err
	}
	return obs, nil
}

// plan asks the policy whether a new plan is due, then turns provider
// output into DailyPlan entries. The DailyPlan rows are authoritative;
// the mirroring plan memory is informational and appended second.
func (w *Workflow) plan(ctx context.Context, rt *agent.Runtime, obs *Observation, info TickInfo) error {
	decision := rt.NeedsPlan(ctx, w.policy)
	if !decision.Yes {
		return nil
	}

	entries := w.generatePlan(ctx, rt, obs)

	appended := 0
	var lines []string
	for _, e := range entries {
		p := &memory.DailyPlan{
			AgentID:  rt.ID(),
			Action:   e.Action,
			Priority: e.Priority,
			TimeSlot: e.TimeSlot,
			Status:   memory.PlanPending,
		}
		if _, err := w.store.AppendPlan(ctx, p); err != nil {
			if memory.IsFatal(err) || errors.Is(err, memory.ErrClosed) {
				return err
			}
			w.logger.Warn("plan entry rejected",
				zap.String("agent", rt.ID()), zap.Error(err))
			continue
		}
		appended++
		lines = append(lines, fmt.Sprintf("%s (priority %d)", e.Action, e.Priority))
	}
	rt.NotePlanned(appended)

	content := "planned: " + strings.Join(lines, "; ")
	if appended == 0 {
		content = "tried to plan but nothing stuck"
	}
	return w.appendMemory(ctx, rt, memory.MemoryPlan, content, importanceOr(decision.Importance, 4),
		map[string]string{"reason": decision.Reason})
}

// generatePlan realizes a plan through the provider, falling back to the
// deterministic default so the tick never stalls.
func (w *Workflow) generatePlan(ctx context.Context, rt *agent.Runtime, obs *Observation) []planEntry {
	p := rt.Profile()
	prompt := fmt.Sprintf(
		"You are %s. Traits: %s. Concerns: %s.\n%s\n%s\n"+
			"Write 2-4 concrete things you plan to do next, one per line, "+
			"each ending with a priority 1-10 in parentheses.",
		p.Summary(),
		strings.Join(p.Traits, ", "),
		strings.Join(p.Concerns, ", "),
		observationDigest(obs),
		w.recallDigest(ctx, rt, strings.Join(p.Concerns, " ")))

	resp, err := w.chatCall(ctx, prompt, 0.7, 400)
	if err != nil {
		w.logger.Warn("plan generation failed, using default plan",
			zap.String("agent", rt.ID()), zap.Error(err))
		return []planEntry{defaultPlanEntry()}
	}
	entries := parsePlan(resp)
	if len(entries) == 0 {
		return []planEntry{defaultPlanEntry()}
	}
	return entries
}

// execute realizes the highest-priority pending plan (or an idle default)
// as a concrete action, optionally emitting one conversation.
func (w *Workflow) execute(ctx context.Context, rt *agent.Runtime, obs *Observation, info TickInfo) (int, error) {
	plans, err := w.store.PendingPlans(ctx, rt.ID())
	if err != nil {
		return 0, err
	}

	var current *memory.DailyPlan
	idle := len(plans) == 0
	if !idle {
		current = plans[0]
	}

	outcome := w.realizeAction(ctx, rt, obs, current)

	emitted := 0
	if outcome.Message != "" {
		conv := &memory.Conversation{
			FromAgent: rt.ID(),
			ToAgent:   outcome.ToAgent,
			Message:   outcome.Message,
			Type:      outcome.ConvType,
		}
		_, err := w.store.AppendConversation(ctx, conv)
		switch {
		case err == nil:
			emitted = 1
			w.fanOut(ctx, conv)
		case errors.Is(err, memory.ErrUnknownReceiver):
			w.logger.Warn("conversation dropped: unknown receiver",
				zap.String("agent", rt.ID()),
				zap.String("to", outcome.ToAgent))
		default:
			return 0, err
		}
	}

	if current != nil {
		if err := w.store.UpdatePlanStatus(ctx, current.ID, memory.PlanCompleted); err != nil {
			if memory.IsFatal(err) || errors.Is(err, memory.ErrClosed) {
				return emitted, err
			}
			w.logger.Warn("plan completion rejected",
				zap.String("plan", current.ID), zap.Error(err))
		} else {
			rt.NotePlanConsumed()
		}
	}

	if idle {
		if err := rt.RestoreEnergy(ctx, 1); err != nil && memory.IsFatal(err) {
			return emitted, err
		}
	} else {
		if err := rt.DecayEnergy(ctx, 1); err != nil && memory.IsFatal(err) {
			return emitted, err
		}
	}
	if err := rt.SetMood(ctx, outcome.Mood); err != nil && memory.IsFatal(err) {
		return emitted, err
	}
	rt.RecordActivity(info.Tick)

	meta := map[string]string{"tick": fmt.Sprintf("%d", info.Tick)}
	if outcome.ToAgent != "" {
		meta["to"] = outcome.ToAgent
	}
	if err := w.appendMemory(ctx, rt, memory.MemoryAction, outcome.Description, 3, meta); err != nil {
		return emitted, err
	}

	if outcome.Learned != "" {
		if err := w.appendMemory(ctx, rt, memory.MemoryLearning, outcome.Learned, 4, nil); err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}

// realizeAction turns a planned action into a concrete outcome via the
// provider, with a deterministic fallback on any failure.
func (w *Workflow) realizeAction(ctx context.Context, rt *agent.Runtime, obs *Observation, plan *memory.DailyPlan) actionOutcome {
	p := rt.Profile()
	planned := "nothing planned; you have a quiet moment"
	if plan != nil {
		planned = plan.Action
	}

	prompt := fmt.Sprintf(
		"You are %s. Traits: %s. Style: %s.\n%s\n"+
			"You intended to: %s.\n"+
			"Describe what you actually do, and if you send a message to the "+
			"village group or a specific villager, include it.\n"+
			"Known villagers: %s.\n"+
			`Answer JSON only: {"description": "...", "message": "", `+
			`"to_agent": "", "conversation_type": "chat|help_request|advice|share", `+
			`"mood": "", "learned": ""}`,
		p.Summary(),
		strings.Join(p.Traits, ", "),
		p.LanguageStyle.Dialect,
		observationDigest(obs),
		planned,
		strings.Join(p.SocialConnections, ", "))

	resp, err := w.chatCall(ctx, prompt, 0.8, 400)
	if err != nil {
		w.logger.Warn("action realization failed, using fallback",
			zap.String("agent", rt.ID()), zap.Error(err))
		return fallbackOutcome(plan)
	}
	outcome, ok := parseAction(resp)
	if !ok {
		return fallbackOutcome(plan)
	}
	return outcome
}

// reflect synthesizes recent memories into a subjective takeaway.
func (w *Workflow) reflect(ctx context.Context, rt *agent.Runtime, info TickInfo) error {
	decision := rt.NeedsReflection(ctx, w.policy)
	if !decision.Yes {
		return nil
	}

	it, err := w.store.Query(ctx, memory.Filter{
		Kinds:   []memory.Kind{memory.KindMemory},
		AgentID: rt.ID(),
		Limit:   5,
	})
	if err != nil {
		return err
	}
	records, err := memory.Collect(it)
	if err != nil {
		return err
	}
	var recent []string
	for _, r := range records {
		if m, ok := r.(*memory.Memory); ok {
			recent = append(recent, m.Content)
		}
	}

	p := rt.Profile()
	prompt := fmt.Sprintf(
		"You are %s. Looking back on: %s.\n"+
			"In your own voice, in one or two short sentences, say what you "+
			"take away from the last while.",
		p.Summary(), strings.Join(recent, "; "))

	content := ""
	resp, err := w.chatCall(ctx, prompt, 0.7, 200)
	if err != nil || strings.TrimSpace(resp) == "" {
		content = "thought over the last few days; some of it stays with me"
	} else {
		content = strings.TrimSpace(resp)
	}

	rt.NoteReflected()
	return w.appendMemory(ctx, rt, memory.MemoryReflection, content,
		importanceOr(decision.Importance, 5),
		map[string]string{"reason": decision.Reason})
}

// chatCall is the single suspension point for provider round trips.
func (w *Workflow) chatCall(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	if w.chat == nil {
		return "", errors.New("no reasoning provider configured")
	}
	resp, err := w.chat.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// appendMemory writes one memory record and best-effort indexes it for
// semantic recall.
func (w *Workflow) appendMemory(ctx context.Context, rt *agent.Runtime, mt memory.MemoryType, content string, importance int, meta map[string]string) error {
	m := &memory.Memory{
		AgentID:    rt.ID(),
		Type:       mt,
		Content:    content,
		Importance: importance,
		Metadata:   meta,
	}
	if _, err := w.store.AppendMemory(ctx, m); err != nil {
		return err
	}
	if w.recall != nil {
		if err := w.recall.Index(ctx, m); err != nil {
			w.logger.Debug("recall index failed", zap.Error(err))
		}
	}
	return nil
}

// fanOut delivers an accepted conversation to sinks and the relation graph.
func (w *Workflow) fanOut(ctx context.Context, conv *memory.Conversation) {
	for _, sink := range w.sinks {
		if err := sink.Publish(ctx, conv); err != nil {
			w.logger.Warn("conversation sink failed", zap.Error(err))
		}
	}
	if w.relations != nil && conv.ToAgent != "" {
		if err := w.relations.RecordInteraction(ctx, conv.FromAgent, conv.ToAgent, conv.Message); err != nil {
			w.logger.Warn("relation update failed", zap.Error(err))
		}
	}
}

// recallDigest fetches semantically related memories for prompt context.
func (w *Workflow) recallDigest(ctx context.Context, rt *agent.Runtime, text string) string {
	if w.recall == nil || text == "" {
		return ""
	}
	related, err := w.recall.Related(ctx, rt.ID(), text, w.recallTopK)
	if err != nil || len(related) == 0 {
		return ""
	}
	return "Things you remember: " + strings.Join(related, "; ")
}

func observationDigest(obs *Observation) string {
	var sb strings.Builder
	sb.WriteString("It is " + obs.TimeContext + ".")
	if len(obs.Conversations) > 0 {
		sb.WriteString(" Recent messages:")
		for _, c := range obs.Conversations {
			sb.WriteString(fmt.Sprintf(" [%s] %s.", c.FromAgent, c.Message))
		}
	}
	if len(obs.OtherActions) > 0 {
		sb.WriteString(" Others have been busy:")
		for _, m := range obs.OtherActions {
			sb.WriteString(fmt.Sprintf(" %s %s.", m.AgentID, m.Content))
		}
	}
	return sb.String()
}

func importanceOr(n, def int) int {
	if n < 1 || n > 10 {
		return def
	}
	return n
}
