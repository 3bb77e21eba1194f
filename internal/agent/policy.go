package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/yuelin/mamavillage/internal/provider"
	"go.uber.org/zap"
)

// Decision is the outcome of a should-plan / should-reflect question.
type Decision struct {
	Yes        bool
	Reason     string
	Importance int
}

// DecisionPolicy decides whether an agent plans or reflects on a tick.
// Implementations may be a local heuristic or delegate to the reasoning
// provider; either way the answer must always come back.
type DecisionPolicy interface {
	ShouldPlan(ctx context.Context, view StateView) Decision
	ShouldReflect(ctx context.Context, view StateView) Decision
}

// HeuristicPolicy is the deterministic default: plan when the last plan
// ran dry or has gone stale, reflect on a fixed cadence when rested.
type HeuristicPolicy struct {
	// PlanEvery is the staleness threshold in ticks. Zero means 5.
	PlanEvery int
	// ReflectEvery is the reflection cadence in ticks. Zero means 8.
	ReflectEvery int
	// MinEnergy gates both decisions. Zero means 3.
	MinEnergy int
}

func (h HeuristicPolicy) planEvery() int {
	if h.PlanEvery <= 0 {
		return 5
	}
	return h.PlanEvery
}

func (h HeuristicPolicy) reflectEvery() int {
	if h.ReflectEvery <= 0 {
		return 8
	}
	return h.ReflectEvery
}

func (h HeuristicPolicy) minEnergy() int {
	if h.MinEnergy <= 0 {
		return 3
	}
	return h.MinEnergy
}

// ShouldPlan plans when no pending entries remain or the plan went stale.
func (h HeuristicPolicy) ShouldPlan(_ context.Context, v StateView) Decision {
	if v.Energy < h.minEnergy() {
		return Decision{Reason: "too tired to plan"}
	}
	if v.PendingPlans == 0 {
		return Decision{Yes: true, Reason: "no pending plans", Importance: 5}
	}
	if v.TicksSincePlan >= h.planEvery() {
		return Decision{Yes: true, Reason: "plan is stale", Importance: 4}
	}
	return Decision{Reason: "current plan still applies"}
}

// ShouldReflect reflects on a fixed cadence.
func (h HeuristicPolicy) ShouldReflect(_ context.Context, v StateView) Decision {
	if v.Energy < h.minEnergy() {
		return Decision{Reason: "too tired to reflect"}
	}
	if v.TicksSinceReflec >= h.reflectEvery() {
		return Decision{Yes: true, Reason: "time to look back", Importance: 5}
	}
	return Decision{Reason: "nothing pressing to reflect on"}
}

// Chater is the slice of the provider surface a policy needs.
type Chater interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// ProviderPolicy delegates the plan/reflect decision to the reasoning
// provider, falling back to the heuristic when the call fails or the
// reply cannot be parsed.
type ProviderPolicy struct {
	Chat     Chater
	Fallback HeuristicPolicy
	Logger   *zap.Logger
}

type decisionReply struct {
	ShouldPlan    *bool  `json:"should_plan"`
	ShouldReflect *bool  `json:"should_reflect"`
	Reason        string `json:"reason"`
	Importance    int    `json:"importance"`
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ShouldPlan asks the provider whether the villager needs a new plan.
func (p ProviderPolicy) ShouldPlan(ctx context.Context, v StateView) Decision {
	prompt := fmt.Sprintf(
		"As %s, decide whether you need a new plan for what to do next.\n"+
			"Energy: %d/10. Mood: %s. Pending planned actions: %d. "+
			"Ticks since last plan: %d.\n"+
			`Answer JSON only: {"should_plan": true|false, "reason": "..."}`,
		v.Name, v.Energy, v.Mood, v.PendingPlans, v.TicksSincePlan)

	reply, ok := p.ask(ctx, prompt)
	if !ok || reply.ShouldPlan == nil {
		return p.Fallback.ShouldPlan(ctx, v)
	}
	return Decision{Yes: *reply.ShouldPlan, Reason: reply.Reason, Importance: clampImportance(reply.Importance)}
}

// ShouldReflect asks the provider whether the villager should pause and reflect.
func (p ProviderPolicy) ShouldReflect(ctx context.Context, v StateView) Decision {
	prompt := fmt.Sprintf(
		"As %s, decide whether to pause and reflect on recent experiences.\n"+
			"Energy: %d/10. Mood: %s. Ticks since last reflection: %d.\n"+
			`Answer JSON only: {"should_reflect": true|false, "reason": "...", "importance": 1-10}`,
		v.Name, v.Energy, v.Mood, v.TicksSinceReflec)

	reply, ok := p.ask(ctx, prompt)
	if !ok || reply.ShouldReflect == nil {
		return p.Fallback.ShouldReflect(ctx, v)
	}
	return Decision{Yes: *reply.ShouldReflect, Reason: reply.Reason, Importance: clampImportance(reply.Importance)}
}

func (p ProviderPolicy) ask(ctx context.Context, prompt string) (decisionReply, bool) {
	resp, err := p.Chat.Chat(ctx, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("decision call failed, using heuristic", zap.Error(err))
		}
		return decisionReply{}, false
	}
	raw := jsonObjectRe.FindString(resp.Content)
	if raw == "" {
		return decisionReply{}, false
	}
	var reply decisionReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return decisionReply{}, false
	}
	return reply, true
}

func clampImportance(n int) int {
	if n < 1 {
		return 3
	}
	if n > 10 {
		return 10
	}
	return n
}
