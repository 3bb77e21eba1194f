package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yuelin/mamavillage/internal/memory"
	"github.com/yuelin/mamavillage/internal/profile"
	"go.uber.org/zap"
)

const (
	minEnergy     = 1
	maxEnergy     = 10
	defaultEnergy = 7
	defaultMood   = "calm"
)

// StateView is a read-only snapshot of a runtime's mutable state, handed
// to decision policies and the status endpoint.
type StateView struct {
	AgentID          string `json:"agent_id"`
	Name             string `json:"name"`
	Energy           int    `json:"energy"`
	Mood             string `json:"mood"`
	LastActiveTick   int64  `json:"last_active_tick"`
	TicksSincePlan   int    `json:"ticks_since_plan"`
	TicksSinceReflec int    `json:"ticks_since_reflection"`
	PendingPlans     int    `json:"pending_plans"`
}

// Runtime is one live villager: an immutable profile plus the mutable
// state the cognitive workflow drives. State changes write a matching
// low-importance memory record so the log and the state never diverge.
type Runtime struct {
	profile *profile.Profile
	store   memory.Store
	logger  *zap.Logger

	mu               sync.RWMutex
	energy           int
	mood             string
	lastActiveTick   int64
	lastSeenSeq      int64
	ticksSincePlan   int
	ticksSinceReflec int
	pendingPlans     int
}

// NewRuntime wraps a profile with fresh runtime state.
func NewRuntime(p *profile.Profile, store memory.Store, logger *zap.Logger) *Runtime {
	return &Runtime{
		profile: p,
		store:   store,
		logger:  logger,
		energy:  defaultEnergy,
		mood:    defaultMood,
	}
}

// Profile returns the immutable villager configuration.
func (r *Runtime) Profile() *profile.Profile { return r.profile }

// ID is shorthand for the profile id.
func (r *Runtime) ID() string { return r.profile.ID }

// Energy returns the current energy level (1-10).
func (r *Runtime) Energy() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.energy
}

// Mood returns the current emotional state tag.
func (r *Runtime) Mood() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mood
}

// LastActiveTick returns the tick this villager last acted on.
func (r *Runtime) LastActiveTick() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActiveTick
}

// LastSeenSeq returns the highest record sequence this villager has observed.
func (r *Runtime) LastSeenSeq() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeenSeq
}

// MarkSeen advances the observed-sequence watermark.
func (r *Runtime) MarkSeen(seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq > r.lastSeenSeq {
		r.lastSeenSeq = seq
	}
}

// BeginTick bumps the since-plan and since-reflection counters. Called by
// the scheduler before the workflow runs.
func (r *Runtime) BeginTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticksSincePlan++
	r.ticksSinceReflec++
}

// RecordActivity marks the villager active on the given tick. The action
// memory the workflow appends in the same step documents the change.
func (r *Runtime) RecordActivity(tick int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActiveTick = tick
}

// NotePlanned resets the plan counter and tracks outstanding plan entries.
func (r *Runtime) NotePlanned(pendingCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticksSincePlan = 0
	r.pendingPlans = pendingCount
}

// NotePlanConsumed decrements the outstanding plan count.
func (r *Runtime) NotePlanConsumed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingPlans > 0 {
		r.pendingPlans--
	}
}

// NoteReflected resets the reflection counter.
func (r *Runtime) NoteReflected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticksSinceReflec = 0
}

// DecayEnergy lowers energy by amount, floored at 1, and logs the change
// as a concern-type memory.
func (r *Runtime) DecayEnergy(ctx context.Context, amount int) error {
	r.mu.Lock()
	before := r.energy
	r.energy -= amount
	if r.energy < minEnergy {
		r.energy = minEnergy
	}
	after := r.energy
	r.mu.Unlock()

	if after == before {
		return nil
	}
	return r.appendStateMemory(ctx, fmt.Sprintf("feeling more tired, energy down to %d", after))
}

// RestoreEnergy raises energy by amount, capped at 10, and logs the change.
func (r *Runtime) RestoreEnergy(ctx context.Context, amount int) error {
	r.mu.Lock()
	before := r.energy
	r.energy += amount
	if r.energy > maxEnergy {
		r.energy = maxEnergy
	}
	after := r.energy
	r.mu.Unlock()

	if after == before {
		return nil
	}
	return r.appendStateMemory(ctx, fmt.Sprintf("had a rest, energy back up to %d", after))
}

// SetMood updates the emotional state tag and logs the change.
func (r *Runtime) SetMood(ctx context.Context, mood string) error {
	if mood == "" {
		return nil
	}
	r.mu.Lock()
	changed := mood != r.mood
	r.mood = mood
	r.mu.Unlock()

	if !changed {
		return nil
	}
	return r.appendStateMemory(ctx, "mood shifted to "+mood)
}

// NeedsPlan asks the decision policy whether a new plan is due.
func (r *Runtime) NeedsPlan(ctx context.Context, policy DecisionPolicy) Decision {
	return policy.ShouldPlan(ctx, r.View())
}

// NeedsReflection asks the decision policy whether a reflection is due.
func (r *Runtime) NeedsReflection(ctx context.Context, policy DecisionPolicy) Decision {
	return policy.ShouldReflect(ctx, r.View())
}

// View snapshots the runtime state.
func (r *Runtime) View() StateView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return StateView{
		AgentID:          r.profile.ID,
		Name:             r.profile.Name,
		Energy:           r.energy,
		Mood:             r.mood,
		LastActiveTick:   r.lastActiveTick,
		TicksSincePlan:   r.ticksSincePlan,
		TicksSinceReflec: r.ticksSinceReflec,
		PendingPlans:     r.pendingPlans,
	}
}

func (r *Runtime) appendStateMemory(ctx context.Context, content string) error {
	_, err := r.store.AppendMemory(ctx, &memory.Memory{
		AgentID:    r.profile.ID,
		Type:       memory.MemoryConcern,
		Content:    content,
		Importance: 1,
		Metadata:   map[string]string{"source": "state"},
	})
	if err != nil && r.logger != nil {
		r.logger.Warn("state memory append failed",
			zap.String("agent", r.profile.ID), zap.Error(err))
	}
	return err
}

// Roster is the fixed set of runtimes for one run, iterated in id order
// so selection stays deterministic.
type Roster struct {
	byID  map[string]*Runtime
	order []string
}

// NewRoster builds a roster from runtimes.
func NewRoster(runtimes []*Runtime) *Roster {
	ros := &Roster{byID: make(map[string]*Runtime, len(runtimes))}
	for _, rt := range runtimes {
		ros.byID[rt.ID()] = rt
		ros.order = append(ros.order, rt.ID())
	}
	sort.Strings(ros.order)
	return ros
}

// Get returns the runtime for an agent id.
func (ros *Roster) Get(id string) (*Runtime, bool) {
	rt, ok := ros.byID[id]
	return rt, ok
}

// IDs returns all agent ids in sorted order.
func (ros *Roster) IDs() []string {
	out := make([]string, len(ros.order))
	copy(out, ros.order)
	return out
}

// All returns the runtimes in id order.
func (ros *Roster) All() []*Runtime {
	out := make([]*Runtime, 0, len(ros.order))
	for _, id := range ros.order {
		out = append(out, ros.byID[id])
	}
	return out
}

// Len returns the roster size.
func (ros *Roster) Len() int { return len(ros.order) }
