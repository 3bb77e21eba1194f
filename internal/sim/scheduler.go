package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuelin/mamavillage/internal/agent"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a run is started while one is active.
var ErrAlreadyRunning = errors.New("simulation already running")

// Limits bound one run. Zero means unlimited.
type Limits struct {
	MaxTicks         int64 `json:"max_ticks"`
	MaxConversations int64 `json:"max_conversations"`
}

// Status is a point-in-time snapshot of the run, safe to take mid-tick.
type Status struct {
	Running       bool              `json:"running"`
	Tick          int64             `json:"tick"`
	Conversations int64             `json:"conversations"`
	WorldTime     time.Time         `json:"world_time"`
	StopRequested bool              `json:"stop_requested"`
	Agents        []agent.StateView `json:"agents"`
}

// Config tunes the scheduler.
type Config struct {
	// TickStep is how much world time passes per tick. Zero means 5 minutes.
	TickStep time.Duration
	// StartTime is the world clock origin. Zero means now.
	StartTime time.Time
}

// TickListener is notified after every completed tick, for periodic
// maintenance that tracks simulated time, such as social tie decay.
type TickListener interface {
	TickDone(ctx context.Context, tick int64)
}

// Scheduler owns the global simulation state and drives the tick loop:
// pick one villager, run their cognitive workflow to completion, advance
// the clock, check termination. Strictly one tick at a time.
type Scheduler struct {
	cfg       Config
	roster    *agent.Roster
	workflow  *Workflow
	listeners []TickListener
	logger    *zap.Logger

	mu            sync.RWMutex
	tick          int64
	conversations int64
	worldTime     time.Time
	running       bool
	done          chan struct{}

	stopReq atomic.Bool
}

// NewScheduler creates a scheduler over a roster and workflow.
func NewScheduler(cfg Config, roster *agent.Roster, workflow *Workflow, logger *zap.Logger) *Scheduler {
	if cfg.TickStep <= 0 {
		cfg.TickStep = 5 * time.Minute
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	return &Scheduler{
		cfg:       cfg,
		roster:    roster,
		workflow:  workflow,
		logger:    logger,
		worldTime: cfg.StartTime,
	}
}

// Run drives the tick loop until a limit is hit, a stop is requested, or
// a storage failure makes continuing unsafe. It is synchronous; callers
// wanting a background run wrap it in a goroutine. The returned error is
// nil on normal termination.
func (s *Scheduler) Run(ctx context.Context, limits Limits) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.roster.Len() == 0 {
		s.mu.Unlock()
		return errors.New("empty roster")
	}
	s.running = true
	s.stopReq.Store(false)
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("simulation run started",
		zap.Int64("max_ticks", limits.MaxTicks),
		zap.Int64("max_conversations", limits.MaxConversations),
		zap.Int("roster", s.roster.Len()))

	for {
		if reason := s.terminationReason(ctx, limits); reason != "" {
			s.logger.Info("simulation run finished",
				zap.String("reason", reason),
				zap.Int64("tick", s.Tick()),
				zap.Int64("conversations", s.Conversations()))
			return nil
		}

		sig, err := s.runTick(ctx, limits)
		if err != nil {
			s.logger.Error("simulation halted",
				zap.Int64("last_tick", s.Tick()),
				zap.Error(err))
			return fmt.Errorf("halted at tick %d: %w", s.Tick(), err)
		}
		if sig == SignalEnd {
			s.logger.Info("simulation run finished",
				zap.String("reason", "workflow signalled end"),
				zap.Int64("tick", s.Tick()),
				zap.Int64("conversations", s.Conversations()))
			return nil
		}
	}
}

// runTick executes one full tick: select, workflow, bookkeeping. The
// returned signal is the workflow's verdict on whether the run limits
// have been exhausted.
func (s *Scheduler) runTick(ctx context.Context, limits Limits) (Signal, error) {
	s.mu.RLock()
	tick := s.tick
	worldTime := s.worldTime
	conversations := s.conversations
	s.mu.RUnlock()

	rt := s.selectAgent(tick, worldTime)
	rt.BeginTick()

	info := TickInfo{
		Tick:          tick,
		WorldTime:     worldTime,
		Conversations: conversations,
		Limits:        limits,
	}

	result, err := s.workflow.Run(ctx, rt, info)
	if err != nil {
		return SignalEnd, err
	}

	s.mu.Lock()
	s.tick++
	s.conversations += int64(result.ConversationsEmitted)
	s.worldTime = s.worldTime.Add(s.cfg.TickStep)
	s.mu.Unlock()

	for _, l := range s.listeners {
		l.TickDone(ctx, tick)
	}

	s.logger.Debug("tick complete",
		zap.Int64("tick", tick),
		zap.String("agent", rt.ID()),
		zap.Int("conversations_emitted", result.ConversationsEmitted),
		zap.String("signal", string(result.Signal)))
	return result.Signal, nil
}

// selectAgent picks the villager to act: longest idle wins, nudged by
// energy, time-of-day affinity, and initiative. Ties break by lowest
// last-active tick, then smallest id (roster iterates in id order).
func (s *Scheduler) selectAgent(tick int64, worldTime time.Time) *agent.Runtime {
	hour := worldTime.Hour()

	var best *agent.Runtime
	var bestScore float64
	var bestLastActive int64

	for _, rt := range s.roster.All() {
		v := rt.View()
		idle := float64(tick - v.LastActiveTick)
		score := idle + 0.3*float64(v.Energy)
		if rt.Profile().ActiveAt(hour) {
			score += 2.0
		}
		score += rt.Profile().Initiative

		if best == nil ||
			score > bestScore ||
			(score == bestScore && v.LastActiveTick < bestLastActive) {
			best = rt
			bestScore = score
			bestLastActive = v.LastActiveTick
		}
	}
	return best
}

// terminationReason reports why the loop should stop, or "" to continue.
// Polled only between ticks: an in-flight tick always completes.
func (s *Scheduler) terminationReason(ctx context.Context, limits Limits) string {
	if ctx.Err() != nil {
		return "context cancelled"
	}
	if s.stopReq.Load() {
		return "stop requested"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limits.MaxTicks > 0 && s.tick >= limits.MaxTicks {
		return "max ticks reached"
	}
	if limits.MaxConversations > 0 && s.conversations >= limits.MaxConversations {
		return "max conversations reached"
	}
	return ""
}

// AddListener registers a listener for completed ticks. Not safe to
// call while a run is active.
func (s *Scheduler) AddListener(l TickListener) {
	s.listeners = append(s.listeners, l)
}

// RequestStop asks the loop to finish the in-flight tick and stop.
func (s *Scheduler) RequestStop() {
	s.stopReq.Store(true)
}

// Wait blocks until no run is in flight. Pair with RequestStop for a
// shutdown that lets the current tick finish before resources close.
func (s *Scheduler) Wait() {
	s.mu.RLock()
	running := s.running
	done := s.done
	s.mu.RUnlock()
	if !running || done == nil {
		return
	}
	<-done
}

// Tick returns the current tick counter.
func (s *Scheduler) Tick() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// Conversations returns the cumulative conversation count.
func (s *Scheduler) Conversations() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations
}

// Status snapshots the run without pausing it.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	st := Status{
		Running:       s.running,
		Tick:          s.tick,
		Conversations: s.conversations,
		WorldTime:     s.worldTime,
		StopRequested: s.stopReq.Load(),
	}
	s.mu.RUnlock()

	for _, rt := range s.roster.All() {
		st.Agents = append(st.Agents, rt.View())
	}
	return st
}

// AgentDetail returns the runtime view for one villager.
func (s *Scheduler) AgentDetail(agentID string) (agent.StateView, bool) {
	rt, ok := s.roster.Get(agentID)
	if !ok {
		return agent.StateView{}, false
	}
	return rt.View(), true
}
