package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemStore is an in-process Store kept in append order. It backs unit
// tests and runs that do not need durability.
type MemStore struct {
	mu      sync.RWMutex
	seq     int64
	records []Record
	plans   map[string]*DailyPlan
	roster  map[string]string // id -> name
	closed  bool
	logger  *zap.Logger
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(logger *zap.Logger) *MemStore {
	return &MemStore{
		plans:  make(map[string]*DailyPlan),
		roster: make(map[string]string),
		logger: logger,
	}
}

// RegisterAgent adds an agent id to the roster.
func (s *MemStore) RegisterAgent(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.roster[id] = name
	return nil
}

// AppendMemory persists one memory record.
func (s *MemStore) AppendMemory(_ context.Context, m *Memory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.seq++
	m.Seq = s.seq
	s.records = append(s.records, m)
	return m.Seq, nil
}

// AppendConversation persists one conversation after validating the receiver.
func (s *MemStore) AppendConversation(_ context.Context, c *Conversation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if c.ToAgent != "" {
		if _, ok := s.roster[c.ToAgent]; !ok {
			return 0, ErrUnknownReceiver
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	s.seq++
	c.Seq = s.seq
	s.records = append(s.records, c)
	return c.Seq, nil
}

// AppendPlan persists one daily plan.
func (s *MemStore) AppendPlan(_ context.Context, p *DailyPlan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = PlanPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.seq++
	p.Seq = s.seq
	s.plans[p.ID] = p
	s.records = append(s.records, p)
	return p.Seq, nil
}

// Query returns matching records newest-first over a snapshot taken at
// call time.
func (s *MemStore) Query(_ context.Context, f Filter) (Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var matched []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if matches(r, f) {
			matched = append(matched, r)
			if f.Limit > 0 && len(matched) >= f.Limit {
				break
			}
		}
	}
	return &sliceIterator{records: matched}, nil
}

// PendingPlans returns pending plans by priority descending, then append order.
func (s *MemStore) PendingPlans(_ context.Context, agentID string) ([]*DailyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []*DailyPlan
	for _, r := range s.records {
		p, ok := r.(*DailyPlan)
		if ok && p.AgentID == agentID && p.Status == PlanPending {
			out = append(out, p)
		}
	}
	// Insertion sort keeps append order stable within equal priorities.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority > out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// UpdatePlanStatus applies a validated status transition.
func (s *MemStore) UpdatePlanStatus(_ context.Context, planID string, status PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	p, ok := s.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	if !validTransition(p.Status, status) {
		return ErrInvalidTransition
	}
	p.Status = status
	return nil
}

// RetentionCleanup removes records older than the horizon.
func (s *MemStore) RetentionCleanup(_ context.Context, horizon time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if recordTime(r).Before(horizon) {
			removed++
			if p, ok := r.(*DailyPlan); ok {
				delete(s.plans, p.ID)
			}
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	if removed > 0 && s.logger != nil {
		s.logger.Info("retention cleanup",
			zap.Int64("removed", removed),
			zap.Time("horizon", horizon))
	}
	return removed, nil
}

// Close marks the store closed. Further operations return ErrClosed.
func (s *MemStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func recordTime(r Record) time.Time {
	switch v := r.(type) {
	case *Memory:
		return v.Timestamp
	case *Conversation:
		return v.Timestamp
	case *DailyPlan:
		return v.CreatedAt
	}
	return time.Time{}
}

func recordText(r Record) string {
	switch v := r.(type) {
	case *Memory:
		return v.Content
	case *Conversation:
		return v.Message
	case *DailyPlan:
		return v.Action
	}
	return ""
}

func matches(r Record, f Filter) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if r.Kind() == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AgentID != "" && r.Owner() != f.AgentID {
		return false
	}
	if f.Audience != "" {
		c, ok := r.(*Conversation)
		if !ok {
			return false
		}
		if c.ToAgent != "" && c.ToAgent != f.Audience && c.FromAgent != f.Audience {
			return false
		}
	}
	if f.MemoryType != "" {
		m, ok := r.(*Memory)
		if !ok || m.Type != f.MemoryType {
			return false
		}
	}
	if f.Contains != "" && !strings.Contains(recordText(r), f.Contains) {
		return false
	}
	ts := recordTime(r)
	if !f.Since.IsZero() && ts.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ts.Before(f.Until) {
		return false
	}
	if f.AfterSeq > 0 && r.SeqNo() <= f.AfterSeq {
		return false
	}
	return true
}

// sliceIterator walks a pre-filtered snapshot.
type sliceIterator struct {
	records []Record
	pos     int
	current Record
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.current = it.records[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Record() Record { return it.current }
func (it *sliceIterator) Err() error     { return nil }
func (it *sliceIterator) Close() error   { return nil }
