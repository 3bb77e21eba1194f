package memory

import (
	"context"
	"time"
)

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	// AgentID matches records owned by this agent (memory/plan owner,
	// conversation sender).
	AgentID string
	// Audience matches conversations visible to this agent: broadcasts
	// plus messages sent to or from it. Ignored for other kinds.
	Audience string
	// Kinds restricts the record kinds returned. Empty means all.
	Kinds []Kind
	// MemoryType restricts memory records to one type.
	MemoryType MemoryType
	// Contains matches records whose text content includes the substring.
	Contains string
	// Since / Until bound the record timestamp (inclusive / exclusive).
	Since time.Time
	Until time.Time
	// AfterSeq returns only records appended after the given sequence.
	AfterSeq int64
	// Limit caps the number of records returned. Zero means no cap.
	Limit int
}

// Iterator is a lazy, finite, non-restartable sequence of records in
// recency order (highest sequence first).
type Iterator interface {
	// Next advances to the next record, reporting false at the end or
	// on error.
	Next() bool
	// Record returns the current record. Valid only after Next reports true.
	Record() Record
	// Err returns the first error encountered while iterating.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// Store is the durable, queryable log of village records. Appends are
// immediately visible to subsequent reads within the process, and the
// sequence numbers it assigns define the total order every Observe
// phase relies on.
type Store interface {
	// RegisterAgent adds an agent to the roster. Directed conversations
	// are validated against registered ids.
	RegisterAgent(ctx context.Context, id, name string) error

	// AppendMemory persists one memory record and returns its sequence.
	AppendMemory(ctx context.Context, m *Memory) (int64, error)

	// AppendConversation persists one conversation. A non-empty ToAgent
	// must name a registered agent, otherwise ErrUnknownReceiver.
	AppendConversation(ctx context.Context, c *Conversation) (int64, error)

	// AppendPlan persists one daily plan with status pending.
	AppendPlan(ctx context.Context, p *DailyPlan) (int64, error)

	// Query returns matching records, newest first.
	Query(ctx context.Context, f Filter) (Iterator, error)

	// PendingPlans returns an agent's pending plans ordered by priority
	// descending, then by append order.
	PendingPlans(ctx context.Context, agentID string) ([]*DailyPlan, error)

	// UpdatePlanStatus applies a status transition, enforcing that only
	// pending plans may move, and only to completed or skipped.
	UpdatePlanStatus(ctx context.Context, planID string, status PlanStatus) error

	// RetentionCleanup deletes records older than the horizon and
	// returns the number removed. This is the only deletion path.
	RetentionCleanup(ctx context.Context, horizon time.Time) (int64, error)

	Close(ctx context.Context) error
}

// Collect drains an iterator into a slice, closing it. Intended for
// call sites that want the whole result set.
func Collect(it Iterator) ([]Record, error) {
	defer it.Close()
	var out []Record
	for it.Next() {
		out = append(out, it.Record())
	}
	return out, it.Err()
}
