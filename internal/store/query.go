package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/yuelin/mamavillage/internal/memory"
)

// Query returns matching records newest-first. The filter compiles to a
// single SELECT over the shared records table.
func (s *Store) Query(ctx context.Context, f memory.Filter) (memory.Iterator, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		where = append(where, "kind = ANY("+arg(kinds)+")")
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = "+arg(f.AgentID))
	}
	if f.Audience != "" {
		p := arg(f.Audience)
		where = append(where,
			"(kind = 'conversation' AND (to_agent IS NULL OR to_agent = "+p+" OR agent_id = "+p+"))")
	}
	if f.MemoryType != "" {
		where = append(where, "memory_type = "+arg(string(f.MemoryType)))
	}
	if f.Contains != "" {
		where = append(where, "content LIKE "+arg("%"+f.Contains+"%"))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < "+arg(f.Until))
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > "+arg(f.AfterSeq))
	}

	query := `
		SELECT seq, kind, id, agent_id, COALESCE(to_agent, ''),
		       COALESCE(memory_type, ''), COALESCE(conv_type, ''),
		       content, COALESCE(importance, 0), COALESCE(priority, 0),
		       COALESCE(time_slot, ''), COALESCE(plan_status, ''),
		       metadata, created_at
		FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	return &rowIterator{rows: rows}, nil
}

// rowIterator adapts pgx rows to the record iterator, decoding each row
// into its concrete kind lazily.
type rowIterator struct {
	rows    pgx.Rows
	current memory.Record
	err     error
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	r, err := scanRecord(it.rows)
	if err != nil {
		it.err = storageErr("scan record", err)
		return false
	}
	it.current = r
	return true
}

func (it *rowIterator) Record() memory.Record { return it.current }

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return storageErr("query", err)
	}
	return nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	return nil
}

func scanRecord(rows pgx.Rows) (memory.Record, error) {
	var (
		m          memory.Memory
		kind       string
		toAgent    string
		memoryType string
		convType   string
		priority   int
		timeSlot   string
		planStatus string
	)
	if err := rows.Scan(&m.Seq, &kind, &m.ID, &m.AgentID, &toAgent,
		&memoryType, &convType, &m.Content, &m.Importance, &priority,
		&timeSlot, &planStatus, &m.Metadata, &m.Timestamp); err != nil {
		return nil, err
	}

	switch memory.Kind(kind) {
	case memory.KindConversation:
		return &memory.Conversation{
			ID:        m.ID,
			Seq:       m.Seq,
			FromAgent: m.AgentID,
			ToAgent:   toAgent,
			Message:   m.Content,
			Type:      memory.ConversationType(convType),
			Timestamp: m.Timestamp,
		}, nil
	case memory.KindPlan:
		return &memory.DailyPlan{
			ID:        m.ID,
			Seq:       m.Seq,
			AgentID:   m.AgentID,
			Action:    m.Content,
			Priority:  priority,
			TimeSlot:  timeSlot,
			Status:    memory.PlanStatus(planStatus),
			CreatedAt: m.Timestamp,
		}, nil
	default:
		m.Type = memory.MemoryType(memoryType)
		return &m, nil
	}
}
