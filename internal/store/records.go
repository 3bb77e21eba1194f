package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/memory"
)

func storageErr(op string, err error) error {
	return &memory.StorageError{Op: op, Err: err}
}

// RegisterAgent upserts one villager into the roster table.
func (s *Store) RegisterAgent(ctx context.Context, id, name string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, name, registered_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		id, name)
	if err != nil {
		return storageErr("register agent", err)
	}
	return nil
}

// AppendMemory persists one memory record and returns its sequence.
func (s *Store) AppendMemory(ctx context.Context, m *memory.Memory) (int64, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO records (id, kind, agent_id, memory_type, content, importance, metadata, created_at)
		VALUES ($1, 'memory', $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		m.ID, m.AgentID, string(m.Type), m.Content, m.Importance, m.Metadata, m.Timestamp,
	).Scan(&m.Seq)
	if err != nil {
		return 0, storageErr("append memory", err)
	}
	return m.Seq, nil
}

// AppendConversation persists one conversation. A directed message must
// name a registered agent; the check and the insert share one statement
// so a rejected receiver never consumes a sequence number.
func (s *Store) AppendConversation(ctx context.Context, c *memory.Conversation) (int64, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO records (id, kind, agent_id, to_agent, conv_type, content, created_at)
		SELECT $1, 'conversation', $2, NULLIF($3, ''), $4, $5, $6
		WHERE $3 = '' OR EXISTS (SELECT 1 FROM agents WHERE id = $3)
		RETURNING seq`,
		c.ID, c.FromAgent, c.ToAgent, string(c.Type), c.Message, c.Timestamp,
	).Scan(&c.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, memory.ErrUnknownReceiver
	}
	if err != nil {
		return 0, storageErr("append conversation", err)
	}
	return c.Seq, nil
}

// AppendPlan persists one daily plan with status pending.
func (s *Store) AppendPlan(ctx context.Context, p *memory.DailyPlan) (int64, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = memory.PlanPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO records (id, kind, agent_id, content, priority, time_slot, plan_status, created_at)
		VALUES ($1, 'plan', $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		p.ID, p.AgentID, p.Action, p.Priority, p.TimeSlot, string(p.Status), p.CreatedAt,
	).Scan(&p.Seq)
	if err != nil {
		return 0, storageErr("append plan", err)
	}
	return p.Seq, nil
}

// PendingPlans returns pending plans by priority descending, then append order.
func (s *Store) PendingPlans(ctx context.Context, agentID string) ([]*memory.DailyPlan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, seq, agent_id, content, priority, COALESCE(time_slot, ''), plan_status, created_at
		FROM records
		WHERE kind = 'plan' AND agent_id = $1 AND plan_status = 'pending'
		ORDER BY priority DESC, seq ASC`, agentID)
	if err != nil {
		return nil, storageErr("pending plans", err)
	}
	defer rows.Close()

	var out []*memory.DailyPlan
	for rows.Next() {
		var p memory.DailyPlan
		var status string
		if err := rows.Scan(&p.ID, &p.Seq, &p.AgentID, &p.Action, &p.Priority,
			&p.TimeSlot, &status, &p.CreatedAt); err != nil {
			return nil, storageErr("scan plan", err)
		}
		p.Status = memory.PlanStatus(status)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("pending plans", err)
	}
	return out, nil
}

// UpdatePlanStatus applies the one-way plan lifecycle in a single
// statement; the current status tells rejected calls apart.
func (s *Store) UpdatePlanStatus(ctx context.Context, planID string, status memory.PlanStatus) error {
	if status != memory.PlanCompleted && status != memory.PlanSkipped {
		return memory.ErrInvalidTransition
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE records SET plan_status = $2
		WHERE kind = 'plan' AND id = $1 AND plan_status = 'pending'`,
		planID, string(status))
	if err != nil {
		return storageErr("update plan status", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx,
		`SELECT plan_status FROM records WHERE kind = 'plan' AND id = $1`,
		planID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.ErrPlanNotFound
	}
	if err != nil {
		return storageErr("update plan status", err)
	}
	return memory.ErrInvalidTransition
}

// RetentionCleanup deletes records older than the horizon.
func (s *Store) RetentionCleanup(ctx context.Context, horizon time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM records WHERE created_at < $1`, horizon)
	if err != nil {
		return 0, storageErr("retention cleanup", err)
	}
	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.Info("retention cleanup",
			zap.Int64("removed", removed))
	}
	return removed, nil
}

// Close shuts down the connection pool.
func (s *Store) Close(_ context.Context) error {
	s.db.Close()
	return nil
}
