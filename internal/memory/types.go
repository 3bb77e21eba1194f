package memory

import "time"

// Kind discriminates the three record families sharing the village log.
type Kind string

const (
	KindMemory       Kind = "memory"
	KindConversation Kind = "conversation"
	KindPlan         Kind = "plan"
)

// MemoryType classifies what a memory captures.
type MemoryType string

const (
	MemoryObservation  MemoryType = "observation"
	MemoryPlan         MemoryType = "plan"
	MemoryAction       MemoryType = "action"
	MemoryReflection   MemoryType = "reflection"
	MemoryConversation MemoryType = "conversation"
	MemoryLearning     MemoryType = "learning"
	MemoryConcern      MemoryType = "concern"
)

// ConversationType classifies the social intent of a message.
type ConversationType string

const (
	ConvChat        ConversationType = "chat"
	ConvHelpRequest ConversationType = "help_request"
	ConvAdvice      ConversationType = "advice"
	ConvShare       ConversationType = "share"
)

// PlanStatus is the lifecycle state of a daily plan entry.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanCompleted PlanStatus = "completed"
	PlanSkipped   PlanStatus = "skipped"
)

// validTransition enforces the one-way plan lifecycle: pending entries
// may complete or be skipped, terminal states never move.
func validTransition(from, to PlanStatus) bool {
	return from == PlanPending && (to == PlanCompleted || to == PlanSkipped)
}

// Record is anything the store appends: memory, conversation, or plan.
// Sequence numbers are assigned by the store and define a total order
// across all three kinds.
type Record interface {
	Kind() Kind
	SeqNo() int64
	// Owner is the agent the record belongs to: the rememberer, the
	// sender, or the planner.
	Owner() string
}

// Memory is one entry in a villager's experience log.
type Memory struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	AgentID    string            `json:"agent_id"`
	Type       MemoryType        `json:"type"`
	Content    string            `json:"content"`
	Importance int               `json:"importance"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (m *Memory) Kind() Kind    { return KindMemory }
func (m *Memory) SeqNo() int64  { return m.Seq }
func (m *Memory) Owner() string { return m.AgentID }

// Conversation is one message between villagers. An empty ToAgent means
// a broadcast to the whole village group.
type Conversation struct {
	ID        string           `json:"id"`
	Seq       int64            `json:"seq"`
	FromAgent string           `json:"from_agent"`
	ToAgent   string           `json:"to_agent,omitempty"`
	Message   string           `json:"message"`
	Type      ConversationType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
}

func (c *Conversation) Kind() Kind    { return KindConversation }
func (c *Conversation) SeqNo() int64  { return c.Seq }
func (c *Conversation) Owner() string { return c.FromAgent }

// DailyPlan is one planned action awaiting execution.
type DailyPlan struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	AgentID   string     `json:"agent_id"`
	Action    string     `json:"action"`
	Priority  int        `json:"priority"`
	TimeSlot  string     `json:"time_slot,omitempty"`
	Status    PlanStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

func (p *DailyPlan) Kind() Kind    { return KindPlan }
func (p *DailyPlan) SeqNo() int64  { return p.Seq }
func (p *DailyPlan) Owner() string { return p.AgentID }
