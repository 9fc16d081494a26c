package models

import "time"

// AgentID uniquely identifies an agent across the registry while it is
// alive (spec.md §3 invariant 1).
type AgentID string

// PromptFields are the agent's immutable role/style/constraints, from
// which SystemPrompt is re-derived on every restore (spec.md §3, §4.9).
type PromptFields struct {
	Role        string   `json:"role"`
	Style       string   `json:"style,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// AgentConfig is the immutable configuration an agent is spawned with.
type AgentConfig struct {
	AgentID             AgentID    `json:"agent_id"`
	TaskID              string     `json:"task_id"`
	ParentID            AgentID    `json:"parent_id,omitempty"`
	ModelPool           []ModelSpec `json:"model_pool"`
	CapabilityGroups    []string   `json:"capability_groups"`
	PromptFields        PromptFields `json:"prompt_fields"`
	MaxRefinementRounds int        `json:"max_refinement_rounds"`
	ProfileName         string     `json:"profile_name,omitempty"`

	// RawConfig round-trips the source system's atom-keyed config bag
	// through string keys (spec.md §6 restore contract: "config (a JSON
	// bag that round-trips atom-keyed config through string keys)").
	// Quoracle never interprets these keys itself; it persists and
	// restores them opaquely for profile-specific extensions.
	RawConfig map[string]string `json:"config,omitempty"`
}

// DefaultMaxRefinementRounds is applied when AgentConfig.MaxRefinementRounds
// is unset (spec.md §3: "default 4").
const DefaultMaxRefinementRounds = 4

// Normalize fills in defaults on a freshly-constructed AgentConfig.
func (c *AgentConfig) Normalize() {
	if c.MaxRefinementRounds <= 0 {
		c.MaxRefinementRounds = DefaultMaxRefinementRounds
	}
}

// PendingAction tracks one in-flight action dispatched by the router but
// not yet resolved (spec.md §3).
type PendingAction struct {
	Kind        string    `json:"kind"`
	AsyncAcked  bool      `json:"async_acked"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// QueuedMessage is a stimulus that arrived while an action was pending or
// consensus was already scheduled; it waits in FIFO order for the next
// consensus cycle's flush (spec.md §3 invariant 3, §5 ordering guarantees).
type QueuedMessage struct {
	Sender   AgentID   `json:"sender"`
	Content  string    `json:"content"`
	QueuedAt time.Time `json:"queued_at"`
}

// WaitTimer is the single armed timer tracked by an agent. Generation is
// incremented on every new arm so a stale WaitExpired event (spec.md §9
// "Timer generation counter") can be discarded.
type WaitTimer struct {
	TimerID    string `json:"timer_id"`
	Generation uint64 `json:"generation"`
}

// ChildRef records one spawned child in the tree (spec.md §3).
type ChildRef struct {
	ChildAgentID AgentID   `json:"child_agent_id"`
	SpawnedAt    time.Time `json:"spawned_at"`
}

// AgentState is the authoritative in-memory runtime record for one agent
// (spec.md §3). It is the payload owned exclusively by that agent's
// single-threaded event loop (internal/agentcore).
type AgentState struct {
	Config AgentConfig `json:"config"`

	ModelHistories map[ModelSpec][]HistoryEntry `json:"model_histories"`
	PendingActions map[string]PendingAction     `json:"pending_actions"`
	QueuedMessages []QueuedMessage              `json:"queued_messages"`
	WaitTimer      *WaitTimer                   `json:"wait_timer,omitempty"`

	ConsensusScheduled  bool `json:"consensus_scheduled"`
	ConsensusRetryCount int  `json:"consensus_retry_count"`

	ContextLessons map[ModelSpec][]Lesson  `json:"context_lessons"`
	ModelStates    map[ModelSpec]string    `json:"model_states"`

	Children   []ChildRef `json:"children"`
	Dismissing bool       `json:"dismissing"`

	Todos []string `json:"todos,omitempty"`

	// RestorationMode suppresses re-persistence on the first event after a
	// restore, so restoring N agents does not storm the store with N
	// redundant writes (spec.md §9).
	RestorationMode bool `json:"-"`
}

// NewAgentState builds a fresh, empty AgentState for the given config with
// one identical history slot per model in the pool (spec.md §3 invariant 1).
func NewAgentState(cfg AgentConfig) *AgentState {
	cfg.Normalize()
	st := &AgentState{
		Config:         cfg,
		ModelHistories: make(map[ModelSpec][]HistoryEntry, len(cfg.ModelPool)),
		PendingActions: make(map[string]PendingAction),
		ContextLessons: make(map[ModelSpec][]Lesson, len(cfg.ModelPool)),
		ModelStates:    make(map[ModelSpec]string, len(cfg.ModelPool)),
	}
	for _, m := range cfg.ModelPool {
		st.ModelHistories[m] = nil
		st.ContextLessons[m] = nil
	}
	return st
}

// AppendToAllHistories appends entry to every model's history (spec.md §3
// invariant 3: a stimulus is appended to every model's history immediately,
// or enqueued — never both, never dropped).
func (s *AgentState) AppendToAllHistories(entry HistoryEntry) {
	for m := range s.ModelHistories {
		s.ModelHistories[m] = append(s.ModelHistories[m], entry)
	}
}

// ModelPoolEqualsHistoryKeys reports whether invariant 1 holds: every key
// of ModelHistories is exactly the current model pool.
func (s *AgentState) ModelPoolEqualsHistoryKeys() bool {
	if len(s.ModelHistories) != len(s.Config.ModelPool) {
		return false
	}
	for _, m := range s.Config.ModelPool {
		if _, ok := s.ModelHistories[m]; !ok {
			return false
		}
	}
	return true
}
