package models

import "time"

// RuntimeEventType identifies a published lifecycle event (spec.md §6).
type RuntimeEventType string

const (
	EventAgentSpawned    RuntimeEventType = "agent_spawned"
	EventAgentDismissed  RuntimeEventType = "agent_dismissed"
	EventAgentTerminated RuntimeEventType = "agent_terminated"
	EventStateChange     RuntimeEventType = "state_change"

	EventMessageReceived RuntimeEventType = "message_received"
	EventMessageProcessed RuntimeEventType = "message_processed"
	EventMessageSent     RuntimeEventType = "message_sent"

	EventTodosUpdated RuntimeEventType = "todos_updated"

	EventUserMessage RuntimeEventType = "user_message"

	EventActionCompleted RuntimeEventType = "action_completed"
)

// RuntimeEvent is the unified envelope published on the event bus
// (spec.md §6 "Published events"). Exactly one payload field is populated
// for a given Type, mirroring the discriminated-union style the runtime
// uses everywhere else.
type RuntimeEvent struct {
	Type      RuntimeEventType `json:"type"`
	Topic     string           `json:"topic"`
	AgentID   AgentID          `json:"agent_id,omitempty"`
	TaskID    string           `json:"task_id,omitempty"`
	Time      time.Time        `json:"time"`

	StateChange     *StateChangePayload     `json:"state_change,omitempty"`
	Message         *MessageEventPayload    `json:"message,omitempty"`
	Todos           []string                `json:"todos,omitempty"`
	ActionCompleted *ActionCompletedPayload `json:"action_completed,omitempty"`
	Reason          string                  `json:"reason,omitempty"`
}

// AgentRuntimeState is the coarse agent-level state (spec.md §4.8).
type AgentRuntimeState string

const (
	StateReady      AgentRuntimeState = "ready"
	StateProcessing AgentRuntimeState = "processing"
	StateWaiting    AgentRuntimeState = "waiting"
)

// StateChangePayload accompanies EventStateChange.
type StateChangePayload struct {
	Old AgentRuntimeState `json:"old"`
	New AgentRuntimeState `json:"new"`
}

// MessageEventPayload accompanies the messages:<id> topic events.
type MessageEventPayload struct {
	Sender  AgentID `json:"sender,omitempty"`
	Content string  `json:"content"`
}

// ActionCompletedPayload accompanies EventActionCompleted on actions:all.
type ActionCompletedPayload struct {
	ActionID string          `json:"action_id"`
	Result   ResultEnvelope  `json:"result"`
}

// ResultEnvelope is what the Action Router returns for a completed action
// (spec.md §4.7), before any NO_EXECUTE wrapping applied by the core.
type ResultEnvelope struct {
	OK      bool   `json:"ok"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// LogLevel mirrors the logging channel's structured record levels
// (spec.md §6 "Logging channel").
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogRecord is the structured logging-channel payload (spec.md §6):
// {level, agent_id, message, metadata}.
type LogRecord struct {
	Level    LogLevel       `json:"level"`
	AgentID  AgentID        `json:"agent_id,omitempty"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
