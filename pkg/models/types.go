// Package models provides the core data types shared across the Quoracle
// agent runtime: the per-model conversation history, lessons accumulated by
// ACE condensation, and the consensus decision envelope.
package models

import (
	"encoding/json"
	"time"
)

// ModelSpec identifies one LLM in an agent's model pool, e.g.
// "anthropic:claude-sonnet-4" or "openai:gpt-4o". It is opaque to the
// runtime beyond being a map key and a catalog lookup key.
type ModelSpec string

// HistoryEntryType discriminates the kind of content stored in a
// HistoryEntry (spec.md §3).
type HistoryEntryType string

const (
	HistoryPrompt   HistoryEntryType = "prompt"
	HistoryEvent    HistoryEntryType = "event"
	HistoryDecision HistoryEntryType = "decision"
	HistoryResult   HistoryEntryType = "result"
	HistoryUser     HistoryEntryType = "user"
	HistoryAssistant HistoryEntryType = "assistant"
	HistoryImage    HistoryEntryType = "image"
)

// HistoryEntry is one item in a per-model conversation history. All model
// histories start byte-identical and diverge only after a model's
// individual ACE condensation fires (spec.md §9).
type HistoryEntry struct {
	Type       HistoryEntryType `json:"type"`
	Content    string           `json:"content"`
	Timestamp  time.Time        `json:"timestamp"`
	ActionID   string           `json:"action_id,omitempty"`
	ActionType string           `json:"action_type,omitempty"`
}

// LessonType discriminates a Lesson as a fact or a behavior (spec.md §4.2).
type LessonType string

const (
	LessonFactual    LessonType = "factual"
	LessonBehavioral LessonType = "behavioral"
)

// Lesson is a durable, reusable nugget extracted from history about to be
// dropped by ACE condensation. Confidence increments on dedup merge and
// governs pruning order when the lesson list overflows (spec.md §4.3).
type Lesson struct {
	Type       LessonType `json:"type"`
	Content    string     `json:"content"`
	Confidence int        `json:"confidence"`
}

// Decision is the single action chosen at the end of a consensus cycle
// (spec.md §3, §6). Wait is one of: false/0 (continue immediately),
// true (block indefinitely), or a positive integer of milliseconds.
type Decision struct {
	Action           string          `json:"action"`
	Params           json.RawMessage `json:"params"`
	Reasoning        string          `json:"reasoning"`
	Wait             WaitValue       `json:"wait"`
	AutoCompleteTodo bool            `json:"auto_complete_todo,omitempty"`
}

// WaitValue represents the decision envelope's polymorphic "wait" field:
// false, true, or a non-negative integer of milliseconds. It round-trips
// through JSON as the envelope's raw wire shape.
type WaitValue struct {
	// Indefinite is true when wait=true: block until external input.
	Indefinite bool
	// Milliseconds is set when wait is a non-negative integer.
	Milliseconds int64
}

// IsImmediate reports whether this wait value means "continue immediately"
// (wait=false or wait=0). Per spec.md §9 Open Question (a), the two forms
// are treated as fully equivalent.
func (w WaitValue) IsImmediate() bool {
	return !w.Indefinite && w.Milliseconds == 0
}

// MarshalJSON encodes WaitValue as false, true, or an integer.
func (w WaitValue) MarshalJSON() ([]byte, error) {
	if w.Indefinite {
		return []byte("true"), nil
	}
	return json.Marshal(w.Milliseconds)
}

// UnmarshalJSON decodes false, true, or a non-negative integer into a
// WaitValue.
func (w *WaitValue) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*w = WaitValue{Indefinite: asBool}
		return nil
	}
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err != nil {
		return err
	}
	if asInt < 0 {
		asInt = 0
	}
	*w = WaitValue{Milliseconds: asInt}
	return nil
}

// WaitImmediate is the canonical "continue immediately" wait value.
func WaitImmediate() WaitValue { return WaitValue{} }

// WaitIndefinite is the canonical "block until external input" wait value.
func WaitIndefinite() WaitValue { return WaitValue{Indefinite: true} }

// WaitFor builds a timed-suspension wait value.
func WaitFor(d time.Duration) WaitValue {
	if d <= 0 {
		return WaitImmediate()
	}
	return WaitValue{Milliseconds: d.Milliseconds()}
}
