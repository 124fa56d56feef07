package bus

import "github.com/kskip310/luminous/pkg/state"

// Kind names an event type.
type Kind string

const (
	KindStatePatch    Kind = "state.patch"
	KindStateReplace  Kind = "state.replace"
	KindLogEntry      Kind = "log.entry"
	KindMessageAppend Kind = "message.append"
	// KindMessageChunk is part of the client protocol; mirrors fold it into
	// the message it extends. Providers here reply in one piece.
	KindMessageChunk Kind = "message.chunk"
	KindHistoryPage   Kind = "history.page"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is a user-visible log line.
type LogEntry struct {
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// MessageChunk extends an in-progress message with streamed text.
type MessageChunk struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// Event is one published occurrence. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Seq       int64             `json:"seq"`
	Kind      Kind              `json:"kind"`
	Identity  string            `json:"identity,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Patch     state.Patch       `json:"patch,omitempty"`
	State     *state.AgentState `json:"state,omitempty"`
	Log       *LogEntry         `json:"log,omitempty"`
	Message   *state.Message    `json:"message,omitempty"`
	Chunk     *MessageChunk     `json:"chunk,omitempty"`
	Data      any               `json:"data,omitempty"`
}

// PatchEvent builds a state-patch event.
func PatchEvent(identity string, patch state.Patch) Event {
	return Event{Kind: KindStatePatch, Identity: identity, Patch: patch}
}

// ReplaceEvent builds a full-state-replace event carrying a copy of s.
func ReplaceEvent(identity string, s state.AgentState) Event {
	c := s.Clone()
	return Event{Kind: KindStateReplace, Identity: identity, State: &c}
}

// LogEvent builds a log-entry event.
func LogEvent(identity string, level Level, message string, fields map[string]any) Event {
	return Event{Kind: KindLogEntry, Identity: identity, Log: &LogEntry{Level: level, Message: message, Fields: fields}}
}

// MessageEvent builds a message-append event.
func MessageEvent(identity string, msg state.Message) Event {
	return Event{Kind: KindMessageAppend, Identity: identity, Message: &msg}
}

