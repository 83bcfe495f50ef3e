// Package history implements the multi-channel conversation store: messages,
// tool-call state, summaries, and the deterministic reducer that folds
// InternalUpdates documents back into a History snapshot.
package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ToolState internal statuses, forming the lifecycle described for a ToolCall.
const (
	ToolUnconfirmed = "unconfirmed"
	ToolConfirmed   = "confirmed"
	ToolCanceled    = "canceled"
	ToolRejected    = "rejected"
	ToolProcessing  = "processing"
	ToolCompleted   = "completed"
	ToolFailed      = "failed"
)

// External statuses derived from internal ones.
const (
	ExternalSuccess = "success"
	ExternalError   = "error"
)

// ExternalStatusFor maps an internal tool status to its external counterpart:
// completed maps to success, everything else maps to error.
func ExternalStatusFor(internal string) string {
	if internal == ToolCompleted {
		return ExternalSuccess
	}
	return ExternalError
}

// ToolCall is a structured external action requested by an Agent message.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolState is the per-call execution record owned by its hosting Agent message.
type ToolState struct {
	InternalStatus string `json:"internal_status"`
	ExternalStatus string `json:"external_status"`
	Content        string `json:"content,omitempty"`
}

// NewToolState returns the default placeholder state a newly-inserted
// ToolCall receives: unconfirmed, with no external status or content yet.
func NewToolState() *ToolState {
	return &ToolState{InternalStatus: ToolUnconfirmed}
}

// Message is the tagged-variant message type: exactly one of HumanMessage,
// AgentMessage or SystemMessage implements it.
type Message interface {
	Kind() string
	GetDate() time.Time
	SetDate(time.Time)
	Clone() Message
}

// HumanMessage is a message authored by an external user.
type HumanMessage struct {
	MessageID string    `json:"message_id"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	Date      time.Time `json:"date"`
	Summary   string    `json:"summary,omitempty"`
}

func (m *HumanMessage) Kind() string          { return "human" }
func (m *HumanMessage) GetDate() time.Time    { return m.Date }
func (m *HumanMessage) SetDate(t time.Time)   { m.Date = t }
func (m *HumanMessage) Clone() Message        { c := *m; return &c }

// NewHumanMessage builds a HumanMessage whose MessageID is a fresh uuid v4.
func NewHumanMessage(author, content string, date time.Time) *HumanMessage {
	return &HumanMessage{MessageID: uuid.NewString(), Author: author, Content: content, Date: date}
}

// AgentMessage is a message authored by the runtime itself.
type AgentMessage struct {
	Content    string                `json:"content"`
	Date       time.Time             `json:"date"`
	Activity   string                `json:"activity,omitempty"`
	ToolCalls  []ToolCall            `json:"tool_calls,omitempty"`
	ToolStates map[string]*ToolState `json:"tool_states,omitempty"`
	Summary    string                `json:"summary,omitempty"`
}

func (m *AgentMessage) Kind() string        { return "agent" }
func (m *AgentMessage) GetDate() time.Time  { return m.Date }
func (m *AgentMessage) SetDate(t time.Time) { m.Date = t }
func (m *AgentMessage) Clone() Message {
	c := *m
	c.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	c.ToolStates = make(map[string]*ToolState, len(m.ToolStates))
	for k, v := range m.ToolStates {
		vv := *v
		c.ToolStates[k] = &vv
	}
	return &c
}

// NewAgentMessage builds an AgentMessage, ensuring every tool call gets a
// default unconfirmed ToolState (the constructor invariant in spec §4.1).
func NewAgentMessage(content string, date time.Time, activity string, calls []ToolCall) *AgentMessage {
	m := &AgentMessage{Content: content, Date: date, Activity: activity, ToolCalls: calls}
	m.ToolStates = make(map[string]*ToolState, len(calls))
	for _, c := range calls {
		m.ToolStates[c.ID] = NewToolState()
	}
	return m
}

// SystemMessage is a transient or informational message. Lifespan, when
// non-nil, is decremented by the cleanup stage and the message is deleted
// when it would reach zero.
type SystemMessage struct {
	Author   string    `json:"author,omitempty"`
	Content  string    `json:"content"`
	Date     time.Time `json:"date"`
	Lifespan *int      `json:"lifespan,omitempty"`
}

func (m *SystemMessage) Kind() string        { return "system" }
func (m *SystemMessage) GetDate() time.Time  { return m.Date }
func (m *SystemMessage) SetDate(t time.Time) { m.Date = t }
func (m *SystemMessage) Clone() Message {
	c := *m
	if m.Lifespan != nil {
		l := *m.Lifespan
		c.Lifespan = &l
	}
	return &c
}

// NewToolUpdatedMessage builds the transient "#toolupdated#<id>" system
// message the reducer appends when a tool result lands on a non-last Agent
// message (spec §4.1).
func NewToolUpdatedMessage(toolCallID string, date time.Time) *SystemMessage {
	lifespan := 1
	return &SystemMessage{Content: "#toolupdated#" + toolCallID, Date: date, Lifespan: &lifespan}
}

// wireMessage is the JSON-on-the-wire envelope used to serialize/deserialize
// the Message interface with its kind discriminant.
type wireMessage struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalMessage encodes a Message with its kind discriminant.
func MarshalMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Kind: m.Kind(), Data: data})
}

// UnmarshalMessage decodes a Message previously encoded by MarshalMessage.
func UnmarshalMessage(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch w.Kind {
	case "human":
		var m HumanMessage
		if err := json.Unmarshal(w.Data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case "agent":
		var m AgentMessage
		if err := json.Unmarshal(w.Data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case "system":
		var m SystemMessage
		if err := json.Unmarshal(w.Data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, &UnknownMessageKindError{Kind: w.Kind}
	}
}

// UnknownMessageKindError is a Structural error (spec §7): the reducer must
// abort without mutating state when it encounters one.
type UnknownMessageKindError struct{ Kind string }

func (e *UnknownMessageKindError) Error() string { return "history: unknown message kind " + e.Kind }
