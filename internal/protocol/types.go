package protocol

import "time"

// ControlSuffix is appended to a worker name to form its control subject.
const ControlSuffix = ".control"

// ControlSubject returns the routing key of a worker's control inbox.
func ControlSubject(workerName string) string {
	return workerName + ControlSuffix
}

// Command is a fire-and-forget control instruction addressed to exactly one
// worker's control inbox.
type Command struct {
	WorkerName string         `json:"worker_name"`
	Command    string         `json:"command"`
	Args       []any          `json:"args"`
	Kwargs     map[string]any `json:"kwargs"`
}

// Kwarg returns a string keyword argument, or "" when absent or not a string.
func (c Command) Kwarg(name string) string {
	if c.Kwargs == nil {
		return ""
	}
	s, _ := c.Kwargs[name].(string)
	return s
}

// Event is an account-scoped domain event. It is not addressed to a worker;
// fan-out is resolved from the account's handler configuration.
type Event struct {
	AccountKey      string         `json:"account_key"`
	ConversationKey string         `json:"conversation_key"`
	EventType       string         `json:"event_type"`
	Content         map[string]any `json:"content"`
}

// Direction of a message relative to the platform.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// SessionEvent marks the position of a message within a USSD session.
type SessionEvent string

const (
	SessionNone   SessionEvent = ""
	SessionNew    SessionEvent = "new"
	SessionResume SessionEvent = "resume"
	SessionClose  SessionEvent = "close"
)

// Message is a user message flowing between a channel and a conversation.
type Message struct {
	MessageID     string       `json:"message_id"`
	InReplyTo     string       `json:"in_reply_to,omitempty"`
	ToAddr        string       `json:"to_addr"`
	FromAddr      string       `json:"from_addr"`
	Content       string       `json:"content"`
	SessionEvent  SessionEvent `json:"session_event,omitempty"`
	TransportName string       `json:"transport_name,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	Metadata      Metadata     `json:"helper_metadata"`
}

// Metadata carries the routing and billing annotations attached to a message
// as it moves through the platform.
type Metadata struct {
	AccountKey string `json:"account_key,omitempty"`
	TagPool    string `json:"tag_pool,omitempty"`
	Tag        string `json:"tag,omitempty"`
	Provider   string `json:"provider,omitempty"`

	SessionStart *time.Time `json:"session_start,omitempty"`
	SessionEnd   *time.Time `json:"session_end,omitempty"`

	// Paid is set once a billing transaction has been recorded for the message.
	Paid bool `json:"paid,omitempty"`
}

// InSession reports whether the message belongs to an already open session.
func (m Message) InSession() bool {
	return m.SessionEvent == SessionResume || m.SessionEvent == SessionClose
}
