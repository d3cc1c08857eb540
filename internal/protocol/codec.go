package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformed wraps every decode failure caused by a bad payload.
var ErrMalformed = errors.New("malformed payload")

// DecodeCommand parses and validates a command payload.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: command: %v", ErrMalformed, err)
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// Validate checks the required command fields.
func (c Command) Validate() error {
	if strings.TrimSpace(c.WorkerName) == "" {
		return fmt.Errorf("%w: command missing worker_name", ErrMalformed)
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: command missing command name", ErrMalformed)
	}
	return nil
}

// EncodeCommand serializes a command, filling empty args/kwargs so consumers
// always see the full wire shape.
func EncodeCommand(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Args == nil {
		c.Args = []any{}
	}
	if c.Kwargs == nil {
		c.Kwargs = map[string]any{}
	}
	return json.Marshal(c)
}

// DecodeEvent parses and validates an event payload.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: event: %v", ErrMalformed, err)
	}
	if ev.AccountKey == "" || ev.EventType == "" {
		return ev, fmt.Errorf("%w: event missing account_key or event_type", ErrMalformed)
	}
	return ev, nil
}

// EncodeEvent serializes an event.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev.Content == nil {
		ev.Content = map[string]any{}
	}
	return json.Marshal(ev)
}

// DecodeMessage parses a message payload.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: message: %v", ErrMalformed, err)
	}
	if msg.MessageID == "" {
		return msg, fmt.Errorf("%w: message missing message_id", ErrMalformed)
	}
	return msg, nil
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
