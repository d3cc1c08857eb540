package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"worker_name":"bulk_message_application","command":"collect_metrics","args":[],"kwargs":{"user_account_key":"acc-1","conversation_key":"conv-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "bulk_message_application", cmd.WorkerName)
	assert.Equal(t, "collect_metrics", cmd.Command)
	assert.Equal(t, "acc-1", cmd.Kwarg("user_account_key"))
	assert.Equal(t, "", cmd.Kwarg("missing"))
}

func TestDecodeCommandMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing worker", `{"command":"x"}`},
		{"missing command", `{"worker_name":"w"}`},
		{"blank worker", `{"worker_name":"  ","command":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tt.data))
			assert.True(t, errors.Is(err, ErrMalformed), "err = %v", err)
		})
	}
}

func TestEncodeCommandFillsWireShape(t *testing.T) {
	raw, err := EncodeCommand(Command{WorkerName: "w", Command: "c"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, []any{}, m["args"])
	assert.Equal(t, map[string]any{}, m["kwargs"])
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"account_key":"acc","conversation_key":"conv","event_type":"new_contact","content":{"msisdn":"+27"}}`))
	require.NoError(t, err)
	assert.Equal(t, "new_contact", ev.EventType)
	assert.Equal(t, "+27", ev.Content["msisdn"])

	_, err = DecodeEvent([]byte(`{"conversation_key":"conv"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"message_id":"m1","content":"hi","session_event":"resume","helper_metadata":{"account_key":"acc","tag_pool":"pool","tag":"t1"}}`))
	require.NoError(t, err)
	assert.Equal(t, SessionResume, msg.SessionEvent)
	assert.True(t, msg.InSession())
	assert.Equal(t, "pool", msg.Metadata.TagPool)

	_, err = DecodeMessage([]byte(`{"content":"hi"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestControlSubject(t *testing.T) {
	assert.Equal(t, "survey_application.control", ControlSubject("survey_application"))
}

func TestNewMessageIDUnique(t *testing.T) {
	a, b := NewMessageID(), NewMessageID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}
