package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	var buf syncBuffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// logLines decodes every JSON log line with the given level.
func logLines(t *testing.T, buf *syncBuffer, level string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewBufferString(buf.String()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		if m["level"] == level {
			out = append(out, m)
		}
	}
	return out
}

type recordingInbox struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (r *recordingInbox) Deliver(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *recordingInbox) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestCommandDispatcherForwardsPayloadUnmodified(t *testing.T) {
	logger, _ := newTestLogger()
	reg := NewRegistry()
	inbox := &recordingInbox{}
	require.NoError(t, reg.Register("survey_application", inbox))

	d := NewCommandDispatcher(reg, logger)
	payload := []byte(`{"worker_name":"survey_application","command":"collect_metrics","args":[1],"kwargs":{"x":"y"},"extra":true}`)
	d.DispatchRaw(context.Background(), payload)

	require.Equal(t, 1, inbox.count())
	assert.Equal(t, payload, inbox.payloads[0])
}

func TestCommandDispatcherUnroutableLogsOnceAndDrops(t *testing.T) {
	logger, buf := newTestLogger()
	reg := NewRegistry()
	other := &recordingInbox{}
	require.NoError(t, reg.Register("bulk_message_application", other))

	d := NewCommandDispatcher(reg, logger)
	d.DispatchRaw(context.Background(), []byte(`{"worker_name":"ghost_application","command":"reconcile_cache","args":[],"kwargs":{}}`))

	errs := logLines(t, buf, "ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "unroutable command", errs[0]["msg"])
	assert.Equal(t, "ghost_application", errs[0]["worker_name"])
	assert.Equal(t, "reconcile_cache", errs[0]["command"])

	assert.Equal(t, 0, other.count())
	assert.Equal(t, []string{"bulk_message_application"}, reg.Names())
}

func TestCommandDispatcherMalformedIsLoggedAndDropped(t *testing.T) {
	logger, buf := newTestLogger()
	reg := NewRegistry()
	inbox := &recordingInbox{}
	require.NoError(t, reg.Register("w", inbox))

	d := NewCommandDispatcher(reg, logger)
	assert.NotPanics(t, func() {
		d.DispatchRaw(context.Background(), []byte(`{"command":"collect_metrics"}`))
		d.DispatchRaw(context.Background(), []byte(`not json`))
	})

	assert.Len(t, logLines(t, buf, "ERROR"), 2)
	assert.Equal(t, 0, inbox.count())
}

func TestCommandDispatcherSend(t *testing.T) {
	logger, _ := newTestLogger()
	reg := NewRegistry()
	inbox := &recordingInbox{}
	require.NoError(t, reg.Register("w", inbox))
	d := NewCommandDispatcher(reg, logger)

	require.NoError(t, d.Send(context.Background(), protocol.Command{WorkerName: "w", Command: "ping"}))
	cmd, err := protocol.DecodeCommand(inbox.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "ping", cmd.Command)

	err = d.Send(context.Background(), protocol.Command{WorkerName: "nobody", Command: "ping"})
	assert.True(t, errors.Is(err, ErrUnroutable))
}

func TestCommandDispatcherDeliveryFailureIsNotRetried(t *testing.T) {
	logger, buf := newTestLogger()
	reg := NewRegistry()
	inbox := &recordingInbox{err: errors.New("broker down")}
	require.NoError(t, reg.Register("w", inbox))

	d := NewCommandDispatcher(reg, logger)
	d.DispatchRaw(context.Background(), []byte(`{"worker_name":"w","command":"c"}`))

	assert.Equal(t, 1, inbox.count())
	assert.Len(t, logLines(t, buf, "ERROR"), 1)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("a", &recordingInbox{}))
	assert.Error(t, reg.Register("a", &recordingInbox{}))
	assert.Error(t, reg.Register("", &recordingInbox{}))
	assert.Error(t, reg.Register("b", nil))

	_, ok := reg.Lookup("a")
	assert.True(t, ok)
	reg.Unregister("a")
	_, ok = reg.Lookup("a")
	assert.False(t, ok)
}
