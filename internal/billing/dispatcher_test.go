package billing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T, level string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	raw := b.buf.String()
	b.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewBufferString(raw))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		if m["level"] == level {
			out = append(out, m)
		}
	}
	return out
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	var buf syncBuffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

type recordingForwarder struct {
	mu       sync.Mutex
	inbound  []protocol.Message
	outbound []protocol.Message
}

func (f *recordingForwarder) ForwardInbound(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, msg)
	return nil
}

func (f *recordingForwarder) ForwardOutbound(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, msg)
	return nil
}

// billingService is a fake billing REST endpoint. The first failures
// requests are answered by hijacking and closing the connection.
type billingService struct {
	failures int32
	status   int
	cutoff   bool

	calls    atomic.Int32
	mu       sync.Mutex
	recorded []TransactionRequest
}

func (s *billingService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)
	if n <= s.failures {
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("hijack unsupported")
		}
		conn, _, _ := hj.Hijack()
		_ = conn.Close()
		return
	}
	if s.status != 0 && s.status != http.StatusOK {
		http.Error(w, "ledger unavailable", s.status)
		return
	}

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.recorded = append(s.recorded, req)
	s.mu.Unlock()

	_ = json.NewEncoder(w).Encode(TransactionResponse{
		Transaction:         Transaction{ID: "tx-1", AccountNumber: req.AccountNumber, MessageID: req.MessageID, Status: "Completed"},
		CreditCutoffReached: s.cutoff,
	})
}

func (s *billingService) transactions() []TransactionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransactionRequest(nil), s.recorded...)
}

type fixture struct {
	svc     *billingService
	fwd     *recordingForwarder
	d       *Dispatcher
	logs    *syncBuffer
	hub     *events.Hub
	baseURL string
}

func newFixture(t *testing.T, svc *billingService) *fixture {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	logger, buf := newTestLogger()
	hub := events.NewHub(16)
	client := NewClient(srv.URL, WithRetryDelay(10*time.Millisecond), WithLogger(logger), WithToken("secret"))
	fwd := &recordingForwarder{}
	d, err := NewDispatcher(Options{Billing: client, Forwarder: fwd, Events: hub, Logger: logger})
	require.NoError(t, err)
	return &fixture{svc: svc, fwd: fwd, d: d, logs: buf, hub: hub, baseURL: srv.URL}
}

func message(session protocol.SessionEvent) protocol.Message {
	return protocol.Message{
		MessageID:    protocol.NewMessageID(),
		ToAddr:       "+27831234567",
		FromAddr:     "*120*99#",
		Content:      "hello",
		SessionEvent: session,
		Metadata: protocol.Metadata{
			AccountKey: "acc-1",
			TagPool:    "ussd_pool",
			Tag:        "*120*99#",
			Provider:   "mtn",
		},
	}
}

func TestRetryAfterSingleNetworkFailureRecordsOneTransaction(t *testing.T) {
	f := newFixture(t, &billingService{failures: 1})

	require.NoError(t, f.d.ProcessInbound(context.Background(), message(protocol.SessionNone)))

	assert.Equal(t, int32(2), f.svc.calls.Load())
	assert.Len(t, f.svc.transactions(), 1)
	require.Len(t, f.fwd.inbound, 1)
	assert.True(t, f.fwd.inbound[0].Metadata.Paid)
	assert.Empty(t, f.logs.lines(t, "ERROR"))
	assert.Equal(t, int64(1), f.d.Stats().Billed)
}

func TestTwoNetworkFailuresForwardUnbilledWithOneError(t *testing.T) {
	f := newFixture(t, &billingService{failures: 2})

	require.NoError(t, f.d.ProcessOutbound(context.Background(), message(protocol.SessionNone)))

	assert.Equal(t, int32(2), f.svc.calls.Load())
	assert.Empty(t, f.svc.transactions())
	require.Len(t, f.fwd.outbound, 1)
	assert.False(t, f.fwd.outbound[0].Metadata.Paid)
	assert.Len(t, f.logs.lines(t, "ERROR"), 1)
}

func TestServiceErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, &billingService{status: http.StatusInternalServerError})

	require.NoError(t, f.d.ProcessInbound(context.Background(), message(protocol.SessionNone)))

	assert.Equal(t, int32(1), f.svc.calls.Load())
	assert.Len(t, f.fwd.inbound, 1)
	errs := f.logs.lines(t, "ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "service", errs[0]["kind"])
}

func TestCutoffOutboundNewSessionIsDropped(t *testing.T) {
	f := newFixture(t, &billingService{cutoff: true})

	require.NoError(t, f.d.ProcessOutbound(context.Background(), message(protocol.SessionNew)))

	assert.Empty(t, f.fwd.outbound)
	assert.Len(t, f.svc.transactions(), 1)
	assert.Equal(t, int64(1), f.d.Stats().CutoffDrops)
}

func TestCutoffOutboundOutsideSessionIsDropped(t *testing.T) {
	f := newFixture(t, &billingService{cutoff: true})
	require.NoError(t, f.d.ProcessOutbound(context.Background(), message(protocol.SessionNone)))
	assert.Empty(t, f.fwd.outbound)
}

func TestCutoffOutboundResumeBecomesClosingNotice(t *testing.T) {
	f := newFixture(t, &billingService{cutoff: true})

	require.NoError(t, f.d.ProcessOutbound(context.Background(), message(protocol.SessionResume)))

	require.Len(t, f.fwd.outbound, 1)
	got := f.fwd.outbound[0]
	assert.Equal(t, DefaultCutoffNotice, got.Content)
	assert.Equal(t, protocol.SessionClose, got.SessionEvent)

	evs := f.hub.SnapshotSince(0)
	require.Len(t, evs, 1)
	assert.Equal(t, "billing.cutoff", evs[0].Type)
}

func TestCutoffInboundPassesThroughUnchanged(t *testing.T) {
	f := newFixture(t, &billingService{cutoff: true})
	msg := message(protocol.SessionResume)
	msg.Content = "STOP"

	require.NoError(t, f.d.ProcessInbound(context.Background(), msg))

	require.Len(t, f.fwd.inbound, 1)
	assert.Equal(t, "STOP", f.fwd.inbound[0].Content)
	assert.Equal(t, protocol.SessionResume, f.fwd.inbound[0].SessionEvent)
}

func TestMissingMetadataForwardsUnbilled(t *testing.T) {
	f := newFixture(t, &billingService{})
	msg := message(protocol.SessionNone)
	msg.Metadata.Tag = ""

	require.NoError(t, f.d.ProcessOutbound(context.Background(), msg))

	assert.Equal(t, int32(0), f.svc.calls.Load())
	assert.Len(t, f.fwd.outbound, 1)
	assert.Len(t, f.logs.lines(t, "ERROR"), 1)
}

func TestAlreadyPaidIsNotBilledTwice(t *testing.T) {
	f := newFixture(t, &billingService{})
	msg := message(protocol.SessionNone)

	require.NoError(t, f.d.ProcessOutbound(context.Background(), msg))
	require.NoError(t, f.d.ProcessOutbound(context.Background(), f.fwd.outbound[0]))

	assert.Len(t, f.svc.transactions(), 1)
	assert.Len(t, f.fwd.outbound, 2)
	assert.Equal(t, int64(1), f.d.Stats().AlreadyPaid)
}

func TestSessionFieldsInRequest(t *testing.T) {
	f := newFixture(t, &billingService{})

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)
	withBoth := message(protocol.SessionNew)
	withBoth.Metadata.SessionStart = &start
	withBoth.Metadata.SessionEnd = &end
	require.NoError(t, f.d.ProcessInbound(context.Background(), withBoth))

	onlyStart := message(protocol.SessionResume)
	onlyStart.Metadata.SessionStart = &start
	require.NoError(t, f.d.ProcessInbound(context.Background(), onlyStart))

	txs := f.svc.transactions()
	require.Len(t, txs, 2)
	assert.True(t, txs[0].SessionCreated)
	require.NotNil(t, txs[0].SessionLength)
	assert.Equal(t, 42.0, *txs[0].SessionLength)
	assert.Equal(t, "Inbound", txs[0].MessageDirection)
	assert.Equal(t, TransactionTypeMessage, txs[0].TransactionType)
	assert.False(t, txs[1].SessionCreated)
	assert.Nil(t, txs[1].SessionLength)
}

type resolverFunc func(ctx context.Context, key string) (string, error)

func (f resolverFunc) AccountNumber(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

func TestAccountResolution(t *testing.T) {
	svc := &billingService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	logger, buf := newTestLogger()
	fwd := &recordingForwarder{}
	d, err := NewDispatcher(Options{
		Billing:   NewClient(srv.URL, WithLogger(logger)),
		Forwarder: fwd,
		Logger:    logger,
		Accounts: resolverFunc(func(_ context.Context, key string) (string, error) {
			if key == "acc-1" {
				return "ACC-0001", nil
			}
			return "", errors.New("unknown account")
		}),
	})
	require.NoError(t, err)

	require.NoError(t, d.ProcessInbound(context.Background(), message(protocol.SessionNone)))
	unknown := message(protocol.SessionNone)
	unknown.Metadata.AccountKey = "ghost"
	require.NoError(t, d.ProcessInbound(context.Background(), unknown))

	txs := svc.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, "ACC-0001", txs[0].AccountNumber)
	assert.Len(t, fwd.inbound, 2)
	assert.Len(t, buf.lines(t, "ERROR"), 1)
}

func TestClientSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(TransactionResponse{})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithToken("tok")).CreateTransaction(context.Background(), TransactionRequest{MessageID: "m"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
}

func TestClientErrorsMatchErrBilling(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = NewClient("http://"+addr, WithRetryDelay(time.Millisecond)).CreateTransaction(context.Background(), TransactionRequest{})
	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.True(t, errors.Is(err, ErrBilling))

	assert.True(t, errors.Is(&ServiceError{StatusCode: 402}, ErrBilling))
}

func TestTransactionRequestValidate(t *testing.T) {
	ok := TransactionRequest{AccountNumber: "a", MessageID: "m", TagPoolName: "p", TagName: "t", MessageDirection: "Inbound"}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.MessageDirection = "sideways"
	assert.Error(t, bad.Validate())

	neg := -1.0
	bad = ok
	bad.SessionLength = &neg
	assert.Error(t, bad.Validate())
}
