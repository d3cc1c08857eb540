package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/billing"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/storage"
)

func newTestLedger(t *testing.T, opts Options) *Ledger {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, opts)
}

func request(id string) billing.TransactionRequest {
	return billing.TransactionRequest{
		AccountNumber:    "ACC-1",
		MessageID:        id,
		TagPoolName:      "sms_pool",
		TagName:          "12345",
		Provider:         "vodacom",
		MessageDirection: "Outbound",
		TransactionType:  billing.TransactionTypeMessage,
	}
}

func seed(t *testing.T, l *Ledger, credits int64) {
	t.Helper()
	ctx := context.Background()
	_, err := l.CreateAccount(ctx, "ACC-1")
	require.NoError(t, err)
	require.NoError(t, l.SetCost(ctx, Cost{TagPool: "sms_pool", Direction: "Outbound", MessageCost: 8, SessionCost: 5, MarkupPercent: 25}))
	if credits > 0 {
		_, err = l.LoadCredits(ctx, "ACC-1", credits)
		require.NoError(t, err)
	}
}

func TestCredits(t *testing.T) {
	l := New(nil, Options{CreditFactor: 1})
	c := Cost{MessageCost: 8, SessionCost: 5, MarkupPercent: 25}
	assert.Equal(t, int64(10), l.Credits(c, false))
	assert.Equal(t, int64(17), l.Credits(c, true))
}

func TestCreateTransactionDebitsBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	seed(t, l, 100)

	resp, err := l.CreateTransaction(ctx, request("m1"))
	require.NoError(t, err)
	assert.False(t, resp.CreditCutoffReached)
	assert.Equal(t, int64(-10), resp.Transaction.CreditAmount)
	assert.Equal(t, StatusCompleted, resp.Transaction.Status)
	assert.NotEmpty(t, resp.Transaction.ID)

	acct, err := l.GetAccount(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), acct.CreditBalance)
}

func TestCreateTransactionIsIdempotentPerMessage(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	seed(t, l, 100)

	first, err := l.CreateTransaction(ctx, request("m1"))
	require.NoError(t, err)
	second, err := l.CreateTransaction(ctx, request("m1"))
	require.NoError(t, err)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	acct, err := l.GetAccount(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), acct.CreditBalance)

	txs, err := l.Transactions(ctx, "ACC-1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCreateTransactionReportsCutoff(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	seed(t, l, 15)

	resp, err := l.CreateTransaction(ctx, request("m1"))
	require.NoError(t, err)
	assert.False(t, resp.CreditCutoffReached)

	resp, err = l.CreateTransaction(ctx, request("m2"))
	require.NoError(t, err)
	assert.True(t, resp.CreditCutoffReached)

	acct, err := l.GetAccount(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), acct.CreditBalance)
}

func TestCreateTransactionErrors(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})

	_, err := l.CreateTransaction(ctx, request("m1"))
	assert.True(t, errors.Is(err, ErrAccountNotFound))

	seed(t, l, 10)
	req := request("m2")
	req.TagPoolName = "unpriced"
	_, err = l.CreateTransaction(ctx, req)
	assert.True(t, errors.Is(err, ErrNoCost))

	req = request("")
	_, err = l.CreateTransaction(ctx, req)
	assert.Error(t, err)
}

func TestSessionLengthIsStored(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	seed(t, l, 100)

	req := request("m1")
	length := 12.5
	req.SessionLength = &length
	req.SessionCreated = true
	_, err := l.CreateTransaction(ctx, req)
	require.NoError(t, err)

	again, err := l.CreateTransaction(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, again.Transaction.SessionLength)
	assert.Equal(t, 12.5, *again.Transaction.SessionLength)
	assert.Equal(t, int64(-17), again.Transaction.CreditAmount)
}

func TestLowCreditAlertFiresOncePerCrossing(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(32)
	l := newTestLedger(t, Options{AlertThresholds: []int{10, 50}, Events: hub})
	seed(t, l, 100)

	// 100 -> 90 -> ... -> 40 crosses 50% once, then hovers below it.
	for i := range 6 {
		_, err := l.CreateTransaction(ctx, request(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}
	alerts := hub.SnapshotSince(0)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ledger.low_credit", alerts[0].Type)
	assert.Contains(t, string(alerts[0].Data), `"threshold_percent":50`)

	// 40 -> 0 crosses 10% once more.
	for i := 6; i < 10; i++ {
		_, err := l.CreateTransaction(ctx, request(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}
	assert.Len(t, hub.SnapshotSince(0), 2)

	// A top-up re-arms the alerts.
	_, err := l.LoadCredits(ctx, "ACC-1", 100)
	require.NoError(t, err)
	acct, err := l.GetAccount(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.AlertLevel)
	assert.Equal(t, int64(100), acct.LastTopup)
}

func TestAccountManagement(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})

	_, err := l.CreateAccount(ctx, "ACC-9")
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, "ACC-9")
	assert.True(t, errors.Is(err, ErrAccountExists))

	_, err = l.LoadCredits(ctx, "ACC-404", 10)
	assert.True(t, errors.Is(err, ErrAccountNotFound))
	_, err = l.LoadCredits(ctx, "ACC-9", 0)
	assert.Error(t, err)

	assert.Error(t, l.SetCost(ctx, Cost{TagPool: "p", Direction: "sideways"}))
}

func TestCreateTransactionRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions WHERE account_number = ? AND message_id = ?")).
		WithArgs("ACC-1", "m1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT credit_balance, last_topup, alert_level FROM billing_accounts")).
		WithArgs("ACC-1").
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance", "last_topup", "alert_level"}).AddRow(100, 100, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT message_cost, session_cost, markup_percent FROM message_costs")).
		WithArgs("sms_pool", "Outbound").
		WillReturnRows(sqlmock.NewRows([]string{"message_cost", "session_cost", "markup_percent"}).AddRow(8, 5, 25.0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	l := New(db, Options{})
	_, err = l.CreateTransaction(context.Background(), request("m1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTransactionRollsBackOnDebitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("FROM billing_accounts").
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance", "last_topup", "alert_level"}).AddRow(100, 100, 0))
	mock.ExpectQuery("FROM message_costs").
		WillReturnRows(sqlmock.NewRows([]string{"message_cost", "session_cost", "markup_percent"}).AddRow(8, 5, 25.0))
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE billing_accounts").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	l := New(db, Options{})
	_, err = l.CreateTransaction(context.Background(), request("m1"))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTopupIsIdempotentPerReference(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, Options{})
	seed(t, l, 0)

	acct, applied, err := l.ApplyTopup(ctx, Topup{AccountNumber: "ACC-1", Credits: 40, Reference: "pay-1", Provider: "stripe"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(40), acct.CreditBalance)
	assert.Equal(t, int64(40), acct.LastTopup)

	acct, applied, err = l.ApplyTopup(ctx, Topup{AccountNumber: "ACC-1", Credits: 40, Reference: "pay-1", Provider: "stripe"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(40), acct.CreditBalance)

	acct, applied, err = l.ApplyTopup(ctx, Topup{AccountNumber: "ACC-1", Credits: 10, Reference: "pay-2"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(50), acct.CreditBalance)

	_, _, err = l.ApplyTopup(ctx, Topup{AccountNumber: "ACC-404", Credits: 10, Reference: "pay-3"})
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, _, err = l.ApplyTopup(ctx, Topup{AccountNumber: "ACC-1", Credits: 10})
	assert.Error(t, err)
}
