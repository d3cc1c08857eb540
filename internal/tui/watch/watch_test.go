package watch

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/events"
)

func ev(id int64, typ, data string) events.Event {
	return events.Event{ID: id, Type: typ, At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Data: []byte(data)}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: scheduler.tick",
		`data: {"bucket":2,"sent":3}`,
		"",
		"id: 8",
		"event: ledger.cutoff",
		`data: {"account_number":"ACC-1"}`,
		"",
	}, "\n")

	var got []events.Event
	readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.TypeSchedulerTick, got[0].Type)
	assert.JSONEq(t, `{"bucket":2,"sent":3}`, string(got[0].Data))
	assert.Equal(t, int64(8), got[1].ID)
	assert.Equal(t, events.TypeLedgerCutoff, got[1].Type)
}

func TestUpdateSchedulerState(t *testing.T) {
	var s SchedulerState
	updateSchedulerState(&s, ev(1, events.TypeSchedulerTick, `{"bucket":0,"sent":2}`))
	updateSchedulerState(&s, ev(2, events.TypeSchedulerTick, `{"bucket":1,"sent":1}`))
	assert.Equal(t, 2, s.Ticks)
	assert.Equal(t, 3, s.SentCycle)
	assert.Equal(t, 1, s.LastBucket)

	updateSchedulerState(&s, ev(3, events.TypeSchedulerCycle, `{"cycle":4,"conversations":9,"capacity":3,"buckets":3}`))
	assert.Equal(t, 4, s.Cycle)
	assert.Equal(t, 3, s.Buckets)
	assert.Equal(t, 0, s.Ticks)
	assert.Equal(t, 0, s.SentCycle)
	assert.Equal(t, 3, s.SentTotal)

	updateSchedulerState(&s, ev(4, events.TypeRoutingSaved, `{"account_key":"acc"}`))
	assert.Equal(t, 4, s.Cycle)
}

func TestUpdateAccountState(t *testing.T) {
	accounts := map[string]*AccountState{}
	updateAccountState(accounts, ev(1, events.TypeLowCredit, `{"account_number":"ACC-1","threshold_percent":20,"balance":15}`))
	require.Contains(t, accounts, "ACC-1")
	a := accounts["ACC-1"]
	require.NotNil(t, a.Balance)
	assert.Equal(t, int64(15), *a.Balance)
	assert.Equal(t, 20, a.LowPercent)
	assert.False(t, a.CutOff)

	updateAccountState(accounts, ev(2, events.TypeLedgerCutoff, `{"account_number":"ACC-1"}`))
	assert.True(t, accounts["ACC-1"].CutOff)

	updateAccountState(accounts, ev(3, events.TypeBillingCutoff, `{"message_id":"m1","account_key":"acc","action":"close"}`))
	updateAccountState(accounts, ev(4, events.TypeBillingCutoff, `{"message_id":"m2","account_key":"acc","action":"drop"}`))
	assert.Equal(t, 2, accounts["acc"].Dropped)

	updateAccountState(accounts, ev(5, events.TypeLedgerCutoff, `{}`))
	assert.Len(t, accounts, 2)

	rows := accountRows(accounts)
	require.Len(t, rows, 2)
	assert.Equal(t, "ACC-1", rows[0][0])
	assert.Equal(t, "cut off", rows[0][3])
}

func TestModelFoldsEventsIntoView(t *testing.T) {
	m := New("http://localhost", "tok", nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model := next.(Model)

	next, cmd := model.Update(eventMsg(ev(1, events.TypeSchedulerCycle, `{"cycle":1,"conversations":2,"capacity":1,"buckets":2}`)))
	require.NotNil(t, cmd)
	model = next.(Model)
	next, _ = model.Update(eventMsg(ev(2, events.TypeLedgerCutoff, `{"account_number":"ACC-9"}`)))
	model = next.(Model)

	assert.Len(t, model.eventLog, 2)
	assert.Equal(t, int64(2), model.eventLog[0].ID)
	assert.True(t, model.health.Connected)

	view := model.View()
	assert.Contains(t, view, "SWITCHBOARD WATCH")
	assert.Contains(t, view, "cycle 1")
	assert.Contains(t, view, "ACC-9")
	assert.Contains(t, view, "ledger.cutoff")
}

func TestDescribeEventSortsKeys(t *testing.T) {
	assert.Equal(t, "account_key=acc revision=3", describeEvent(ev(1, events.TypeRoutingSaved, `{"revision":3,"account_key":"acc"}`)))
	assert.Equal(t, "not json", describeEvent(ev(1, "x", "not json")))
}

func TestRenderProgress(t *testing.T) {
	theme := NewDefaultTheme()
	assert.Contains(t, renderProgress(1, 4, 20, theme), "1/4 buckets")
	assert.Contains(t, renderProgress(6, 4, 20, theme), "4/4 buckets")
	assert.Equal(t, theme.Dim.Render("3 ticks"), renderProgress(3, 0, 20, theme))
}
