package watch

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/mattjoyce/switchboard/internal/events"
)

// AccountState is what the feed has revealed about one billing account.
type AccountState struct {
	Key        string // account key, known once a billing.cutoff names it
	Number     string
	Balance    *int64
	LowPercent int
	CutOff     bool
	Dropped    int // messages dropped or rewritten by the billing service
	LastSeen   time.Time
}

// updateAccountState applies ledger and billing events to accounts, keyed by
// account number (or account key for billing.cutoff events).
func updateAccountState(accounts map[string]*AccountState, e events.Event) {
	if !gjson.ValidBytes(e.Data) {
		return
	}
	data := gjson.ParseBytes(e.Data)

	get := func(id string) *AccountState {
		a, ok := accounts[id]
		if !ok {
			a = &AccountState{}
			accounts[id] = a
		}
		a.LastSeen = e.At
		return a
	}

	switch e.Type {
	case events.TypeLedgerCutoff, events.TypeLowCredit:
		number := data.Get("account_number").String()
		if number == "" {
			return
		}
		a := get(number)
		a.Number = number
		if e.Type == events.TypeLedgerCutoff {
			a.CutOff = true
			return
		}
		if pct := data.Get("threshold_percent"); pct.Exists() {
			a.LowPercent = int(pct.Int())
		}
		if bal := data.Get("balance"); bal.Exists() {
			b := bal.Int()
			a.Balance = &b
		}
	case events.TypeBillingCutoff:
		key := data.Get("account_key").String()
		if key == "" {
			return
		}
		a := get(key)
		a.Key = key
		a.CutOff = true
		a.Dropped++
	}
}

func newAccountTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Account", Width: 20},
			{Title: "Balance", Width: 10},
			{Title: "Alert", Width: 8},
			{Title: "State", Width: 10},
			{Title: "Cut", Width: 6},
			{Title: "Seen", Width: 10},
		}),
		table.WithHeight(6),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	t.SetStyles(s)
	return t
}

func accountRows(accounts map[string]*AccountState) []table.Row {
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		a := accounts[id]
		balance := "-"
		if a.Balance != nil {
			balance = humanize.Comma(*a.Balance)
		}
		alert := "-"
		if a.LowPercent > 0 {
			alert = fmt.Sprintf("%d%%", a.LowPercent)
		}
		st := "ok"
		if a.CutOff {
			st = "cut off"
		} else if a.LowPercent > 0 {
			st = "low"
		}
		rows = append(rows, table.Row{id, balance, alert, st, fmt.Sprint(a.Dropped), a.LastSeen.Format("15:04:05")})
	}
	return rows
}

func renderCredit(t table.Model, accounts map[string]*AccountState, theme Theme, width int) string {
	innerWidth := width - 4
	if len(accounts) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("CREDIT"),
			theme.Dim.Render("  No credit alerts"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}
	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("CREDIT"), t.View()),
	)
}
