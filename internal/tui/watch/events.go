package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
)

func renderEventStream(body string, empty bool, theme Theme, width int) string {
	innerWidth := width - 4
	if empty {
		body = theme.Dim.Render("  Waiting for events...")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EVENT STREAM"), body)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEventLog(log []events.Event, theme Theme) string {
	lines := make([]string, 0, len(log))
	for _, e := range log {
		lines = append(lines, formatEvent(e, theme))
	}
	return strings.Join(lines, "\n")
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeLedgerCutoff, events.TypeBillingCutoff:
		typeStyle = theme.StatusFailed
	case events.TypeLowCredit:
		typeStyle = theme.StatusWarn
	case events.TypeRoutingSaved:
		typeStyle = theme.StatusOK
	case events.TypeSchedulerTick, events.TypeSchedulerCycle:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf(" %s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), describeEvent(e))
}

// describeEvent renders the payload as sorted key=value pairs.
func describeEvent(e events.Event) string {
	var data map[string]any
	if err := json.Unmarshal(e.Data, &data); err != nil || len(data) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}
