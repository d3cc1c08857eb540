package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
)

// SchedulerState is the bucket-cycle progress reconstructed from
// scheduler.tick and scheduler.cycle events.
type SchedulerState struct {
	Cycle         int
	Conversations int
	Capacity      int
	Buckets       int

	LastBucket int
	Ticks      int // ticks seen in the current cycle
	SentCycle  int
	SentTotal  int
	LastTick   time.Time
}

type tickPayload struct {
	Bucket int `json:"bucket"`
	Sent   int `json:"sent"`
}

type cyclePayload struct {
	Cycle         int `json:"cycle"`
	Conversations int `json:"conversations"`
	Capacity      int `json:"capacity"`
	Buckets       int `json:"buckets"`
}

// updateSchedulerState applies scheduler events and ignores the rest.
func updateSchedulerState(s *SchedulerState, e events.Event) {
	switch e.Type {
	case events.TypeSchedulerTick:
		var p tickPayload
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		s.LastBucket = p.Bucket
		s.Ticks++
		s.SentCycle += p.Sent
		s.SentTotal += p.Sent
		s.LastTick = e.At
	case events.TypeSchedulerCycle:
		var p cyclePayload
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		s.Cycle = p.Cycle
		s.Conversations = p.Conversations
		s.Capacity = p.Capacity
		s.Buckets = p.Buckets
		s.Ticks = 0
		s.SentCycle = 0
	}
}

func renderScheduler(s SchedulerState, theme Theme, width int) string {
	innerWidth := width - 4

	if s.Cycle == 0 && s.Ticks == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SCHEDULER"),
			theme.Dim.Render("  No ticks yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	summary := fmt.Sprintf("  cycle %d  conversations %d  capacity %d/bucket  sent %d this cycle (%d total)",
		s.Cycle, s.Conversations, s.Capacity, s.SentCycle, s.SentTotal)
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("SCHEDULER"),
		summary,
		"  "+renderProgress(s.Ticks, s.Buckets, innerWidth-20, theme),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

// renderProgress draws done/total as a bar. An unknown total renders the
// tick count alone.
func renderProgress(done, total, barWidth int, theme Theme) string {
	if total <= 0 {
		return theme.Dim.Render(fmt.Sprintf("%d ticks", done))
	}
	barWidth = max(min(barWidth, 40), 10)
	done = min(done, total)
	filled := done * barWidth / total
	bar := theme.Progress.Render(strings.Repeat("█", filled)) +
		theme.TickerInactive.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %d/%d buckets", bar, done, total)
}
