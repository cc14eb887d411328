package ui

import (
	"fmt"
	"strings"

	"github.com/abelbrown/feedcard/internal/otel"
	"github.com/abelbrown/feedcard/internal/session"
)

// EventLog is the part of the event logger the debug overlay reads.
// *otel.Logger implements it.
type EventLog interface {
	Dropped() uint64
	Recent(n int) []otel.Event
}

// debugRecentEvents is how many events the overlay lists.
const debugRecentEvents = 6

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
// Must be updated if DebugPanel style changes.
const debugPanelChrome = 4

// debugOverlay renders the engine state behind the current card.
// Pure function with no side effects.
func debugOverlay(snap session.Snapshot, events EventLog, width, height int) string {
	var dropped uint64
	var recent []otel.Event
	if events != nil {
		dropped = events.Dropped()
		recent = events.Recent(debugRecentEvents)
	}

	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Engine State"))
	lines = append(lines, fmt.Sprintf("  Language:   %s", orDash(snap.Language)))
	lines = append(lines, fmt.Sprintf("  Status:     %s", snap.Status))
	lines = append(lines, fmt.Sprintf("  Generation: %d", snap.Generation))
	lines = append(lines, fmt.Sprintf("  Version:    %d", snap.Version))
	lines = append(lines, fmt.Sprintf("  Position:   %d / %d", snap.Position, len(snap.Items)))
	lines = append(lines, fmt.Sprintf("  Seen:       %d", snap.Seen))
	lines = append(lines, fmt.Sprintf("  Dropped:    %d events", dropped))
	if snap.Err != nil {
		lines = append(lines, "  Error:      "+truncateRunes(snap.Err.Error(), 50))
	}
	lines = append(lines, "")

	lines = append(lines, DebugHeaderStyle.Render("Up Next"))
	for i, item := range snap.Items {
		if i >= 10 {
			lines = append(lines, fmt.Sprintf("  ... %d more", len(snap.Items)-i))
			break
		}
		marker := " "
		if i == snap.Position {
			marker = ">"
		}
		lines = append(lines, fmt.Sprintf(" %s %-12s %s", marker, truncateRunes(item.ID, 12), truncateRunes(item.Title, 40)))
	}

	if len(recent) > 0 {
		lines = append(lines, "")
		lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
		for _, ev := range recent {
			lines = append(lines, "  "+formatEvent(ev))
		}
	}

	// Truncate to fit terminal height (subtract chrome added by DebugPanel border/padding)
	maxHeight := height - debugPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 76
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}

	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

// formatEvent renders one event as a single overlay line.
func formatEvent(ev otel.Event) string {
	parts := []string{ev.Time.Format("15:04:05"), fmt.Sprintf("%-14s", ev.Kind)}
	if ev.Generation > 0 {
		parts = append(parts, fmt.Sprintf("gen=%d", ev.Generation))
	}
	if ev.Language != "" {
		parts = append(parts, "lang="+ev.Language)
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.ItemID != "" {
		parts = append(parts, "item="+truncateRunes(ev.ItemID, 12))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+truncateRunes(ev.Err, 30))
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("D") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}
