// Package ui provides the Bubble Tea TUI for feedcard.
package ui

import (
	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/session"
	"github.com/abelbrown/feedcard/internal/tracker"
)

// SnapshotMsg carries a session snapshot. Sent from Session.OnChange via
// program.Send.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// Activated is sent when an activation has been processed.
type Activated struct {
	Version uint64
	Index   int
	Outcome tracker.Outcome
	Item    feed.Item
	Err     error // storage error; the item still counts as seen
}

// LanguageSelected is sent when a fetch for a language has been started.
type LanguageSelected struct {
	Language   string
	Generation uint64
}
