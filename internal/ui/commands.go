package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/tracker"
)

// Engine is the part of *session.Session the TUI drives.
type Engine interface {
	SelectLanguage(ctx context.Context, language string) uint64
	Retry(ctx context.Context) uint64
	Activate(ctx context.Context, version uint64, index int) (tracker.Outcome, feed.Item, error)
}

// Commands are the engine calls the App issues. Each returns a tea.Cmd so
// the call runs off the event loop.
type Commands struct {
	SelectLanguage func(language string) tea.Cmd
	Retry          func() tea.Cmd
	Activate       func(version uint64, index int) tea.Cmd
}

// NewCommands adapts e into Commands. ctx bounds every call.
func NewCommands(ctx context.Context, e Engine) Commands {
	return Commands{
		SelectLanguage: func(language string) tea.Cmd {
			return func() tea.Msg {
				gen := e.SelectLanguage(ctx, language)
				return LanguageSelected{Language: language, Generation: gen}
			}
		},
		Retry: func() tea.Cmd {
			return func() tea.Msg {
				gen := e.Retry(ctx)
				return LanguageSelected{Generation: gen}
			}
		},
		Activate: func(version uint64, index int) tea.Cmd {
			return func() tea.Msg {
				out, item, err := e.Activate(ctx, version, index)
				return Activated{Version: version, Index: index, Outcome: out, Item: item, Err: err}
			}
		},
	}
}
