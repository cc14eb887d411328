package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/session"
	"github.com/abelbrown/feedcard/internal/tracker"
)

// App is the root Bubble Tea model.
// IMPORTANT: App does NOT hold the session. It receives snapshots via
// messages and reaches the engine only through Commands.
type App struct {
	cmds      Commands
	languages []string
	langIdx   int
	events    EventLog

	snap      session.Snapshot
	hasSnap   bool
	autoGen   uint64 // generation whose first item was already activated
	genStart  uint64 // first version seen for snap.Generation
	shown     feed.Item
	hasShown  bool
	shownSeen bool
	err       error

	spinner   spinner.Model
	width     int
	height    int
	ready     bool
	showDebug bool
}

// NewApp creates an App cycling through languages, starting at start.
// events feeds the debug overlay and may be nil.
func NewApp(cmds Commands, languages []string, start string, events EventLog) App {
	idx := 0
	for i, l := range languages {
		if l == start {
			idx = i
		}
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return App{
		cmds:      cmds,
		languages: languages,
		langIdx:   idx,
		events:    events,
		spinner:   sp,
	}
}

// Init selects the starting language.
func (a App) Init() tea.Cmd {
	if len(a.languages) == 0 || a.cmds.SelectLanguage == nil {
		return nil
	}
	return a.cmds.SelectLanguage(a.languages[a.langIdx])
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		return a, nil

	case SnapshotMsg:
		return a.handleSnapshot(msg.Snapshot)

	case Activated:
		return a.handleActivated(msg)

	case LanguageSelected:
		return a, nil

	case spinner.TickMsg:
		if !a.loading() {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// handleSnapshot applies a snapshot unless an equal or newer one is shown.
// The first item of each new generation is activated once.
func (a App) handleSnapshot(snap session.Snapshot) (tea.Model, tea.Cmd) {
	if a.hasSnap && snap.Version <= a.snap.Version {
		return a, nil
	}
	wasLoading := a.loading()
	if !a.hasSnap || snap.Generation != a.snap.Generation {
		a.hasShown = false
		a.shown = feed.Item{}
		a.genStart = snap.Version
	}
	a.snap = snap
	a.hasSnap = true

	var cmds []tea.Cmd
	if a.loading() && !wasLoading {
		cmds = append(cmds, a.spinner.Tick)
	}
	if snap.Status == feed.StatusSuccess && len(snap.Items) > 0 && snap.Position >= 0 &&
		snap.Generation != a.autoGen && a.cmds.Activate != nil {
		a.autoGen = snap.Generation
		cmds = append(cmds, a.cmds.Activate(snap.Version, snap.Position))
	}
	return a, tea.Batch(cmds...)
}

// handleActivated shows the activated item. Versions only grow, so an
// activation older than the current generation's first snapshot belongs to a
// previous generation and is dropped.
func (a App) handleActivated(msg Activated) (tea.Model, tea.Cmd) {
	if a.hasSnap && msg.Version < a.genStart {
		return a, nil
	}
	if msg.Err != nil {
		a.err = msg.Err
	}
	switch msg.Outcome {
	case tracker.OutcomeMarked, tracker.OutcomeAlreadySeen:
		a.shown = msg.Item
		a.hasShown = true
		a.shownSeen = msg.Outcome == tracker.OutcomeAlreadySeen
	}
	return a, nil
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Clear any existing error on key press
	if a.err != nil {
		a.err = nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down", "enter", " ":
		if a.snap.Position >= 0 && a.snap.Position < len(a.snap.Items) && a.cmds.Activate != nil {
			return a, a.cmds.Activate(a.snap.Version, a.snap.Position)
		}
		return a, nil

	case "l":
		if len(a.languages) == 0 || a.cmds.SelectLanguage == nil {
			return a, nil
		}
		a.langIdx = (a.langIdx + 1) % len(a.languages)
		return a, a.cmds.SelectLanguage(a.languages[a.langIdx])

	case "r":
		if a.cmds.Retry != nil {
			return a, a.cmds.Retry()
		}
		return a, nil

	case "D":
		a.showDebug = !a.showDebug
		return a, nil
	}

	return a, nil
}

func (a App) loading() bool {
	return a.hasSnap && a.snap.Status == feed.StatusLoading
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	if a.showDebug {
		return debugOverlay(a.snap, a.events, a.width, a.height-1) + "\n" + debugStatusBar(a.width)
	}

	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n")

	switch {
	case a.loading():
		b.WriteString(MessageStyle.Render(a.spinner.View() + " " + feed.MsgLoading))
	case a.hasSnap && a.snap.Status == feed.StatusError:
		b.WriteString(ErrorStyle.Width(a.width).Render(a.snap.Message))
		b.WriteString("\n")
		b.WriteString(MessageStyle.Render("Press r to retry or l to pick another language."))
	case a.hasShown:
		b.WriteString(RenderCard(a.shown, a.shownSeen, a.width))
		if len(a.snap.Items) == 0 {
			b.WriteString("\n")
			b.WriteString(MessageStyle.Render("That was the last unseen article."))
		}
	case a.hasSnap && a.snap.Message != "":
		b.WriteString(MessageStyle.Render(a.snap.Message))
	}

	body := b.String()
	used := lipgloss.Height(body)

	errorBar := ""
	if a.err != nil {
		errorBar = ErrorStyle.Width(a.width).Render("Error: " + a.err.Error() + " (press any key to dismiss)")
		used += lipgloss.Height(errorBar)
	}

	gap := a.height - used - 1
	if gap < 0 {
		gap = 0
	}
	statusBar := RenderStatusBar(len(a.snap.Items), a.snap.Seen, a.width, a.loading())
	return body + strings.Repeat("\n", gap) + errorBar + "\n" + statusBar
}

func (a App) renderHeader() string {
	lang := a.snap.Language
	if lang == "" && len(a.languages) > 0 {
		lang = a.languages[a.langIdx]
	}
	return Header.Render("feedcard") + " " + LanguageBadge.Render(lang)
}

// Snapshot returns the snapshot being shown (for testing).
func (a App) Snapshot() session.Snapshot {
	return a.snap
}

// Shown returns the displayed item (for testing).
func (a App) Shown() (feed.Item, bool) {
	return a.shown, a.hasShown
}

// Language returns the selected language (for testing).
func (a App) Language() string {
	if len(a.languages) == 0 {
		return ""
	}
	return a.languages[a.langIdx]
}
