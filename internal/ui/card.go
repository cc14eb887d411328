package ui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/feedcard/internal/feed"
)

// maxDescription caps the description shown on a card, in runes.
const maxDescription = 600

// htmlTagRe matches HTML tags.
var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// whitespaceRe matches runs of whitespace.
var whitespaceRe = regexp.MustCompile(`\s+`)

// RenderCard renders one item as a framed card of the given width.
func RenderCard(item feed.Item, seen bool, width int) string {
	inner := width - Card.GetHorizontalFrameSize()
	if inner < 20 {
		inner = 20
	}

	title := item.Title
	if title == "" {
		title = "(untitled)"
	}
	if seen {
		title = SeenMark.Render("✓ ") + title
	}

	parts := []string{CardTitle.Width(inner).Render(title)}
	if meta := cardMeta(item); meta != "" {
		parts = append(parts, CardMeta.Width(inner).Render(meta))
	}
	if body := cleanText(item.Description, maxDescription); body != "" {
		parts = append(parts, CardBody.Width(inner).Render(body))
	}
	link := item.ReadMoreContent
	if link == "" {
		link = item.URL
	}
	if link != "" {
		parts = append(parts, CardLink.Render(truncateRunes(link, inner)))
	}

	return Card.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// cardMeta joins author, source and age with a middle dot.
func cardMeta(item feed.Item) string {
	var parts []string
	if item.Author != "" {
		parts = append(parts, item.Author)
	}
	source := item.SourceURLFormat
	if source == "" {
		source = item.SourceURL
	}
	if source != "" {
		parts = append(parts, source)
	}
	if !item.PublishedAt.IsZero() {
		parts = append(parts, formatAgeShort(item.PublishedAt))
	}
	return strings.Join(parts, " · ")
}

// cleanText strips HTML tags, collapses whitespace, and caps at maxRunes.
func cleanText(s string, maxRunes int) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return truncateRunes(strings.TrimSpace(s), maxRunes)
}

// formatAgeShort formats the age of a timestamp as "5m ago" etc.
func formatAgeShort(published time.Time) string {
	age := time.Since(published)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

// truncateRunes shortens s to maxLen runes, adding "..." if truncated.
func truncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// RenderStatusBar renders position info on the left and key hints on the right.
func RenderStatusBar(remaining, seen int, width int, loading bool) string {
	var left string
	if loading {
		left = " Loading... "
	} else {
		left = fmt.Sprintf(" %d unseen · %d seen ", remaining, seen)
	}

	keys := []string{
		StatusBarKey.Render("j/Enter") + StatusBarText.Render(":next"),
		StatusBarKey.Render("l") + StatusBarText.Render(":language"),
		StatusBarKey.Render("r") + StatusBarText.Render(":retry"),
		StatusBarKey.Render("D") + StatusBarText.Render(":debug"),
		StatusBarKey.Render("q") + StatusBarText.Render(":quit"),
	}
	keyHints := strings.Join(keys, " ")

	padding := width - lipgloss.Width(left) - lipgloss.Width(keyHints)
	if padding < 0 {
		padding = 0
	}
	return StatusBar.Width(width).Render(left + strings.Repeat(" ", padding) + keyHints)
}
