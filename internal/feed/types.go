// Package feed defines the items, fetch lifecycle and error taxonomy shared by
// every feedcard package.
package feed

import (
	"fmt"
	"time"
)

// Item is a single news card. Immutable once fetched.
type Item struct {
	ID              string    `json:"id"`
	URL             string    `json:"url,omitempty"`
	Title           string    `json:"title"`
	Author          string    `json:"author,omitempty"`
	Language        string    `json:"language,omitempty"`
	SourceURL       string    `json:"sourceURL,omitempty"`
	Description     string    `json:"description,omitempty"`
	PublishedAt     time.Time `json:"publishedAt,omitzero"`
	ReadMoreContent string    `json:"readMoreContent,omitempty"`
	SourceURLFormat string    `json:"sourceURLFormat,omitempty"`
}

// Status is the lifecycle state of one fetch generation.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Presenter messages.
const (
	MsgLoading = "Loading articles..."
	MsgEmpty   = "No articles available"
)

// Result is the outcome of one fetch generation.
// Items is only meaningful when Status is StatusSuccess.
type Result struct {
	Status     Status
	Language   string
	Generation uint64
	Items      []Item
	Err        error
}

// Message returns the status line a presenter shows instead of cards,
// or "" when there are cards to show.
func (r Result) Message() string {
	switch r.Status {
	case StatusLoading:
		return MsgLoading
	case StatusError:
		if r.Err == nil {
			return "Error: unknown error"
		}
		return "Error: " + r.Err.Error()
	case StatusSuccess:
		if len(r.Items) == 0 {
			return MsgEmpty
		}
	}
	return ""
}
