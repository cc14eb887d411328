// Package filter provides pure filter functions for items.
// All functions are simple: []Item in, []Item out. No side effects.
//
// Unseen is the single place that decides which fetched items are presentable.
package filter

import (
	"fmt"
	"strings"

	"github.com/abelbrown/feedcard/internal/feed"
)

// Unseen returns the items whose id is not in seen, in their original order.
// Runs in O(len(items)) set lookups. Never returns nil.
func Unseen(items []feed.Item, seen map[string]struct{}) []feed.Item {
	if len(items) == 0 {
		return []feed.Item{}
	}

	result := make([]feed.Item, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		result = append(result, item)
	}
	return result
}

// DuplicateIDs returns every id that occurs more than once, in order of
// first occurrence.
func DuplicateIDs(items []feed.Item) []string {
	counts := make(map[string]int, len(items))
	var dups []string
	for _, item := range items {
		counts[item.ID]++
		if counts[item.ID] == 2 {
			dups = append(dups, item.ID)
		}
	}
	return dups
}

// Report describes data-quality problems found in a fetch response.
type Report struct {
	Duplicates []string // ids occurring more than once (kept)
	Malformed  int      // items dropped for a blank id
}

// OK reports whether the response was clean.
func (r Report) OK() bool {
	return len(r.Duplicates) == 0 && r.Malformed == 0
}

// Err returns nil for a clean report, otherwise an error wrapping feed.ErrData.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	var parts []string
	if r.Malformed > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) without id", r.Malformed))
	}
	if len(r.Duplicates) > 0 {
		parts = append(parts, "duplicate ids "+strings.Join(r.Duplicates, ","))
	}
	return fmt.Errorf("%w: %s", feed.ErrData, strings.Join(parts, "; "))
}

// Validate drops items with a blank id and reports duplicate ids.
// Duplicates are kept: once the first instance is marked seen, Unseen
// hides the others too.
func Validate(items []feed.Item) ([]feed.Item, Report) {
	var report Report
	valid := make([]feed.Item, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			report.Malformed++
			continue
		}
		valid = append(valid, item)
	}
	report.Duplicates = DuplicateIDs(valid)
	return valid, report
}
