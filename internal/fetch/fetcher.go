package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/feedcard/internal/feed"
)

// maxParallelFeeds bounds concurrent feed downloads for one language.
const maxParallelFeeds = 4

// FeedSource serves languages from RSS/Atom feeds. Each language maps to
// an ordered list of feed URLs.
type FeedSource struct {
	client *http.Client
	feeds  map[string][]string
}

// NewFeedSource creates a FeedSource with the given HTTP client timeout.
func NewFeedSource(feeds map[string][]string, timeout time.Duration) *FeedSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedSource{
		client: &http.Client{Timeout: timeout},
		feeds:  feeds,
	}
}

// Fetch downloads every feed configured for language and concatenates their
// items in configuration order. Any failing feed fails the whole fetch.
func (s *FeedSource) Fetch(ctx context.Context, language string) ([]feed.Item, error) {
	urls := s.feeds[language]
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no feeds configured for language %q", feed.ErrFetch, language)
	}

	results := make([][]feed.Item, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFeeds)
	for i, u := range urls {
		g.Go(func() error {
			items, err := s.fetchOne(gctx, u, language)
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", feed.ErrFetch, err)
	}

	var items []feed.Item
	for _, r := range results {
		items = append(items, r...)
	}
	return items, nil
}

func (s *FeedSource) fetchOne(ctx context.Context, url, language string) ([]feed.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "feedcard/0.1")
	if id := RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]feed.Item, 0, len(parsed.Items))
	for _, fi := range parsed.Items {
		items = append(items, convertFeedItem(fi, parsed, language))
	}
	return items, nil
}

// convertFeedItem converts a gofeed.Item to a feed.Item.
func convertFeedItem(fi *gofeed.Item, parent *gofeed.Feed, language string) feed.Item {
	var published time.Time
	if fi.PublishedParsed != nil {
		published = *fi.PublishedParsed
	} else if fi.UpdatedParsed != nil {
		published = *fi.UpdatedParsed
	}

	author := ""
	if fi.Author != nil {
		author = fi.Author.Name
	}

	description := fi.Description
	if description == "" && fi.Content != "" {
		description = truncate(fi.Content, 500)
	}

	return feed.Item{
		ID:              generateID(fi),
		URL:             fi.Link,
		Title:           fi.Title,
		Author:          author,
		Language:        language,
		SourceURL:       parent.Link,
		Description:     description,
		PublishedAt:     published,
		ReadMoreContent: fi.Link,
	}
}

// generateID creates a deterministic ID for a feed item.
// Uses the GUID if available, otherwise hashes the URL.
func generateID(fi *gofeed.Item) string {
	if fi.GUID != "" {
		return hashString(fi.GUID)
	}
	if fi.Link != "" {
		return hashString(fi.Link)
	}
	key := fi.Title
	if fi.PublishedParsed != nil {
		key += fi.PublishedParsed.String()
	}
	return hashString(key)
}

// hashString creates a short hash of a string for use as an ID.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
