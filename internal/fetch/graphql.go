// Package fetch retrieves language-scoped item lists from remote sources.
//
// Fetchers only fetch: they do not filter, store or dedupe. Every error they
// return wraps feed.ErrFetch.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"github.com/abelbrown/feedcard/internal/feed"
)

// newsByLanguageQuery is the upstream query. sourceURLFormate is the
// upstream schema's spelling.
const newsByLanguageQuery = `query GetNewsByLanguage($language: String!) {
  newsByLanguage(language: $language) {
    id
    url
    title
    author
    language
    sourceURL
    description
    publishedAt
    readMoreContent
    sourceURLFormate
  }
}`

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Options configures a GraphQLClient.
type Options struct {
	Timeout      time.Duration // per HTTP attempt; defaults to 30s
	Retries      int           // extra attempts on transient failures
	RateLimit    float64       // requests per second, 0 = unlimited
	UserAgent    string
	RetryInitial time.Duration // first backoff interval; defaults to 500ms
}

// GraphQLClient fetches items with the newsByLanguage GraphQL query.
type GraphQLClient struct {
	endpoint     string
	client       *http.Client
	limiter      *rate.Limiter
	retries      int
	retryInitial time.Duration
	userAgent    string
}

// NewGraphQLClient creates a client for the GraphQL endpoint.
func NewGraphQLClient(endpoint string, opts Options) *GraphQLClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "feedcard/0.1"
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &GraphQLClient{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: opts.Timeout},
		limiter:      rate.NewLimiter(limit, 1),
		retries:      opts.Retries,
		retryInitial: opts.RetryInitial,
		userAgent:    opts.UserAgent,
	}
}

// Fetch returns the items for language in upstream order.
func (c *GraphQLClient) Fetch(ctx context.Context, language string) ([]feed.Item, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     newsByLanguageQuery,
		Variables: map[string]any{"language": language},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", feed.ErrFetch, err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInitial
	eb.MaxInterval = 10 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retries)), ctx)

	items, err := backoff.RetryWithData(func() ([]feed.Item, error) {
		return c.attempt(ctx, body)
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", feed.ErrFetch, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", feed.ErrFetch, err)
	}
	for i := range items {
		if items[i].Language == "" {
			items[i].Language = language
		}
	}
	return items, nil
}

// attempt performs one HTTP round trip. Errors that retrying cannot fix are
// wrapped with backoff.Permanent.
func (c *GraphQLClient) attempt(ctx context.Context, body []byte) ([]feed.Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if id := RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	gootel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(respBody)))
	}

	var gql graphQLResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse response: %w", err))
	}
	if len(gql.Errors) > 0 {
		msgs := make([]string, 0, len(gql.Errors))
		for _, e := range gql.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, backoff.Permanent(errors.New(strings.Join(msgs, "; ")))
	}
	if gql.Data == nil {
		return nil, backoff.Permanent(errors.New("response has no data"))
	}

	items := make([]feed.Item, 0, len(gql.Data.NewsByLanguage))
	for _, a := range gql.Data.NewsByLanguage {
		items = append(items, a.item())
	}
	return items, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data *struct {
		NewsByLanguage []article `json:"newsByLanguage"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// article is one upstream record. Scalars that the upstream may send as
// either strings or numbers decode through feed.LooseString.
type article struct {
	ID               feed.LooseString `json:"id"`
	URL              string      `json:"url"`
	Title            string      `json:"title"`
	Author           string      `json:"author"`
	Language         string      `json:"language"`
	SourceURL        string      `json:"sourceURL"`
	Description      string      `json:"description"`
	PublishedAt      feed.LooseString `json:"publishedAt"`
	ReadMoreContent  string      `json:"readMoreContent"`
	SourceURLFormate string      `json:"sourceURLFormate"`
	SourceURLFormat  string      `json:"sourceURLFormat"`
}

func (a article) item() feed.Item {
	format := a.SourceURLFormat
	if format == "" {
		format = a.SourceURLFormate
	}
	return feed.Item{
		ID:              strings.TrimSpace(string(a.ID)),
		URL:             a.URL,
		Title:           a.Title,
		Author:          a.Author,
		Language:        a.Language,
		SourceURL:       a.SourceURL,
		Description:     a.Description,
		PublishedAt:     parsePublished(string(a.PublishedAt)),
		ReadMoreContent: a.ReadMoreContent,
		SourceURLFormat: format,
	}
}

// parsePublished accepts RFC 3339 timestamps or Unix epoch milliseconds.
// Unparseable values yield the zero time.
func parsePublished(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

type requestIDKey struct{}

// WithRequestID attaches a correlation id sent as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id attached to ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
