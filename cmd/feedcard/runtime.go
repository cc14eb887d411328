package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/feedcard/internal/config"
	"github.com/abelbrown/feedcard/internal/coord"
	"github.com/abelbrown/feedcard/internal/fetch"
	"github.com/abelbrown/feedcard/internal/logging"
	"github.com/abelbrown/feedcard/internal/otel"
	"github.com/abelbrown/feedcard/internal/store"
)

// runtime is everything a command needs besides the session itself.
type runtime struct {
	cfg     *config.Config
	events  *otel.Logger
	store   *store.Store
	fetcher coord.Fetcher

	eventFile       *os.File
	shutdownTracing func(context.Context) error
}

// openRuntime opens the event log, tracing, the seen-set store and the
// fetcher described by cfg. Call Close when done.
func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	r := &runtime{cfg: cfg}

	f, err := os.OpenFile(cfg.EventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Warn("event log unavailable", "path", cfg.EventLogPath(), "err", err)
		r.events = otel.NewNullLogger()
	} else {
		r.eventFile = f
		r.events = otel.NewLogger(f)
	}
	r.events.Info(otel.KindStartup, "main", "feedcard started")

	shutdown, err := otel.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		logging.Warn("tracing disabled", "err", err)
	}
	r.shutdownTracing = shutdown

	backend, err := store.OpenBackend(cfg.Store.Driver, cfg.StorePath())
	if err != nil {
		err = fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		r.events.Error(otel.KindError, "main", err)
		r.Close()
		return nil, err
	}
	st, err := store.Open(ctx, backend, store.Options{Key: cfg.Store.Key, Logger: r.events})
	if err != nil {
		backend.Close()
		err = fmt.Errorf("load seen set: %w", err)
		r.events.Error(otel.KindError, "main", err)
		r.Close()
		return nil, err
	}
	r.store = st
	logging.Info("store opened", "driver", cfg.Store.Driver, "path", cfg.StorePath(), "seen", st.Len())

	fetcher, err := newFetcher(cfg.Source)
	if err != nil {
		r.events.Error(otel.KindError, "main", err)
		r.Close()
		return nil, err
	}
	r.fetcher = fetcher
	return r, nil
}

// newFetcher builds the source described by cfg.
func newFetcher(cfg config.SourceConfig) (coord.Fetcher, error) {
	switch cfg.Kind {
	case "", config.SourceGraphQL:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("graphql source needs an endpoint")
		}
		return fetch.NewGraphQLClient(cfg.Endpoint, fetch.Options{
			Timeout:   cfg.Timeout,
			Retries:   cfg.Retries,
			RateLimit: cfg.RateLimit,
			UserAgent: cfg.UserAgent,
		}), nil
	case config.SourceRSS:
		if len(cfg.Feeds) == 0 {
			return nil, fmt.Errorf("rss source needs at least one feed")
		}
		return fetch.NewFeedSource(cfg.Feeds, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// fetchTimeout bounds a whole fetch including retries.
func (r *runtime) fetchTimeout() time.Duration {
	src := r.cfg.Source
	return src.Timeout*time.Duration(src.Retries+1) + 15*time.Second
}

// Close releases everything openRuntime acquired, in reverse order.
func (r *runtime) Close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			logging.Error("close store", "err", err)
		}
	}
	if r.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.shutdownTracing(ctx); err != nil {
			logging.Warn("tracing shutdown", "err", err)
		}
		cancel()
	}
	r.events.Info(otel.KindShutdown, "main", "feedcard stopped")
	r.events.Close()
	if r.eventFile != nil {
		r.eventFile.Close()
	}
}
