package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/logging"
	"github.com/abelbrown/feedcard/internal/session"
	"github.com/abelbrown/feedcard/internal/tracker"
)

// fetchOptions holds flags for the fetch command.
type fetchOptions struct {
	*rootOptions
	Language string
	Mark     int
	JSON     bool
}

// fetchReport is the --json output of the fetch command.
type fetchReport struct {
	Language   string      `json:"language"`
	Generation uint64      `json:"generation"`
	Status     string      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Marked     []feed.Item `json:"marked,omitempty"`
	Unseen     []feed.Item `json:"unseen"`
	Seen       int         `json:"seen"`
}

func newFetchCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &fetchOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a language and print its unseen items",
		Long: `Fetch the items for one language without the TUI and print the ones
not seen yet. With --mark N the first N unseen items are shown (activated)
in order, exactly as the viewer would, and marked seen.

Example:
  feedcard fetch --language en
  feedcard fetch --language hi --mark 3 --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Language, "language", "l", "", "language to fetch (default from config)")
	cmd.Flags().IntVar(&opts.Mark, "mark", 0, "activate and mark the first N unseen items")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON")
	return cmd
}

func runFetch(cmd *cobra.Command, opts *fetchOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logging.InitWriter(os.Stderr, opts.Verbose)

	language := opts.Language
	if language == "" {
		language = cfg.Language
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess := session.New(rt.store, rt.fetcher, session.Options{
		Timeout: rt.fetchTimeout(),
		Logger:  rt.events,
	})
	defer sess.Close()

	sess.SelectLanguage(ctx, language)
	sess.Wait()

	snap := sess.Snapshot()
	if snap.Status == feed.StatusError {
		return snap.Err
	}

	var marked []feed.Item
	for i := 0; i < opts.Mark; i++ {
		cur := sess.Snapshot()
		if cur.Position < 0 {
			break
		}
		out, item, err := sess.Activate(ctx, cur.Version, cur.Position)
		if err != nil {
			logging.Warn("mark not persisted", "id", item.ID, "err", err)
		}
		if out == tracker.OutcomeMarked {
			marked = append(marked, item)
		}
		logging.Debug("activated", "id", item.ID, "outcome", out)
	}

	snap = sess.Snapshot()
	report := fetchReport{
		Language:   snap.Language,
		Generation: snap.Generation,
		Status:     snap.Status.String(),
		Message:    snap.Message,
		Marked:     marked,
		Unseen:     snap.Items,
		Seen:       snap.Seen,
	}
	if opts.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(w io.Writer, r fetchReport) {
	for _, item := range r.Marked {
		fmt.Fprintf(w, "marked  %-16s %s\n", truncate(item.ID, 16), item.Title)
	}
	if r.Message != "" {
		fmt.Fprintln(w, r.Message)
	}
	for i, item := range r.Unseen {
		fmt.Fprintf(w, "%3d  %-16s %s\n", i, truncate(item.ID, 16), item.Title)
	}
	fmt.Fprintf(w, "\n%s: %d unseen, %d seen in total\n", r.Language, len(r.Unseen), r.Seen)
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
