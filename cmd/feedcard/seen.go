package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/feedcard/internal/logging"
	"github.com/abelbrown/feedcard/internal/store"
)

// seenOptions holds flags for the seen command.
type seenOptions struct {
	*rootOptions
	JSON bool
}

func newSeenCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &seenOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "seen",
		Short:         "List items already marked seen",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeen(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the persisted record as JSON")
	return cmd
}

func runSeen(cmd *cobra.Command, opts *seenOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logging.InitWriter(os.Stderr, opts.Verbose)

	backend, err := store.OpenBackend(cfg.Store.Driver, cfg.StorePath())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer backend.Close()

	// Listing is read-only: a corrupt record is reported, not backed up.
	records, err := store.ReadRecords(cmd.Context(), backend, cfg.Store.Key)
	if err != nil {
		return err
	}
	if records == nil {
		records = []store.Record{}
	}
	if opts.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEEN AT\tLANG\tID\tTITLE")
	for _, r := range records {
		seenAt := "-"
		if !r.SeenAt.IsZero() {
			seenAt = r.SeenAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", seenAt, orDash(r.Language), r.ID, truncate(r.Title, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d seen\n", len(records))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
