package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/feedcard/internal/logging"
	"github.com/abelbrown/feedcard/internal/session"
	"github.com/abelbrown/feedcard/internal/ui"
)

// runOptions holds flags for the run command.
type runOptions struct {
	*rootOptions
	Language string
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the card viewer",
		Long: `Start the terminal card viewer.

Each card is marked seen as it is shown and never shown again, across
restarts. Press l to switch language, r to retry a failed fetch.

Example:
  feedcard run --language hi`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Language, "language", "l", "", "language to start with")
	return cmd
}

func runTUI(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Language != "" {
		cfg.Language = opts.Language
		if !cfg.HasLanguage(opts.Language) {
			cfg.Languages = append(cfg.Languages, opts.Language)
		}
	}

	if err := logging.Init(cfg.LogDir(), opts.Verbose); err != nil {
		return err
	}
	defer logging.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		logging.Error("startup failed", "err", err)
		return err
	}
	defer rt.Close()

	// OnChange fires from Cmd goroutines and fetch goroutines, never from the
	// event loop, so Send cannot deadlock.
	var program *tea.Program
	sess := session.New(rt.store, rt.fetcher, session.Options{
		Timeout: rt.fetchTimeout(),
		Logger:  rt.events,
		OnChange: func(s session.Snapshot) {
			if program != nil {
				program.Send(ui.SnapshotMsg{Snapshot: s})
			}
		},
	})
	defer sess.Close()

	app := ui.NewApp(ui.NewCommands(ctx, sess), cfg.Languages, cfg.Language, rt.events)
	program = tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

	logging.Info("tui starting", "language", cfg.Language, "languages", cfg.Languages)
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
