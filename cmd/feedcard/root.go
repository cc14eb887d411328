package main

import (
	"github.com/spf13/cobra"

	"github.com/abelbrown/feedcard/internal/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

// newRootCommand creates the root command. Without a subcommand it runs
// the TUI.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	runOpts := &runOptions{rootOptions: opts}

	cmd := &cobra.Command{
		Use:           "feedcard",
		Short:         "Unseen news, one card at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, runOpts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $FEEDCARD_CONFIG or ~/.feedcard/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.Flags().StringVarP(&runOpts.Language, "language", "l", "", "language to start with")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newFetchCommand(opts))
	cmd.AddCommand(newSeenCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))

	return cmd
}

// loadConfig reads the config file named by --config, or the default path.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.ConfigPath
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}
