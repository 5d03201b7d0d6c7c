package main

import (
	"fmt"
	"os"

	"github.com/agentworkforce/relaytimeline/internal/config"
	"github.com/agentworkforce/relaytimeline/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	cfg      config.Config
	logLevel string
	logJSON  bool
	logger   *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{cfg: config.Load()}
	root := &cobra.Command{
		Use:           "relaytimeline",
		Short:         "Project agent event streams into conversation timelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(opts.logLevel, opts.logJSON)
			if err != nil {
				return err
			}
			opts.logger = logger
			for _, warning := range opts.cfg.Warnings {
				logger.Warn(warning)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.cfg.LogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", opts.cfg.LogJSON, "emit JSON logs")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newProjectCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
