package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/agentworkforce/relaytimeline/internal/config"
	"github.com/agentworkforce/relaytimeline/internal/tailsync"
	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type projectOptions struct {
	file           string
	conversationID string
	view           string
	adaptersFile   string
}

func newProjectCmd(root *rootOptions) *cobra.Command {
	opts := &projectOptions{}
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project an NDJSON envelope log offline and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(cmd.OutOrStdout(), *opts, root.logger)
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "NDJSON envelope log")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "offline", "conversation id")
	cmd.Flags().StringVar(&opts.view, "view", "timeline", "output view: timeline, messages, work or meta")
	cmd.Flags().StringVar(&opts.adaptersFile, "adapters", root.cfg.AdaptersFile, "adapters YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runProject(out io.Writer, opts projectOptions, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	view := strings.ToLower(strings.TrimSpace(opts.view))
	switch view {
	case "timeline", "messages", "work", "meta":
	default:
		return fmt.Errorf("unsupported view %q", opts.view)
	}
	adapters, err := config.LoadAdapters(opts.adaptersFile)
	if err != nil {
		return err
	}
	lines, err := tailsync.NewFollower(opts.file, tailsync.FollowerOptions{Logger: logger}).Drain()
	if err != nil {
		return err
	}

	engine := timeline.NewEngine(timeline.EngineOptions{Adapters: adapters, Logger: logger})
	if err := engine.Open(opts.conversationID); err != nil {
		return err
	}
	for _, line := range lines {
		env, err := timeline.DecodeEnvelope(line)
		if err != nil {
			return err
		}
		if err := engine.Ingest(opts.conversationID, env); err != nil {
			return err
		}
	}
	if _, err := engine.Hydrate(opts.conversationID); err != nil {
		return err
	}

	var result any
	switch view {
	case "timeline":
		result = engine.Timeline(opts.conversationID).Entities()
	case "messages":
		result = engine.ChatMessages(opts.conversationID)
	case "work":
		result = engine.WorkItems(opts.conversationID)
	case "meta":
		result = engine.ChatMeta(opts.conversationID)
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
