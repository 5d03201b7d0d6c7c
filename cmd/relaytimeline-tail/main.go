package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/relaytimeline/internal/logging"
	"github.com/agentworkforce/relaytimeline/internal/tailsync"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type tailOptions struct {
	baseURL        string
	token          string
	conversationID string
	file           string
	transport      string
	follow         bool
	hydrate        bool
	batchSize      int
	timeout        time.Duration
	logLevel       string
}

func newRootCmd() *cobra.Command {
	opts := &tailOptions{}
	cmd := &cobra.Command{
		Use:           "relaytimeline-tail",
		Short:         "Replay or follow an NDJSON envelope log into a relaytimeline server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(opts.logLevel, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, *opts, logger)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.baseURL, "base-url", envOrDefault("RELAYTIMELINE_BASE_URL", "http://127.0.0.1:8080"), "relaytimeline base URL")
	flags.StringVar(&opts.token, "token", strings.TrimSpace(os.Getenv("RELAYTIMELINE_TOKEN")), "bearer token")
	flags.StringVar(&opts.conversationID, "conversation", strings.TrimSpace(os.Getenv("RELAYTIMELINE_CONVERSATION")), "conversation ID")
	flags.StringVar(&opts.file, "file", "", "NDJSON envelope log")
	flags.StringVar(&opts.transport, "transport", "http", "delivery transport: http or websocket")
	flags.BoolVar(&opts.follow, "follow", false, "keep following the log after the backlog")
	flags.BoolVar(&opts.hydrate, "hydrate", false, "open before the backlog and hydrate after it")
	flags.IntVar(&opts.batchSize, "batch-size", 100, "envelopes per HTTP batch")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")
	flags.StringVar(&opts.logLevel, "log-level", envOrDefault("RELAYTIMELINE_LOG_LEVEL", "info"), "log level")
	return cmd
}

func (o tailOptions) validate() error {
	if strings.TrimSpace(o.token) == "" {
		return errors.New("token is required (--token or RELAYTIMELINE_TOKEN)")
	}
	if strings.TrimSpace(o.conversationID) == "" {
		return errors.New("conversation is required (--conversation or RELAYTIMELINE_CONVERSATION)")
	}
	if strings.TrimSpace(o.file) == "" {
		return errors.New("file is required (--file)")
	}
	switch o.transport {
	case "http", "websocket":
	default:
		return fmt.Errorf("unsupported transport %q", o.transport)
	}
	return nil
}

func runTail(ctx context.Context, opts tailOptions, logger *zap.Logger) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.timeout <= 0 {
		opts.timeout = 15 * time.Second
	}
	client := tailsync.NewHTTPClient(opts.baseURL, opts.token, &http.Client{Timeout: opts.timeout})

	var sink tailsync.Sink
	switch opts.transport {
	case "websocket":
		dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		wsSink, err := tailsync.DialWebsocketSink(dialCtx, client, opts.conversationID)
		cancel()
		if err != nil {
			return fmt.Errorf("dial stream: %w", err)
		}
		sink = wsSink
	default:
		sink = tailsync.NewHTTPSink(client, opts.conversationID)
	}
	defer sink.Close()

	follower := tailsync.NewFollower(opts.file, tailsync.FollowerOptions{Logger: logger})
	tailer, err := tailsync.NewTailer(client, follower, sink, tailsync.TailerOptions{
		ConversationID: opts.conversationID,
		Hydrate:        opts.hydrate,
		Follow:         opts.follow,
		BatchSize:      opts.batchSize,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if err := tailer.Run(ctx); err != nil {
		return err
	}
	logger.Info("tail finished",
		zap.String("conversation_id", opts.conversationID),
		zap.Int("sent", tailer.Sent()),
	)
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
