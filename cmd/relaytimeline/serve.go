package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/relaytimeline/internal/config"
	"github.com/agentworkforce/relaytimeline/internal/httpapi"
	"github.com/agentworkforce/relaytimeline/internal/metrics"
	"github.com/agentworkforce/relaytimeline/internal/rawbus"
	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the timeline HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			cfg.Addr = addr
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, root.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", root.cfg.Addr, "listen address")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	backend, err := cfg.BuildStateBackend()
	if err != nil {
		return err
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}
	adapters, err := config.LoadAdapters(cfg.AdaptersFile)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	var rawSink timeline.RawSink
	var redisSink *rawbus.RedisSink
	if cfg.Redis.Enabled() {
		client, err := rawbus.NewClient(rawbus.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		redisSink = rawbus.NewRedisSink(client, rawbus.RedisSinkOptions{
			Stream: cfg.Redis.Stream,
			MaxLen: cfg.Redis.MaxLen,
			Buffer: cfg.Redis.Buffer,
			Logger: logger,
			OnDrop: recorder.RawDropped,
		})
		rawSink = redisSink
	}

	engine := timeline.NewEngine(timeline.EngineOptions{
		Adapters: adapters,
		Backend:  backend,
		RawSink:  rawSink,
		Observer: recorder,
		Logger:   logger,
	})
	server := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewServerWithConfig(engine, httpapi.ServerConfig{
			JWTSecret:       cfg.JWTSecret,
			RateLimitMax:    cfg.RateLimitMax,
			RateLimitWindow: cfg.RateLimitWindow,
			MaxBodyBytes:    cfg.MaxBodyBytes,
			Logger:          logger,
			Metrics:         recorder,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("relaytimeline listening",
			zap.String("addr", cfg.Addr),
			zap.Strings("adapters", adapters.Kinds()),
			zap.Bool("persistence", backend != nil),
			zap.Bool("raw_stream", redisSink != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("relaytimeline shutting down")
		err := server.Shutdown(shutdownCtx)
		if redisSink != nil {
			if closeErr := redisSink.Close(shutdownCtx); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		return err
	})
	return group.Wait()
}
