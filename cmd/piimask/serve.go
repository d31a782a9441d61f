package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"piimask/internal/audit"
	"piimask/internal/config"
	"piimask/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /classify and /v1/mask HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.v.Set(config.KeyServerAddr, addr)
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8000)")
	return cmd
}

func (a *app) runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithMetrics(p.metrics),
		server.WithLogger(log.Logger),
		server.WithTraceSampleRate(cfg.TraceSampleRate),
		server.WithAddr(cfg.Server.Addr),
	}
	if cfg.Audit.LogFile != "" {
		al, err := audit.NewJSONLLogger(cfg.Audit.LogFile)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithAudit(al, cfg.Audit.LogFile))
	}
	srv := server.New(p.sanitizer, opts...)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Bool("ner", cfg.Detectors.NER.Enabled).
			Str("audit_log", cfg.Audit.LogFile).
			Msg("piimask listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
