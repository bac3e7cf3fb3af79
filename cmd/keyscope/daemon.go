package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hossein1376/grape/slogger"
	"github.com/spf13/cobra"

	"github.com/kamune-org/keyscope"
	"github.com/kamune-org/keyscope/internal/daemon"
	"github.com/kamune-org/keyscope/internal/metrics"
	"github.com/kamune-org/keyscope/pkg/profile"
)

func (a *app) daemonCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve a session as line-delimited JSON over stdin and stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Address
			}
			return a.runDaemon(cmd, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func (a *app) runDaemon(cmd *cobra.Command, metricsAddr string) error {
	ctx := cmd.Context()
	opts := append(a.cfg.SessionOptions(), keyscope.WithLogger(a.logger))

	var server *http.Server
	errCh := make(chan error, 1)
	if metricsAddr != "" {
		rec := metrics.New()
		opts = append(opts, keyscope.WithRecorder(rec))
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		server = &http.Server{
			Addr:         metricsAddr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			a.logger.Info("serving metrics", slog.String("address", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	session := keyscope.New(opts...)
	defer session.Close()

	var store *profile.Store
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()
	open := func() (daemon.Profiles, error) {
		s, err := a.openProfiles()
		if err != nil {
			return nil, err
		}
		store = s
		return s, nil
	}

	d := daemon.New(session, cmd.InOrStdin(), cmd.OutOrStdout(),
		daemon.WithLogger(a.logger),
		daemon.WithProfiles(open),
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-errCh:
			a.logger.Error("metrics server", slogger.Err("error", err))
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := d.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
	}
	return runErr
}
