package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fentz26/pgxdash/internal/logging"
	"github.com/fentz26/pgxdash/internal/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Serves run submission, status, event replay and cancellation over HTTP, plus /health and /metrics.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}

	svc, st, err := openService(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(svc, cfg.Server, version)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info().Msg("Server stopped")
	return nil
}
