package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bodul/xwindex/internal/puzzle"
	"github.com/bodul/xwindex/internal/store"
)

var serveOpts struct {
	addr      string
	storePath string
	watch     bool
}

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index API over HTTP",
		Long: `Serve the puzzle index API. Submitted puzzles are indexed and stored;
with --watch the input directory is converted and watched as well, and every
converted puzzle is stored and announced on /api/events.

Photo scans (POST /api/scans) need GCP_PROJECT_ID or [gemini] project_id.`,
		RunE: runServe,
	}

	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveOpts.storePath, "store", "", "SQLite database path (default in memory)")
	serveCmd.Flags().BoolVar(&serveOpts.watch, "watch", false, "convert and watch the input directory")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if serveOpts.addr != "" {
		cfg.Server.Addr = serveOpts.addr
	}
	if serveOpts.storePath != "" {
		cfg.Store.Path = serveOpts.storePath
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	var scanner Scanner
	if cfg.Gemini.ProjectID != "" {
		gemini, err := NewGeminiClient(ctx, cfg.Gemini)
		if err != nil {
			return err
		}
		scanner = gemini
		logger.Info("gemini client ready", "project", cfg.Gemini.ProjectID, "model", cfg.Gemini.Model)
	} else {
		logger.Info("GCP_PROJECT_ID not set, photo scans disabled")
	}

	var srv *Server
	conv, err := newConverter(func(ctx context.Context, source string, idx puzzle.Index) {
		srv.Indexed(ctx, source, idx)
	}, func(ctx context.Context, source string) {
		srv.Removed(ctx, source)
	})
	if err != nil {
		return err
	}
	srv = NewServer(st, conv, scanner, cfg.Server.UploadsPerMinute, logger)

	if serveOpts.watch {
		go func() {
			if err := conv.Watch(ctx, cfg.Watch.Debounce); err != nil {
				logger.Error("watch", "dir", cfg.InputDir, "err", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           requestLogger(logger, srv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Store.Path, "watch", serveOpts.watch)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
