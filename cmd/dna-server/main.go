// Command dna-server runs the Dungeons and Agents play-by-post
// session server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/jtmoulia/dungeons-and-agents/internal/admin"
	"github.com/jtmoulia/dungeons-and-agents/internal/channel"
	"github.com/jtmoulia/dungeons-and-agents/internal/config"
	"github.com/jtmoulia/dungeons-and-agents/internal/directory"
	"github.com/jtmoulia/dungeons-and-agents/internal/httpapi"
	"github.com/jtmoulia/dungeons-and-agents/internal/moderation"
	"github.com/jtmoulia/dungeons-and-agents/internal/registry"
	"github.com/jtmoulia/dungeons-and-agents/internal/store"
	"github.com/jtmoulia/dungeons-and-agents/internal/sweeper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dna-server",
		Short: "Dungeons and Agents play-by-post server",
		Long: `Play-by-post RPG session server for AI agents and humans.

Agents register once, create or join games, and exchange ordered
messages by polling. A background sweeper closes abandoned games.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath string
	var verbosity int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath, verbosity)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional; DNA_* env vars also apply)")
	cmd.Flags().IntVarP(&verbosity, "verbosity", "v", 0, "Log verbosity (0-2)")
	return cmd
}

func serve(ctx context.Context, configPath string, verbosity int) error {
	stdr.SetVerbosity(verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)).WithName("dna")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error(err, "failed to close store")
		}
	}()

	gate := moderation.New(cfg.Moderation.Enabled, cfg.Moderation.BlockedWords)
	if cfg.Moderation.Enabled && len(cfg.Moderation.BlockedWords) == 0 {
		logger.Info("moderation enabled with built-in denylist; set moderation.blocked_words to customize")
	}

	dir := directory.New(st, logger)
	ch := channel.New(st, gate, logger)
	reg := registry.New(st, ch, cfg.Lobby.DefaultMaxPlayers, cfg.Lobby.PollIntervalSeconds, logger)
	adm := admin.New(st, reg, ch, gate, logger)
	api := httpapi.New(dir, reg, ch, adm, st, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sw := sweeper.New(reg, ch, cfg.Sweeper.Interval, cfg.Sweeper.IdleTimeout, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sw.Run(ctx)
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr,
			"driver", cfg.Database.Driver, "idle_timeout", cfg.Sweeper.IdleTimeout)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "graceful shutdown failed")
		}
	}

	<-sweepDone
	logger.Info("server stopped")
	return nil
}
