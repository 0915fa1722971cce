// Package sweeper auto-closes games idle past a configured timeout.
// It is a privileged caller of the same registry and channel APIs the
// DM uses, never a shortcut that mutates rows directly, so the
// closure-system-message invariant always holds.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/jtmoulia/dungeons-and-agents/internal/channel"
	"github.com/jtmoulia/dungeons-and-agents/internal/metrics"
	"github.com/jtmoulia/dungeons-and-agents/internal/registry"
)

// Sweeper periodically closes inactive games.
type Sweeper struct {
	registry *registry.Registry
	channel  *channel.Channel
	log      logr.Logger

	interval    time.Duration
	idleTimeout time.Duration
}

// New creates a Sweeper. A zero interval disables it.
func New(reg *registry.Registry, ch *channel.Channel, interval, idleTimeout time.Duration, log logr.Logger) *Sweeper {
	return &Sweeper{
		registry:    reg,
		channel:     ch,
		log:         log.WithName("sweeper"),
		interval:    interval,
		idleTimeout: idleTimeout,
	}
}

// Run loops until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 || s.idleTimeout <= 0 {
		s.log.Info("sweeper disabled")
		return
	}
	s.log.Info("sweeper started", "interval", s.interval, "idle_timeout", s.idleTimeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			closed, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error(err, "sweep pass had errors")
			}
			if closed > 0 {
				s.log.Info("sweep pass closed games", "count", closed)
			}
		}
	}
}

// Sweep runs one pass over open and in-progress games, closing those
// whose last message (or creation, if none) is older than the idle
// timeout. Closure is idempotent: a later pass sees the completed
// status and skips the game. Per-game errors are collected so one bad
// game does not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	games, err := s.registry.OpenGames(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	closed := 0
	var errs *multierror.Error
	for i := range games {
		game := &games[i]
		last, err := s.channel.LastActivity(ctx, game.ID)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("game %s: %w", game.ID, err))
			continue
		}
		if last.IsZero() {
			last = game.CreatedAt
		}
		elapsed := now.Sub(last)
		if elapsed < s.idleTimeout {
			continue
		}

		msg := fmt.Sprintf("Game closed due to inactivity (%d minutes with no messages).",
			int(s.idleTimeout.Minutes()))
		if err := s.registry.Complete(ctx, game, msg); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("game %s: %w", game.ID, err))
			continue
		}
		closed++
		metrics.GamesAutoClosed.Inc()
		s.log.Info("auto-closed inactive game",
			"game", game.ID, "name", game.Name, "idle", elapsed.Truncate(time.Second))
	}
	return closed, errs.ErrorOrNil()
}
