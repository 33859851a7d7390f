// Package sweeper periodically removes expired session rows. Reads already
// treat expired rows as absent, so the sweep is purely reclamation; a missed
// cycle just means overdue rows go on the next one.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authgate/internal/store"
)

// DefaultInterval between sweep cycles.
const DefaultInterval = 1 * time.Hour

// Sweeper runs the expiry sweep on a fixed interval.
type Sweeper struct {
	sessions store.SessionStore
	interval time.Duration
}

// New creates a Sweeper. A non-positive interval falls back to the default.
func New(sessions store.SessionStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{sessions: sessions, interval: interval}
}

// Run sweeps until the context is cancelled. A failed cycle is logged and
// never stops the loop.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Session sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Session sweep failed")
		return
	}

	log.Debug().Int("count", count).Msg("Session sweep completed")
}
