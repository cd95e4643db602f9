package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunSweeper removes expired sessions every interval until ctx is cancelled.
// onSweep, when non-nil, receives the count removed by each pass.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration, log zerolog.Logger, onSweep func(int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx, m.clock())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("removed", n).Msg("expired sessions swept")
			}
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}
