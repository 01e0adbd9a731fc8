package tournament

import (
	"context"
	"log/slog"
	"time"
)

// Poll periodically reconciles the session against the bracket until the
// session finishes or ctx is cancelled. Run in its own goroutine, one
// per session.
func (s *Session) Poll(ctx context.Context, interval time.Duration) {
	slog.Info("Starting match poller", "guild", s.GuildID, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Poller stopped (context cancelled)", "guild", s.GuildID)
			return
		case <-s.done:
			slog.Info("Poller stopped", "guild", s.GuildID)
			return
		case <-ticker.C:
			if err := s.RefreshMatches(ctx); err != nil {
				slog.Error("Match refresh failed", "guild", s.GuildID, "error", err)
			}
		}
	}
}
