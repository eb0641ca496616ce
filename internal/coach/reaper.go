package coach

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const reaperInterval = time.Minute

// ReapCallback is called with the token of every session the reaper ends.
type ReapCallback func(token string)

// StartReaper periodically ends sessions idle for longer than ttl, which
// completes them and stores their summaries.
func StartReaper(ctx context.Context, svc *Service, ttl time.Duration, onReap ReapCallback) {
	if ttl <= 0 {
		slog.Info("Idle session reaper disabled")
		return
	}
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle session reaper started", "interval", reaperInterval, "ttl", ttl)
		for {
			select {
			case <-ticker.C:
				reapIdleSessions(ctx, svc, ttl, onReap)
			case <-ctx.Done():
				slog.Info("Idle session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapIdleSessions(ctx context.Context, svc *Service, ttl time.Duration, onReap ReapCallback) int {
	idle := svc.IdleSessions(svc.now().Add(-ttl))
	if len(idle) == 0 {
		return 0
	}
	slog.Info("Reaper found idle sessions", "count", len(idle))

	reaped := 0
	for _, sess := range idle {
		endCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		_, err := sess.endWithReason(endCtx, "idle")
		cancel()
		if err != nil {
			if !errors.Is(err, ErrSessionEnded) {
				slog.Warn("Reaper failed to end session", "session", sess.Key(), "error", err)
			}
			continue
		}
		reaped++
		if onReap != nil {
			onReap(sess.Token())
		}
	}
	slog.Info("Reaper cleanup completed", "ended", reaped)
	return reaped
}
