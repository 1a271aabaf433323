package server

import (
	"context"
	"time"

	"tweetproof/internal/logging"
	"tweetproof/internal/metrics"
	"tweetproof/internal/spool"
)

const defaultPendingInterval = 30 * time.Second

// StartPendingRefresher keeps the spool_pending gauge current while ctx is
// alive. Records spooled by proof runs in other processes show up within
// one interval.
func StartPendingRefresher(ctx context.Context, sp spool.Spool, m *metrics.Metrics, logger logging.Logger, interval time.Duration) {
	if sp == nil || m == nil {
		return
	}
	if interval <= 0 {
		interval = defaultPendingInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			refreshPending(ctx, sp, m, logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func refreshPending(ctx context.Context, sp spool.Spool, m *metrics.Metrics, logger logging.Logger) {
	n, err := spool.Pending(ctx, sp)
	if err != nil {
		logging.OrDiscard(logger).WithError(err).Warn("spool: count pending failed")
		return
	}
	m.SetPending(n)
}
