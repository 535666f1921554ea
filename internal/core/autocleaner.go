package core

import (
	"log/slog"
	"time"

	"github.com/kmkr/telegrab-go/internal/queue"
	"github.com/kmkr/telegrab-go/internal/shutdown"
)

// AutoCleaner periodically trims the completed-task history down to
// maxCompleted entries so it doesn't grow unbounded.
type AutoCleaner struct {
	queue        *queue.State
	shutdown     *shutdown.Coordinator
	interval     time.Duration
	maxCompleted int
	logger       *slog.Logger
}

func NewAutoCleaner(q *queue.State, sh *shutdown.Coordinator, interval time.Duration, maxCompleted int, logger *slog.Logger) *AutoCleaner {
	return &AutoCleaner{queue: q, shutdown: sh, interval: interval, maxCompleted: maxCompleted, logger: logger}
}

// Run loops until shutdown is signaled, calling Cleanup every interval.
func (c *AutoCleaner) Run() {
	shutdownCh := c.shutdown.SubscribeShutdown()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdownCh:
			return
		case <-ticker.C:
			removed := c.queue.Cleanup(c.maxCompleted)
			if removed > 0 {
				c.logger.Debug("auto-cleanup trimmed completed tasks", "removed", removed)
			}
		}
	}
}
