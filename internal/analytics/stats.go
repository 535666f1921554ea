// Package analytics tracks daily ingestion totals: bytes downloaded and
// archives created, backed by the repository's DailyStat rows.
package analytics

import (
	"log/slog"
	"time"

	"github.com/kmkr/telegrab-go/internal/storage"
)

// StatsManager records and reports daily ingestion stats.
type StatsManager struct {
	repo   storage.Repository
	logger *slog.Logger
}

func NewStatsManager(repo storage.Repository, logger *slog.Logger) *StatsManager {
	return &StatsManager{repo: repo, logger: logger}
}

// TrackDownload bumps today's byte counter. Failures are logged, not
// returned — stats are best-effort and must never fail a download task.
func (sm *StatsManager) TrackDownload(bytes int64) {
	if err := sm.repo.BumpDailyStat(today(), bytes, 0); err != nil {
		sm.logger.Warn("failed to record daily download stat", "error", err)
	}
}

// TrackArchive bumps today's archive-created counter.
func (sm *StatsManager) TrackArchive() {
	if err := sm.repo.BumpDailyStat(today(), 0, 1); err != nil {
		sm.logger.Warn("failed to record daily archive stat", "error", err)
	}
}

// RecentStats returns the most recent `days` daily totals, newest first.
func (sm *StatsManager) RecentStats(days int) ([]storage.DailyStat, error) {
	return sm.repo.ListDailyStats(days)
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
