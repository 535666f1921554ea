package analytics

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/kmkr/telegrab-go/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestStatsManager(t *testing.T) *StatsManager {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStatsManager(s, logger)
}

func TestTrackDownloadAccumulatesTodaysBytes(t *testing.T) {
	sm := newTestStatsManager(t)
	sm.TrackDownload(1024)
	sm.TrackDownload(2048)

	stats, err := sm.RecentStats(1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.EqualValues(t, 3072, stats[0].BytesDownloaded)
}

func TestTrackArchiveIncrementsCount(t *testing.T) {
	sm := newTestStatsManager(t)
	sm.TrackArchive()
	sm.TrackArchive()

	stats, err := sm.RecentStats(1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.EqualValues(t, 2, stats[0].ArchivesCreated)
}

func TestRecentStatsRespectsLimit(t *testing.T) {
	sm := newTestStatsManager(t)
	stats, err := sm.RecentStats(7)
	require.NoError(t, err)
	require.LessOrEqual(t, len(stats), 7)
}
