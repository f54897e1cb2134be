package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBackuper(t *testing.T) (*Backuper, string) {
	t.Helper()
	dataDir := t.TempDir()
	for _, name := range dbNames {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name+".db"), []byte("fake-sqlite-bytes-"+name), 0o600))
	}
	key := DeriveKey("vault password", []byte("fixed-test-salt"), TierStandard)
	b := NewBackuper(dataDir, key)
	return b, dataDir
}

func TestSnapshotWritesEncryptedFilesPerDB(t *testing.T) {
	b, dataDir := newTestBackuper(t)
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)

	require.NoError(t, b.Snapshot(context.Background(), now))

	dir := filepath.Join(dataDir, "backups", "backup-2026-08-01T03-00-00")
	for _, name := range dbNames {
		data, err := os.ReadFile(filepath.Join(dir, name+".backup.enc"))
		require.NoError(t, err)
		require.NotContains(t, string(data), "fake-sqlite-bytes")

		plain, err := Decrypt(b.key, data)
		require.NoError(t, err)
		require.Equal(t, "fake-sqlite-bytes-"+name, string(plain))
	}
}

func makeBackupDir(t *testing.T, dataDir string, ts time.Time) {
	t.Helper()
	dir := filepath.Join(dataDir, "backups", "backup-"+ts.UTC().Format("2006-01-02T15-04-05"))
	require.NoError(t, os.MkdirAll(dir, 0o700))
}

func TestRotateAppliesDailyWeeklyMonthlyRetention(t *testing.T) {
	b, dataDir := newTestBackuper(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		ts := now.Add(-time.Duration(i) * 5 * 24 * time.Hour)
		makeBackupDir(t, dataDir, ts)
	}

	require.NoError(t, b.Rotate(now))

	entries, err := os.ReadDir(filepath.Join(dataDir, "backups"))
	require.NoError(t, err)

	var kept []time.Time
	for _, e := range entries {
		ts, ok := backupDirTime(e.Name())
		require.True(t, ok)
		kept = append(kept, ts)
	}

	require.LessOrEqual(t, len(kept), b.dailyCount+b.weeklyCount+b.monthlyCount)

	seenWeeks := make(map[string]int)
	dailyCutoff := now.Add(-time.Duration(b.dailyCount) * 5 * 24 * time.Hour)
	for _, ts := range kept {
		if ts.After(dailyCutoff) || ts.Equal(dailyCutoff) {
			continue
		}
		year, week := ts.ISOWeek()
		seenWeeks[fmt.Sprintf("%d-W%02d", year, week)]++
	}
	for key, n := range seenWeeks {
		require.LessOrEqual(t, n, 1, "week %v kept more than once among non-daily survivors", key)
	}
}

func TestRotateKeepsAllSnapshotsBelowDailyCount(t *testing.T) {
	b, dataDir := newTestBackuper(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		makeBackupDir(t, dataDir, now.Add(-time.Duration(i)*time.Hour))
	}
	require.NoError(t, b.Rotate(now))

	entries, err := os.ReadDir(filepath.Join(dataDir, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 5, "fewer snapshots than dailyCount keeps all of them")
}

func TestRestoreRoundTripsAndSafetyCopies(t *testing.T) {
	b, dataDir := newTestBackuper(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.Snapshot(context.Background(), now))

	for _, name := range dbNames {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name+".db"), []byte("mutated-after-backup"), 0o600))
	}

	require.NoError(t, b.Restore("backup-2026-08-01T12-00-00"))

	for _, name := range dbNames {
		data, err := os.ReadFile(filepath.Join(dataDir, name+".db"))
		require.NoError(t, err)
		require.Equal(t, "fake-sqlite-bytes-"+name, string(data))
	}

	entries, err := os.ReadDir(filepath.Join(dataDir, "backups"))
	require.NoError(t, err)
	var sawSafety bool
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > len("restore-safety-") && e.Name()[:len("restore-safety-")] == "restore-safety-" {
			sawSafety = true
		}
	}
	require.True(t, sawSafety, "Restore should leave a restore-safety-* directory with the pre-restore files")
}
