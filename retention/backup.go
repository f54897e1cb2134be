package retention

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/store"
)

// dbNames are the logical databases snapshotted by Backup, matching
// store.DBMeridian/DBJournal/DBSentinel.
var dbNames = []string{store.DBMeridian, store.DBJournal, store.DBSentinel}

// Backuper takes encrypted, rotated snapshots of the store's SQLite files.
type Backuper struct {
	dataDir string
	key     []byte
	logger  core.Logger

	dailyCount   int
	weeklyCount  int
	monthlyCount int
}

// BackupOption configures a Backuper.
type BackupOption func(*Backuper)

func WithDailyCount(n int) BackupOption   { return func(b *Backuper) { b.dailyCount = n } }
func WithWeeklyCount(n int) BackupOption  { return func(b *Backuper) { b.weeklyCount = n } }
func WithMonthlyCount(n int) BackupOption { return func(b *Backuper) { b.monthlyCount = n } }
func WithBackupLogger(l core.Logger) BackupOption { return func(b *Backuper) { b.logger = l } }

// NewBackuper builds a Backuper rooted at dataDir, encrypting snapshots with
// key (see DeriveKey).
func NewBackuper(dataDir string, key []byte, opts ...BackupOption) *Backuper {
	b := &Backuper{
		dataDir:      dataDir,
		key:          key,
		logger:       &core.NoOpLogger{},
		dailyCount:   7,
		weeklyCount:  4,
		monthlyCount: 12,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backuper) backupsDir() string { return filepath.Join(b.dataDir, "backups") }

// Snapshot reads each database file, encrypts it, and writes it under
// backup-<iso-timestamp>/<dbname>.backup.enc, retrying transient I/O
// failures with exponential backoff before giving up on a given file. It
// then rotates older snapshot directories. now is the timestamp to stamp
// the directory with, supplied by the caller (the lifecycle manager's idle
// scheduler) rather than read from the clock here.
func (b *Backuper) Snapshot(ctx context.Context, now time.Time) error {
	stamp := now.UTC().Format("2006-01-02T15-04-05")
	dir := filepath.Join(b.backupsDir(), "backup-"+stamp)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	var firstErr error
	for _, name := range dbNames {
		src := filepath.Join(b.dataDir, name+".db")
		dst := filepath.Join(dir, name+".backup.enc")
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, b.snapshotOne(src, dst)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
		if err != nil {
			b.logger.Error("backup snapshot failed", map[string]interface{}{"db": name, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}

	if err := b.Rotate(now); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (b *Backuper) snapshotOne(src, dst string) error {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	blob, err := Encrypt(b.key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", src, err)
	}
	return os.WriteFile(dst, blob, 0o600)
}

// backupDirTime parses the "backup-YYYY-MM-DDTHH-MM-SS" directory name.
func backupDirTime(name string) (time.Time, bool) {
	const prefix = "backup-"
	if !strings.HasPrefix(name, prefix) {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02T15-04-05", strings.TrimPrefix(name, prefix))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Rotate keeps the newest dailyCount snapshot directories, then one per
// distinct ISO week for up to weeklyCount beyond those, then one per
// distinct calendar month for up to monthlyCount beyond those, deleting
// everything else.
func (b *Backuper) Rotate(now time.Time) error {
	entries, err := os.ReadDir(b.backupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list backups: %w", err)
	}

	type snapshot struct {
		name string
		t    time.Time
	}
	var snaps []snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if t, ok := backupDirTime(e.Name()); ok {
			snaps = append(snaps, snapshot{e.Name(), t})
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].t.After(snaps[j].t) })

	keep := make(map[string]bool)
	for i := 0; i < len(snaps) && i < b.dailyCount; i++ {
		keep[snaps[i].name] = true
	}

	seenWeeks := make(map[string]bool)
	weeklyKept := 0
	for _, s := range snaps[min(b.dailyCount, len(snaps)):] {
		if weeklyKept >= b.weeklyCount {
			break
		}
		year, week := s.t.ISOWeek()
		key := fmt.Sprintf("%d-W%02d", year, week)
		if seenWeeks[key] {
			continue
		}
		seenWeeks[key] = true
		keep[s.name] = true
		weeklyKept++
	}

	seenMonths := make(map[string]bool)
	monthlyKept := 0
	for _, s := range snaps {
		if keep[s.name] {
			continue
		}
		if monthlyKept >= b.monthlyCount {
			break
		}
		key := s.t.Format("2006-01")
		if seenMonths[key] {
			continue
		}
		seenMonths[key] = true
		keep[s.name] = true
		monthlyKept++
	}

	for _, s := range snaps {
		if keep[s.name] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(b.backupsDir(), s.name)); err != nil {
			return fmt.Errorf("remove %s: %w", s.name, err)
		}
	}
	return nil
}

// Restore decrypts the named backup directory's files back into dataDir,
// first copying the current files aside as a safety copy so a failure
// partway through a multi-file restore never leaves the store in a mixed
// state silently. Each destination file is written atomically via a
// temp-file-then-rename.
func (b *Backuper) Restore(backupName string) error {
	dir := filepath.Join(b.backupsDir(), backupName)
	safety := filepath.Join(b.backupsDir(), "restore-safety-"+time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := os.MkdirAll(safety, 0o700); err != nil {
		return fmt.Errorf("create safety dir: %w", err)
	}

	for _, name := range dbNames {
		current := filepath.Join(b.dataDir, name+".db")
		if _, err := os.Stat(current); err == nil {
			if err := copyFile(current, filepath.Join(safety, name+".db")); err != nil {
				return fmt.Errorf("safety copy %s: %w", name, err)
			}
		}
	}

	for _, name := range dbNames {
		src := filepath.Join(dir, name+".backup.enc")
		blob, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read backup %s: %w", name, err)
		}
		plaintext, err := Decrypt(b.key, blob)
		if err != nil {
			return fmt.Errorf("decrypt backup %s: %w", name, err)
		}
		dst := filepath.Join(b.dataDir, name+".db")
		tmp := dst + ".restoring"
		if err := os.WriteFile(tmp, plaintext, 0o600); err != nil {
			return fmt.Errorf("write restored %s: %w", name, err)
		}
		if err := os.Rename(tmp, dst); err != nil {
			return fmt.Errorf("finalize restored %s: %w", name, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
