package logger

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPruneLogsRemovesOnlyExpiredDatedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

	touch(t, dir, "data_sync_20240101.log")     // expired
	touch(t, dir, "data_sync_20240229.log")     // expired (cutoff is 2024-03-01 12:00)
	touch(t, dir, "data_sync_20240302.log")     // kept
	touch(t, dir, "data_sync_20240331.log")     // kept
	touch(t, dir, "data_sync_garbage.log")      // unparseable, kept
	touch(t, dir, "other_20200101.log")         // different prefix, kept
	touch(t, dir, "data_sync_20200101.log.bak") // not a .log file, kept

	removed := PruneLogs(dir, "", 30, now)
	sort.Strings(removed)
	want := []string{"data_sync_20240101.log", "data_sync_20240229.log"}
	if len(removed) != len(want) || removed[0] != want[0] || removed[1] != want[1] {
		t.Fatalf("removed = %v, want %v", removed, want)
	}

	for _, name := range []string{"data_sync_20240302.log", "data_sync_20240331.log", "data_sync_garbage.log", "other_20200101.log", "data_sync_20200101.log.bak"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should still exist: %v", name, err)
		}
	}
}

func TestPruneLogsMissingDirectory(t *testing.T) {
	if removed := PruneLogs(filepath.Join(t.TempDir(), "nope"), "", 30, time.Now()); len(removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", removed)
	}
}
