package maildir

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMessage(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("Subject: test\r\n\r\nbody\r\n"), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("setting mtime on %s: %v", path, err)
	}
	return path
}

func TestNewestPicksMostRecentFile(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	writeMessage(t, filepath.Join(root, "new"), "msg1", now.Add(-40*time.Second))
	want := writeMessage(t, filepath.Join(root, "new"), "msg2", now.Add(-5*time.Second))
	writeMessage(t, filepath.Join(root, "cur"), "msg3", now.Add(-20*time.Second))

	got, err := newestAt(root, now)
	if err != nil {
		t.Fatalf("newestAt() error: %v", err)
	}
	if got != want {
		t.Errorf("newestAt() = %s, want %s", got, want)
	}
}

func TestNewestIgnoresOldFiles(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	writeMessage(t, filepath.Join(root, "cur"), "old", now.Add(-5*time.Minute))

	_, err := newestAt(root, now)
	if !errors.Is(err, ErrNoRecentMessage) {
		t.Errorf("newestAt() error = %v, want ErrNoRecentMessage", err)
	}
}

func TestNewestIgnoresHiddenEntries(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	writeMessage(t, root, ".mbsyncstate", now)
	writeMessage(t, filepath.Join(root, ".notmuch"), "fresh", now)
	want := writeMessage(t, filepath.Join(root, "new"), "visible", now.Add(-30*time.Second))

	got, err := newestAt(root, now)
	if err != nil {
		t.Fatalf("newestAt() error: %v", err)
	}
	if got != want {
		t.Errorf("newestAt() = %s, want %s", got, want)
	}
}

func TestNewestEmptyMailbox(t *testing.T) {
	_, err := newestAt(t.TempDir(), time.Now())
	if !errors.Is(err, ErrNoRecentMessage) {
		t.Errorf("newestAt() error = %v, want ErrNoRecentMessage", err)
	}
}

func TestNewestMissingDirectory(t *testing.T) {
	_, err := newestAt(filepath.Join(t.TempDir(), "does-not-exist"), time.Now())
	if !errors.Is(err, ErrNoRecentMessage) {
		t.Errorf("newestAt() error = %v, want ErrNoRecentMessage", err)
	}
}
