// Package maildir locates the most recently delivered message file in a
// maildir-style mailbox directory.
package maildir

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// freshnessWindow is how far back a file's modification time may lie for it
// to count as "just delivered". Matches the sync-then-inspect flow: the
// message was written moments ago by the synchronization command.
const freshnessWindow = time.Minute

// ErrNoRecentMessage means no message file was delivered within the
// freshness window.
var ErrNoRecentMessage = errors.New("no recently delivered message found")

// Newest returns the path of the most recently modified, non-hidden message
// file under root that is younger than the freshness window.
func Newest(root string) (string, error) {
	return newestAt(root, time.Now())
}

func newestAt(root string, now time.Time) (string, error) {
	cutoff := now.Add(-freshnessWindow)

	var newestPath string
	var newestTime time.Time

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden(d.Name()) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		mtime := info.ModTime()
		if mtime.Before(cutoff) {
			return nil
		}
		if mtime.After(newestTime) {
			newestTime = mtime
			newestPath = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if newestPath == "" {
		return "", ErrNoRecentMessage
	}
	return newestPath, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
