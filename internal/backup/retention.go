package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const namePrefix = "veo3_"

// Snapshot is one backup file found on disk.
type Snapshot struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// List returns the snapshots Create wrote into dir, newest first. A missing
// directory is an empty list.
func List(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var out []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, namePrefix) {
			continue
		}
		if !strings.HasSuffix(name, ".db") && !strings.HasSuffix(name, ".db.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Snapshot{Path: filepath.Join(dir, name), Size: info.Size(), ModTime: info.ModTime()})
	}
	// Names embed a UTC timestamp, so they sort chronologically.
	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(b.Path, a.Path) })
	return out, nil
}

// Prune deletes all but the newest keep snapshots in dir and returns the
// removed paths. keep <= 0 disables pruning.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	snaps, err := List(dir)
	if err != nil || len(snaps) <= keep {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, s := range snaps[keep:] {
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, s.Path)
	}
	return removed, errors.Join(errs...)
}
