// Package backup snapshots and restores the SQLite database.
package backup

import (
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Options control one snapshot.
type Options struct {
	// Output is the target file; empty picks a timestamped name under Dir.
	Output   string
	Dir      string
	Compress bool
	Now      func() time.Time
}

// Create writes a consistent copy of db with VACUUM INTO and returns its path.
func Create(ctx context.Context, db *sql.DB, opts Options) (string, error) {
	if db == nil {
		return "", errors.New("backup: database is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	target := opts.Output
	if target == "" {
		dir := opts.Dir
		if dir == "" {
			dir = "data/backups"
		}
		ext := ".db"
		if opts.Compress {
			ext += ".gz"
		}
		target = filepath.Join(dir, namePrefix+now().UTC().Format("20060102_150405")+ext)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	snapshot := target
	if opts.Compress {
		snapshot = strings.TrimSuffix(target, ".gz")
		if snapshot == target {
			snapshot = target + ".tmp"
		}
	}
	_ = os.Remove(snapshot)
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return "", fmt.Errorf("sqlite vacuum into: %w", err)
	}
	if !opts.Compress {
		return target, nil
	}
	defer os.Remove(snapshot)
	if err := compressFile(snapshot, target); err != nil {
		return "", err
	}
	return target, nil
}

// Restore replaces dbPath with the backup at src, keeping the current file as
// dbPath.pre_restore_<timestamp>. Gzip backups are detected by their .gz suffix.
// The returned path is the safety copy, empty when dbPath did not exist.
func Restore(src, dbPath string, now time.Time) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("backup file not found: %w", err)
	}
	var safety string
	if _, err := os.Stat(dbPath); err == nil {
		safety = dbPath + ".pre_restore_" + now.UTC().Format("20060102_150405")
		if err := copyFile(dbPath, safety); err != nil {
			return "", fmt.Errorf("save current database: %w", err)
		}
	}

	source := src
	if strings.HasSuffix(src, ".gz") {
		tmp := dbPath + ".restoring"
		if err := decompressFile(src, tmp); err != nil {
			return safety, fmt.Errorf("decompress: %w", err)
		}
		defer os.Remove(tmp)
		source = tmp
	}
	if err := copyFile(source, dbPath); err != nil {
		return safety, fmt.Errorf("restore: %w", err)
	}
	// Stale WAL pages would be replayed over the restored file.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	return safety, nil
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
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func decompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
