package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	ShardSize = 50000
	RawExt    = ".tzb"
	GzExt     = ".tzb.gz"
	FailedDir = "_failed"
)

// Layout resolves where raw and compressed logs live.
type Layout struct {
	RawRoot string
	GzRoot  string
}

// Shard returns the directory bucket of a battle id.
func Shard(battleID int64) int64 {
	return battleID / ShardSize
}

// RawPath is {raw_root}/{shard}/{id}.tzb.
func (l Layout) RawPath(battleID int64) string {
	return filepath.Join(l.RawRoot, strconv.FormatInt(Shard(battleID), 10), strconv.FormatInt(battleID, 10)+RawExt)
}

// GzPath is {gz_root}/{shard}/{id}.tzb.gz.
func (l Layout) GzPath(battleID int64) string {
	return filepath.Join(l.GzRoot, strconv.FormatInt(Shard(battleID), 10), strconv.FormatInt(battleID, 10)+GzExt)
}

// BattleIDFromPath extracts the id from a raw or gz file name.
func BattleIDFromPath(path string) (int64, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, RawExt)

	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%q is not a battle log file name", filepath.Base(path))
	}
	return id, nil
}

// WriteAtomic writes data to a temp file in the target directory and renames it into place.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("couldn't create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("couldn't create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("couldn't write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("couldn't sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// WriteRaw stores a fetched payload under its raw path.
func (l Layout) WriteRaw(battleID int64, data []byte) (string, error) {
	path := l.RawPath(battleID)
	if err := WriteAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ListRaw walks the raw root and returns every raw log path, sorted. Quarantined files are skipped.
func (l Layout) ListRaw() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(l.RawRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.RawRoot && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == FailedDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), RawExt) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't list raw logs: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Quarantine moves a raw file that can't be parsed under {raw_root}/_failed.
func (l Layout) Quarantine(path string) (string, error) {
	target := filepath.Join(l.RawRoot, FailedDir, filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("couldn't quarantine %s: %w", path, err)
	}
	return target, nil
}

// Compress writes the gzip copy of the raw log and returns its path.
func (l Layout) Compress(battleID int64) (string, error) {
	raw, err := os.ReadFile(l.RawPath(battleID))
	if err != nil {
		return "", fmt.Errorf("couldn't read raw log %d: %w", battleID, err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	path := l.GzPath(battleID)
	if err := WriteAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// StreamGz writes the gzip copy of a battle to w, compressing the raw file on the fly when no copy exists.
func (l Layout) StreamGz(battleID int64, w io.Writer) error {
	if f, err := os.Open(l.GzPath(battleID)); err == nil {
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	}

	f, err := os.Open(l.RawPath(battleID))
	if err != nil {
		if os.IsNotExist(err) {
			return fs.ErrNotExist
		}
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(w)
	if _, err := io.Copy(zw, f); err != nil {
		return err
	}
	return zw.Close()
}
