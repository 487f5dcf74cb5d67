package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ObjectPutter is the remote copy target for archived logs.
type ObjectPutter interface {
	Put(ctx context.Context, bucket, key string, body io.Reader) error
}

// Archiver moves a stored raw log to its compressed location.
type Archiver struct {
	layout Layout
	remote ObjectPutter
	bucket string
}

// NewArchiver creates an archiver. remote may be nil to keep archives local only.
func NewArchiver(layout Layout, remote ObjectPutter, bucket string) *Archiver {
	return &Archiver{layout: layout, remote: remote, bucket: bucket}
}

// ObjectKey is the bucket key of an archived battle.
func ObjectKey(battleID int64) string {
	return filepath.ToSlash(filepath.Join(strconv.FormatInt(Shard(battleID), 10), strconv.FormatInt(battleID, 10)+GzExt))
}

// Archive compresses the raw log, mirrors it when a bucket is set and removes the raw file.
// The raw file is only removed once the compressed copy exists.
func (a *Archiver) Archive(ctx context.Context, battleID int64) (string, error) {
	gzPath, err := a.layout.Compress(battleID)
	if err != nil {
		return "", err
	}

	if a.remote != nil && a.bucket != "" {
		f, err := os.Open(gzPath)
		if err != nil {
			return "", err
		}
		err = a.remote.Put(ctx, a.bucket, ObjectKey(battleID), f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("couldn't mirror battle %d: %w", battleID, err)
		}
	}

	if err := os.Remove(a.layout.RawPath(battleID)); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("couldn't remove raw log %d: %w", battleID, err)
	}

	return gzPath, nil
}
