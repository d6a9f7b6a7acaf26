package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirReader serves a single local bucket from a directory. Used by the local
// server and drop watcher.
type DirReader struct {
	bucket string
	root   string
}

// NewDirReader maps bucket to the directory root.
func NewDirReader(bucket, root string) *DirReader {
	return &DirReader{bucket: bucket, root: root}
}

// Read returns the file at root/key.
func (d *DirReader) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bucket != d.bucket {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}

	// Cleaning a rooted path drops any leading "..", keeping reads inside root.
	clean := filepath.Clean("/" + key)

	data, err := os.ReadFile(filepath.Join(d.root, clean))
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}
