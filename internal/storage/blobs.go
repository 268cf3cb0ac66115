package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Blobs stores file content by key.
type Blobs interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DiskBlobs keeps content as files in a directory.
type DiskBlobs struct {
	dir string
}

// NewDiskBlobs creates the directory if needed.
func NewDiskBlobs(dir string) (*DiskBlobs, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &DiskBlobs{dir: dir}, nil
}

// Put writes r to a new file named key.
func (b *DiskBlobs) Put(_ context.Context, key, _ string, r io.Reader) (int64, error) {
	path := filepath.Join(b.dir, key)

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("writing file: %w", err)
	}
	return size, nil
}

func (b *DiskBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(b.dir, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

func (b *DiskBlobs) Delete(_ context.Context, key string) error {
	if err := os.Remove(filepath.Join(b.dir, key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// countingReader counts bytes passed through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
