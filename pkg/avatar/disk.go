package avatar

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// DiskStore stores avatars on the local filesystem and serves them under a
// public base URL.
type DiskStore struct {
	dir     string
	baseURL string
	maxSize int64
}

// NewDiskStore creates a DiskStore rooted at dir. Stored images are addressed
// as baseURL + "/" + key. maxSize of 0 means no limit.
func NewDiskStore(dir, baseURL string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskStore{
		dir:     dir,
		baseURL: baseURL,
		maxSize: maxSize,
	}, nil
}

// Put writes the image under key and returns its public URL.
func (s *DiskStore) Put(ctx context.Context, key, contentType string, size int64, r io.Reader) (string, error) {
	if s.maxSize > 0 && size > s.maxSize {
		return "", ErrTooLarge
	}

	dst := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var reader io.Reader = r
	if s.maxSize > 0 {
		reader = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(dst)
		return "", err
	}
	if s.maxSize > 0 && n > s.maxSize {
		os.Remove(dst)
		return "", ErrTooLarge
	}

	return s.publicURL(key), nil
}

func (s *DiskStore) publicURL(key string) string {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL + "/" + key
	}
	u.Path = path.Join(u.Path, key)
	return u.String()
}
