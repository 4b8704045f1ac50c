// Package thumbs maintains an on-disk thumbnail cache keyed by image
// id and modification time, so a changed file invalidates its old
// thumbnail automatically.
package thumbs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const defaultMaxSize = 512

// Cache resizes source images into JPEG thumbnails under dir.
type Cache struct {
	dir     string
	maxSize int
}

// NewCache creates a thumbnail cache. maxSize <= 0 falls back to the
// default edge length.
func NewCache(dir string, maxSize int) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	return &Cache{dir: dir, maxSize: maxSize}, nil
}

// Path returns the cache file location for one image revision.
func (c *Cache) Path(imageID int64, mtime float64) string {
	return filepath.Join(c.dir, fmt.Sprintf("thumb_%d_%.0f.jpg", imageID, mtime))
}

// Get returns the thumbnail path for the image, generating it on the
// first request. Stale thumbnails from earlier revisions of the same
// image are removed once the new one is written.
func (c *Cache) Get(imageID int64, mtime float64, srcPath string) (string, error) {
	thumbPath := c.Path(imageID, mtime)
	if _, err := os.Stat(thumbPath); err == nil {
		return thumbPath, nil
	}

	src, err := imaging.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	thumb := imaging.Fit(src, c.maxSize, c.maxSize, imaging.Lanczos)
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}

	c.removeStale(imageID, thumbPath)
	return thumbPath, nil
}

// removeStale deletes thumbnails of older revisions of the image.
func (c *Cache) removeStale(imageID int64, keep string) {
	matches, err := filepath.Glob(filepath.Join(c.dir, fmt.Sprintf("thumb_%d_*.jpg", imageID)))
	if err != nil {
		return
	}
	for _, match := range matches {
		if match != keep {
			_ = os.Remove(match)
		}
	}
}
