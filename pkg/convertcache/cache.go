// Package convertcache is the on-disk store of converted artifacts, keyed by
// (book id, target format). It has no eviction; an external sweep clears it.
package convertcache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/foliobooks/folio/pkg/fileutils"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Key addresses one cached artifact.
type Key struct {
	BookID       string
	TargetFormat string
}

func (k Key) String() string {
	return k.BookID + "." + k.TargetFormat
}

// Cache owns its directory exclusively. At most one artifact exists per key;
// replacement is atomic.
type Cache struct {
	dir   string
	group singleflight.Group
}

func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the canonical location for a key, whether or not an artifact
// exists there.
func (c *Cache) Path(key Key) string {
	return filepath.Join(c.dir, key.String())
}

// Get returns the cached artifact path, or "" on a miss.
func (c *Cache) Get(key Key) string {
	path := c.Path(key)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}

// Put moves sourcePath into the canonical location for key, replacing any
// prior artifact. The move is write-temp-then-rename so readers never see a
// partial file.
func (c *Cache) Put(key Key, sourcePath string) (string, error) {
	dest := c.Path(key)
	tmp := fmt.Sprintf("%s.tmp.%d", dest, os.Getpid())

	if err := fileutils.MoveFile(sourcePath, tmp); err != nil {
		return "", errors.Wrap(err, "failed to stage artifact")
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "failed to publish artifact")
	}

	return dest, nil
}

// Remove deletes the artifact for key if present.
func (c *Cache) Remove(key Key) error {
	err := os.Remove(c.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// GetOrConvert returns the cached artifact for key, invoking convert at most
// once across concurrent callers for the same key. convert must return the
// path of a freshly produced file, which is then moved into the cache. All
// waiters observe the same terminal result.
func (c *Cache) GetOrConvert(key Key, convert func() (string, error)) (string, error) {
	path, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if existing := c.Get(key); existing != "" {
			return existing, nil
		}

		produced, err := convert()
		if err != nil {
			return "", err
		}
		return c.Put(key, produced)
	})
	if err != nil {
		return "", err
	}
	return path.(string), nil
}
