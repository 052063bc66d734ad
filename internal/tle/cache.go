package tle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoCache is returned by LoadLatest when the cache directory holds no
// element files.
var ErrNoCache = errors.New("no cached TLE data")

const (
	cachePrefix = "elements_"
	cacheSuffix = ".tle"
)

// Cache keeps raw element text on disk, one file per fetch, named by the
// fetch time.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache that stores files in dir and keeps at most maxFiles.
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Cache{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Write saves data under a name derived from ts and prunes old files beyond
// maxFiles. The file is written to a temporary name and renamed into place so
// a reader never sees a partial file.
func (c *Cache) Write(data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing cache file: %w", err)
	}

	path := filepath.Join(c.dir, cachePrefix+strconv.FormatInt(ts.Unix(), 10)+cacheSuffix)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming cache file: %w", err)
	}

	return c.prune()
}

// LoadLatest reads the newest cache file. It returns the data and the fetch
// time encoded in the file name, or ErrNoCache.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	files, err := c.listFiles()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, ErrNoCache
	}

	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, latest.ts, nil
}

// Latest returns the fetch time of the newest cache file, or the zero time
// if there is none.
func (c *Cache) Latest() time.Time {
	files, err := c.listFiles()
	if err != nil || len(files) == 0 {
		return time.Time{}
	}
	return files[len(files)-1].ts
}

type cacheFile struct {
	name string
	ts   time.Time
}

// listFiles returns the cache files sorted oldest first.
func (c *Cache) listFiles() ([]cacheFile, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var files []cacheFile
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, cachePrefix) || !strings.HasSuffix(name, cacheSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, cachePrefix), cacheSuffix)
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, cacheFile{name: name, ts: time.Unix(unix, 0).UTC()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})
	return files, nil
}

func (c *Cache) prune() error {
	files, err := c.listFiles()
	if err != nil {
		return err
	}
	if len(files) <= c.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-c.maxFiles] {
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", f.name, err)
		}
	}
	return nil
}
