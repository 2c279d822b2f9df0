package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrMiss is returned when a key has no snapshot, or only expired ones.
var ErrMiss = errors.New("cache miss")

// Fixed-width so that lexical order of filenames is chronological.
const filenameLayout = "2006-01-02T15-04-05.000000000"

// Cache stores JSON snapshots on disk, one directory per key and one
// timestamped file per snapshot. The newest file wins.
type Cache struct {
	dir string
	now func() time.Time
}

// New creates a cache rooted at dir. The directory is created lazily.
func New(dir string) *Cache {
	return &Cache{dir: dir, now: time.Now}
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) keyDir(key string) string {
	return filepath.Join(c.dir, key)
}

// Save serializes data to a new snapshot for key and returns its path.
func Save[T any](c *Cache, key string, data T) (string, error) {
	return SaveAt(c, key, data, c.now())
}

// SaveAt writes the snapshot for key stamped at. A snapshot with the same
// stamp is overwritten, so rewriting a loaded snapshot keeps its age.
func SaveAt[T any](c *Cache, key string, data T, at time.Time) (string, error) {
	dir := c.keyDir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	path := filepath.Join(dir, at.UTC().Format(filenameLayout)+".json")

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write cache entry: %w", err)
	}

	return path, nil
}

// Latest loads the newest snapshot for key along with the time it was saved.
// Snapshots older than maxAge count as a miss; maxAge <= 0 accepts any age.
func Latest[T any](c *Cache, key string, maxAge time.Duration) (T, time.Time, error) {
	var zero T

	path, savedAt, err := c.latestFile(key)
	if err != nil {
		return zero, time.Time{}, err
	}
	if maxAge > 0 && c.now().Sub(savedAt) > maxAge {
		return zero, savedAt, ErrMiss
	}

	data, err := Load[T](path)
	if err != nil {
		return zero, time.Time{}, err
	}
	return data, savedAt, nil
}

// Load reads JSON data from a specific snapshot file.
func Load[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return data, nil
}

// Trim keeps the newest keep snapshots for key and removes the rest.
func (c *Cache) Trim(key string, keep int) error {
	files, err := c.files(key)
	if err != nil || len(files) <= keep {
		return err
	}
	for _, name := range files[:len(files)-keep] {
		if err := os.Remove(filepath.Join(c.keyDir(key), name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (c *Cache) latestFile(key string) (string, time.Time, error) {
	files, err := c.files(key)
	if err != nil {
		return "", time.Time{}, err
	}
	if len(files) == 0 {
		return "", time.Time{}, ErrMiss
	}

	name := files[len(files)-1]
	savedAt, err := time.Parse(filenameLayout, name[:len(name)-len(".json")])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("unexpected cache file %s: %w", name, err)
	}
	return filepath.Join(c.keyDir(key), name), savedAt, nil
}

// files lists snapshot names for key, oldest first. os.ReadDir sorts by name,
// which is chronological for our timestamps.
func (c *Cache) files(key string) ([]string, error) {
	entries, err := os.ReadDir(c.keyDir(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}
