package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ClearDir removes the directory and all contents, then recreates it so the
// location remains a valid empty cache.
func ClearDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// PurgeHTTPCacheByAge removes HTTP cache entries whose SavedAt timestamp is
// older than maxAge, deleting both the <key>.meta.json and <key>.body files.
func PurgeHTTPCacheByAge(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".meta.json") {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil // skip unreadable
		}
		var e HTTPEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil // skip malformed
		}
		if now.Sub(e.SavedAt) <= maxAge {
			return nil
		}
		removed++
		_ = os.Remove(path)
		_ = os.Remove(strings.TrimSuffix(path, ".meta.json") + ".body")
		return nil
	})
	return removed, err
}

// PurgeLLMCacheByAge removes LLM cache entries older than maxAge by file
// modification time. LLM entries are the plain .json leaf files; HTTP
// .meta.json and .body files are left alone.
func PurgeLLMCacheByAge(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isLLMCacheFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime().UTC()) <= maxAge {
			return nil
		}
		removed++
		_ = os.Remove(path)
		return nil
	})
	return removed, err
}

func isLLMCacheFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".meta.json")
}

// EnforceHTTPCacheLimits evicts least-recently-used HTTP cache entries until
// the directory fits within maxBytes and maxCount. A non-positive limit
// disables that dimension. Returns the number of entries removed.
func EnforceHTTPCacheLimits(dir string, maxBytes int64, maxCount int) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, errors.New("empty dir")
	}
	if maxBytes <= 0 && maxCount <= 0 {
		return 0, nil
	}
	type entry struct {
		base  string
		mtime time.Time
		bytes int64
	}
	entries := make([]entry, 0, 64)
	var totalBytes int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".meta.json") {
			return nil
		}
		base := strings.TrimSuffix(path, ".meta.json")
		var size int64
		var mt time.Time
		if info, err := os.Stat(path); err == nil {
			size += info.Size()
			mt = info.ModTime().UTC()
		}
		if info, err := os.Stat(base + ".body"); err == nil {
			size += info.Size()
			if bmt := info.ModTime().UTC(); bmt.After(mt) {
				mt = bmt
			}
		}
		entries = append(entries, entry{base: base, mtime: mt, bytes: size})
		totalBytes += size
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })

	totalCount := len(entries)
	over := func() bool {
		return (maxCount > 0 && totalCount > maxCount) || (maxBytes > 0 && totalBytes > maxBytes)
	}
	removed := 0
	for _, e := range entries {
		if !over() {
			break
		}
		_ = os.Remove(e.base + ".meta.json")
		_ = os.Remove(e.base + ".body")
		totalBytes -= e.bytes
		totalCount--
		removed++
	}
	return removed, nil
}

// EnforceLLMCacheLimits evicts least-recently-used LLM cache entries until
// the directory fits within maxBytes and maxCount.
func EnforceLLMCacheLimits(dir string, maxBytes int64, maxCount int) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, errors.New("empty dir")
	}
	if maxBytes <= 0 && maxCount <= 0 {
		return 0, nil
	}
	type entry struct {
		path  string
		mtime time.Time
		bytes int64
	}
	entries := make([]entry, 0, 64)
	var totalBytes int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isLLMCacheFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, entry{path: path, mtime: info.ModTime().UTC(), bytes: info.Size()})
		totalBytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })

	totalCount := len(entries)
	over := func() bool {
		return (maxCount > 0 && totalCount > maxCount) || (maxBytes > 0 && totalBytes > maxBytes)
	}
	removed := 0
	for _, e := range entries {
		if !over() {
			break
		}
		if err := os.Remove(e.path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.path, err)
		}
		totalBytes -= e.bytes
		totalCount--
		removed++
	}
	return removed, nil
}
