package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/robert-at-pretension-io/cforge/internal/config"
	"github.com/robert-at-pretension-io/cforge/internal/corpus"
	"github.com/robert-at-pretension-io/cforge/internal/extractor"
)

const cacheIndexVersion = 1

// recordsVersion changes whenever selection or record building changes
// what a given file produces.
const recordsVersion = "records-4"

type cacheEntry struct {
	ContentHash string `json:"content_hash"`
	RecordsPath string `json:"records_path"`
	Version     string `json:"version"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// cachedUnit is the msgpack payload stored per file.
type cachedUnit struct {
	Records    []corpus.Record       `msgpack:"records"`
	Rejections []extractor.Rejection `msgpack:"rejections"`
}

// recordCache maps a file and its content hash to the records selection
// produced for it. The version folds in the selection variant, so runs
// with a different mode or renaming setup never read each other's entries.
type recordCache struct {
	dir     string
	version string
	mu      sync.Mutex
	index   cacheIndex
}

func newRecordCache(dir, variant string) *recordCache {
	return &recordCache{
		dir:     dir,
		version: recordsVersion + "/" + variant,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func (c *recordCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *recordCache) recordsPathForFile(filePath string) string {
	h := sha256.Sum256([]byte(c.version + "\x00" + filePath))
	return filepath.Join(c.dir, "records", hex.EncodeToString(h[:])+".msgpack")
}

func (c *recordCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *recordCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.indexPath(), c.index)
}

func (c *recordCache) key(filePath string) string {
	return c.version + "\x00" + filePath
}

func (c *recordCache) Get(filePath, contentHash string) (cachedUnit, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[c.key(filePath)]
	c.mu.Unlock()
	if !ok || entry.ContentHash != contentHash || entry.Version != c.version {
		return cachedUnit{}, false, nil
	}

	data, err := os.ReadFile(entry.RecordsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cachedUnit{}, false, nil
		}
		return cachedUnit{}, false, fmt.Errorf("read cached records: %w", err)
	}
	var unit cachedUnit
	if err := msgpack.Unmarshal(data, &unit); err != nil {
		return cachedUnit{}, false, fmt.Errorf("parse cached records: %w", err)
	}
	return unit, true, nil
}

func (c *recordCache) Put(filePath, contentHash string, unit cachedUnit) error {
	data, err := msgpack.Marshal(&unit)
	if err != nil {
		return fmt.Errorf("marshal cached records: %w", err)
	}
	path := c.recordsPathForFile(filePath)
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	c.mu.Lock()
	c.index.Entries[c.key(filePath)] = cacheEntry{
		ContentHash: contentHash,
		RecordsPath: path,
		Version:     c.version,
	}
	c.mu.Unlock()
	return nil
}

func resolveCacheDir(rootPath, dir string) string {
	baseDir := rootPath
	if info, err := os.Stat(rootPath); err == nil && !info.IsDir() {
		baseDir = filepath.Dir(rootPath)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}
	return dir
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic replaces path in one rename so readers never see a
// partial file.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ClearCache removes the record cache for rootPath and returns the
// directory that was targeted.
func ClearCache(rootPath string, cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("clear cache: config is nil")
	}
	cacheDir := resolveCacheDir(rootPath, cfg.Analysis.Cache.Dir)
	if err := os.RemoveAll(cacheDir); err != nil {
		return cacheDir, fmt.Errorf("remove cache: %w", err)
	}
	return cacheDir, nil
}
