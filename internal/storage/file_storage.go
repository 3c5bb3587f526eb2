// internal/storage/file_storage.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const usersDir = "users"

// FileStorage keeps each user's properties in one JSON file under BaseDir/users.
type FileStorage struct {
	BaseDir string

	logger *zap.Logger

	// per-file locks, path -> *sync.RWMutex
	fileLocks sync.Map

	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int
}

// CacheEntry is a cached, decoded user file.
type CacheEntry struct {
	Record    userRecord
	Timestamp time.Time
}

type userRecord struct {
	UserID     string            `json:"user_id"`
	Properties map[string]string `json:"properties"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// FileStorageOption configures a FileStorage.
type FileStorageOption func(*FileStorage)

// WithLogger sets the logger used for background work.
func WithLogger(logger *zap.Logger) FileStorageOption {
	return func(fs *FileStorage) {
		if logger != nil {
			fs.logger = logger
		}
	}
}

// WithCache sets the cache expiry and size.
func WithCache(expiry time.Duration, maxSize int) FileStorageOption {
	return func(fs *FileStorage) {
		if expiry > 0 {
			fs.cacheExpiry = expiry
		}
		if maxSize > 0 {
			fs.maxCacheSize = maxSize
		}
	}
}

// NewFileStorage creates the file backend rooted at baseDir.
func NewFileStorage(baseDir string, opts ...FileStorageOption) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, usersDir), 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	fs := &FileStorage{
		BaseDir:      baseDir,
		logger:       zap.NewNop(),
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStorage) userPath(userID string) string {
	return filepath.Join(fs.BaseDir, usersDir, userID+".json")
}

// GetProperty implements PropertyBag.
func (fs *FileStorage) GetProperty(ctx context.Context, userID, key string) (string, bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	record, err := fs.loadRecord(userID)
	if err != nil {
		return "", false, err
	}
	value, ok := record.Properties[key]
	return value, ok, nil
}

// SetProperty implements PropertyBag. The user file is replaced atomically.
func (fs *FileStorage) SetProperty(ctx context.Context, userID, key, value string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := fs.userPath(userID)
	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	record, err := fs.readRecord(fullPath, userID)
	if err != nil {
		return err
	}
	record.Properties[key] = value
	record.UpdatedAt = time.Now().UTC()

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user properties: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			fs.logger.Warn("failed to clean up temp file", zap.String("path", tempPath), zap.Error(removeErr))
		}
		return fmt.Errorf("replace user file: %w", err)
	}

	fs.invalidateCache(fullPath)
	return nil
}

// Close implements PropertyBag.
func (fs *FileStorage) Close() error {
	fs.cacheMutex.Lock()
	fs.cache = make(map[string]*CacheEntry)
	fs.cacheMutex.Unlock()
	return nil
}

func (fs *FileStorage) loadRecord(userID string) (userRecord, error) {
	fullPath := fs.userPath(userID)

	if record, ok := fs.cached(fullPath); ok {
		return record, nil
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	// double check after taking the file lock
	if record, ok := fs.cached(fullPath); ok {
		return record, nil
	}

	record, err := fs.readRecord(fullPath, userID)
	if err != nil {
		return userRecord{}, err
	}
	fs.updateCache(fullPath, record)
	return record, nil
}

// readRecord reads a user file; a missing file is an empty record.
func (fs *FileStorage) readRecord(fullPath, userID string) (userRecord, error) {
	record := userRecord{UserID: userID, Properties: map[string]string{}}

	content, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return record, nil
	}
	if err != nil {
		return record, fmt.Errorf("read user file: %w", err)
	}
	if err := json.Unmarshal(content, &record); err != nil {
		return record, fmt.Errorf("decode user file: %w", err)
	}
	if record.Properties == nil {
		record.Properties = map[string]string{}
	}
	return record, nil
}

func (fs *FileStorage) cached(path string) (userRecord, bool) {
	fs.cacheMutex.RLock()
	defer fs.cacheMutex.RUnlock()

	entry, ok := fs.cache[path]
	if !ok || time.Since(entry.Timestamp) >= fs.cacheExpiry {
		return userRecord{}, false
	}
	return cloneRecord(entry.Record), true
}

func (fs *FileStorage) updateCache(path string, record userRecord) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &CacheEntry{Record: cloneRecord(record), Timestamp: time.Now()}

	if len(fs.cache) > fs.maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for key, entry := range fs.cache {
			if oldestKey == "" || entry.Timestamp.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.Timestamp
			}
		}
		delete(fs.cache, oldestKey)
	}
}

func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	delete(fs.cache, path)
}

// StartCacheCleanup evicts expired entries until ctx is done.
func (fs *FileStorage) StartCacheCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fs.cleanupExpiredCache()
				fs.enforceMaxCacheSize()
			}
		}
	}()
}

func (fs *FileStorage) cleanupExpiredCache() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range fs.cache {
		if now.Sub(entry.Timestamp) > fs.cacheExpiry {
			delete(fs.cache, path)
		}
	}
}

func (fs *FileStorage) enforceMaxCacheSize() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	if len(fs.cache) <= fs.maxCacheSize {
		return
	}

	type keyAge struct {
		key       string
		timestamp time.Time
	}
	entries := make([]keyAge, 0, len(fs.cache))
	for key, entry := range fs.cache {
		entries = append(entries, keyAge{key, entry.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})

	removeCount := len(entries) - fs.maxCacheSize
	for i := 0; i < removeCount; i++ {
		delete(fs.cache, entries[i].key)
	}
	fs.logger.Debug("cache size limit enforced", zap.Int("removed", removeCount))
}

// Watch drops cached user files that change on disk outside this process
// (hand edits, restores). It returns once the watcher is running.
func (fs *FileStorage) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Join(fs.BaseDir, usersDir)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				// event names are joined onto dir, the same form userPath produces
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					fs.invalidateCache(filepath.Clean(event.Name))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fs.logger.Warn("storage watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func cloneRecord(r userRecord) userRecord {
	props := make(map[string]string, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = v
	}
	r.Properties = props
	return r
}
