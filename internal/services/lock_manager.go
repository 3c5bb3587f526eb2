// internal/services/lock_manager.go
package services

import (
	"context"
	"sync"
	"time"
)

// LockManager hands out one mutex per document key (user + property).
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
	maxLocks   int
}

// LockInfo wraps a lock with its bookkeeping.
type LockInfo struct {
	Mutex    *sync.Mutex
	LastUsed time.Time
	// refs counts holders and waiters; referenced locks are never evicted
	refs int
}

// NewLockManager creates a lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks:    make(map[string]*LockInfo),
		lockTTL:  30 * time.Minute,
		maxLocks: 200,
	}
}

func documentLockKey(userID, propertyKey string) string {
	return userID + "\x00" + propertyKey
}

func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	info, ok := lm.locks[key]
	if !ok {
		info = &LockInfo{Mutex: &sync.Mutex{}}
		lm.locks[key] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	info.refs--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithDocumentLock runs fn while holding the lock for one user's document.
func (lm *LockManager) ExecuteWithDocumentLock(userID, propertyKey string, fn func() error) error {
	info := lm.acquire(documentLockKey(userID, propertyKey))
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// StartCleanup periodically evicts idle locks until ctx is done.
func (lm *LockManager) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lm.cleanupUnusedLocks()
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// only clean up when the table has grown
	if len(lm.locks) <= lm.maxLocks {
		return 0
	}

	removed := 0
	now := time.Now()
	for key, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, key)
			removed++
		}
	}
	return removed
}
