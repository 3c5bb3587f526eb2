// internal/storage/property_bag.go
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// PropertyBag is a per-user key/value store of serialized values.
// Writes overwrite the previous value; there is no merge.
type PropertyBag interface {
	// GetProperty returns the stored value and whether one exists.
	GetProperty(ctx context.Context, userID, key string) (string, bool, error)
	// SetProperty overwrites the value of key for userID.
	SetProperty(ctx context.Context, userID, key, value string) error
	Close() error
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]{0,127}$`)

// ValidateUserID rejects ids that cannot safely name a storage record.
func ValidateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) || strings.Contains(userID, "..") {
		return fmt.Errorf("invalid user id %q", userID)
	}
	return nil
}

// Open creates the property bag for backend. opts apply to the file backend only.
func Open(backend, dataDir, sqlitePath string, opts ...FileStorageOption) (PropertyBag, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStorage(dataDir, opts...)
	case BackendSQLite:
		return OpenSQLite(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
