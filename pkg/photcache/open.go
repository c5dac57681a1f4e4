package photcache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Backend names accepted by OpenStore.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// BackendConfig selects and configures a Store.
type BackendConfig struct {
	// Backend is one of file, sqlite, s3 or memory. Empty means file.
	Backend string

	// Dir is the cache directory for the file backend and the default
	// location of the sqlite database.
	Dir string

	// SQLitePath overrides <Dir>/cache.db.
	SQLitePath string

	S3 S3Config
}

// OpenStore builds the Store named by cfg.Backend.
func OpenStore(ctx context.Context, cfg BackendConfig) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", BackendFile:
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, fmt.Errorf("cache dir is required for the %s backend", BackendFile)
		}
		return NewFileStore(cfg.Dir), nil
	case BackendSQLite:
		path := strings.TrimSpace(cfg.SQLitePath)
		if path == "" {
			if strings.TrimSpace(cfg.Dir) == "" {
				return nil, fmt.Errorf("cache dir or sqlite path is required for the %s backend", BackendSQLite)
			}
			path = filepath.Join(cfg.Dir, "cache.db")
		}
		return OpenSQLite(ctx, SQLiteConfig{Path: path})
	case BackendS3:
		return NewS3Store(ctx, cfg.S3)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q (expected file, sqlite, s3 or memory)", cfg.Backend)
	}
}
