package core

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/backends"
	"github.com/ebogdum/hnsfs/backends/localfs"
	"github.com/ebogdum/hnsfs/backends/memory"
	"github.com/ebogdum/hnsfs/backends/s3"
	"github.com/ebogdum/hnsfs/backends/sqlstore"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/locks"
)

// Backend type names accepted in configuration
const (
	BackendMemory   = "memory"
	BackendLocalFS  = "localfs"
	BackendS3       = "s3"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// OpenStorage creates the backend selected by cfg.Type
func OpenStorage(cfg config.BackendConfig, logger *zap.Logger) (backends.Storage, error) {
	switch cfg.Type {
	case BackendMemory:
		return memory.New(), nil
	case BackendLocalFS:
		if err := os.MkdirAll(cfg.LocalFSRootPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create local root %s: %w", cfg.LocalFSRootPath, err)
		}
		return localfs.NewLocalFSAdapter(cfg.LocalFSRootPath)
	case BackendS3:
		return s3.NewS3Adapter(cfg, logger)
	case BackendSQLite:
		return sqlstore.NewSQLiteStore(cfg.SQLitePath, logger)
	case BackendPostgres:
		return sqlstore.NewPostgresStore(cfg.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

// NewLockManager creates the lock manager selected by cfg.Type. A shared
// backend served by several instances needs the redis manager.
func NewLockManager(cfg config.DLMConfig, logger *zap.Logger) (locks.Manager, error) {
	switch cfg.Type {
	case "", "local":
		return locks.NewLocalManager(), nil
	case "redis":
		return locks.NewRedisManager(cfg.RedisAddr, cfg.RedisPassword, cfg.LockTTL, logger)
	default:
		return nil, fmt.Errorf("unknown lock manager type %q", cfg.Type)
	}
}
