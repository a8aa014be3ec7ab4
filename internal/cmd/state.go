package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/catchat-dev/catchat/internal/appdir"
	"github.com/catchat-dev/catchat/internal/kv"
)

// openState opens the durable state backend selected by the configuration.
// The caller owns the returned store and must Close it.
func openState() (kv.Store, error) {
	stateDir, err := appdir.StateDir()
	if err != nil {
		return nil, err
	}
	switch cfg.Storage {
	case "sqlite":
		return kv.NewSQLiteStore(filepath.Join(stateDir, "state.db"))
	case "", "file":
		return kv.NewFileStore(stateDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}
