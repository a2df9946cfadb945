package config

import "path/filepath"

// StorageConfig configures the local SQLite store.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`   // Empty = <data-dir>/sleuth.db
	SnapshotGraphs bool   `yaml:"snapshot_graphs"` // Persist the entity graph per iteration
}

// ResolveDatabasePath returns the database path, defaulting into the
// data directory when unset.
func (c *StorageConfig) ResolveDatabasePath(dataDir string) string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(dataDir, "sleuth.db")
}
