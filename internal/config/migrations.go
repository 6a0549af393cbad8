package config

import (
	"fmt"
	"strings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		key_hash TEXT UNIQUE NOT NULL,
		last4 TEXT NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS key_metadata (
		id TEXT PRIMARY KEY,
		api_key_id TEXT UNIQUE NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		kind TEXT NOT NULL DEFAULT '',
		attributes_json TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_created_at ON api_keys(created_at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		key_hash TEXT UNIQUE NOT NULL,
		last4 TEXT NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS key_metadata (
		id TEXT PRIMARY KEY,
		api_key_id TEXT UNIQUE NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		kind TEXT NOT NULL DEFAULT '',
		attributes_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_created_at ON api_keys(created_at)`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(256) NOT NULL DEFAULT '',
		key_hash CHAR(64) NOT NULL UNIQUE,
		last4 VARCHAR(8) NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS key_metadata (
		id VARCHAR(36) PRIMARY KEY,
		api_key_id VARCHAR(36) NOT NULL UNIQUE,
		kind VARCHAR(64) NOT NULL DEFAULT '',
		attributes_json TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT fk_key_metadata_api_key FOREIGN KEY (api_key_id) REFERENCES api_keys(id) ON DELETE CASCADE
	) ENGINE=InnoDB`,

	// MySQL has no CREATE INDEX IF NOT EXISTS; a rerun reports a duplicate key name.
	`CREATE INDEX idx_api_keys_created_at ON api_keys(created_at)`,
}

var sqlserverMigrations = []string{
	`IF OBJECT_ID(N'api_keys', N'U') IS NULL
	CREATE TABLE api_keys (
		id NVARCHAR(36) NOT NULL PRIMARY KEY,
		name NVARCHAR(256) NOT NULL DEFAULT '',
		key_hash CHAR(64) NOT NULL UNIQUE,
		last4 NVARCHAR(8) NOT NULL,
		revoked BIT NOT NULL DEFAULT 0,
		created_at DATETIME2(6) NOT NULL DEFAULT SYSUTCDATETIME()
	)`,

	`IF OBJECT_ID(N'key_metadata', N'U') IS NULL
	CREATE TABLE key_metadata (
		id NVARCHAR(36) NOT NULL PRIMARY KEY,
		api_key_id NVARCHAR(36) NOT NULL UNIQUE,
		kind NVARCHAR(64) NOT NULL DEFAULT '',
		attributes_json NVARCHAR(MAX) NOT NULL DEFAULT '{}',
		created_at DATETIME2(6) NOT NULL DEFAULT SYSUTCDATETIME(),
		updated_at DATETIME2(6) NOT NULL DEFAULT SYSUTCDATETIME(),
		CONSTRAINT fk_key_metadata_api_key FOREIGN KEY (api_key_id) REFERENCES api_keys(id) ON DELETE CASCADE
	)`,

	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'idx_api_keys_created_at' AND object_id = OBJECT_ID(N'api_keys'))
	CREATE INDEX idx_api_keys_created_at ON api_keys(created_at)`,
}

func migrationsFor(driver string) ([]string, error) {
	switch driver {
	case DriverSQLite:
		return sqliteMigrations, nil
	case DriverPostgres:
		return postgresMigrations, nil
	case DriverMySQL:
		return mysqlMigrations, nil
	case DriverSQLServer:
		return sqlserverMigrations, nil
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}

func (s *Store) migrate() error {
	migrations, err := migrationsFor(s.driver)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Re-running a non-idempotent DDL statement is a no-op.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
