package store

import "fmt"

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		secret TEXT UNIQUE NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		request_limit INTEGER NOT NULL DEFAULT 1000 CHECK (request_limit > 0),
		created_at DATETIME NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner_created ON api_keys(owner_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		subject TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		last_login_at DATETIME NOT NULL,
		UNIQUE(provider, subject)
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		secret TEXT UNIQUE NOT NULL,
		usage_count BIGINT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		request_limit INTEGER NOT NULL DEFAULT 1000 CHECK (request_limit > 0),
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner_created ON api_keys(owner_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		subject TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		last_login_at TIMESTAMPTZ NOT NULL,
		UNIQUE(provider, subject)
	)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes live in the table
// definition.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		secret VARCHAR(255) NOT NULL,
		usage_count BIGINT NOT NULL DEFAULT 0,
		request_limit INT NOT NULL DEFAULT 1000,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_api_keys_secret (secret),
		KEY idx_api_keys_owner_created (owner_id, created_at),
		CONSTRAINT chk_api_keys_usage CHECK (usage_count >= 0),
		CONSTRAINT chk_api_keys_limit CHECK (request_limit > 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		provider VARCHAR(64) NOT NULL,
		subject VARCHAR(255) NOT NULL,
		email VARCHAR(320) NOT NULL DEFAULT '',
		name VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		last_login_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_users_provider_subject (provider, subject)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqlserverMigrations = []string{
	`IF OBJECT_ID(N'api_keys', N'U') IS NULL
	CREATE TABLE api_keys (
		id NVARCHAR(36) NOT NULL PRIMARY KEY,
		owner_id NVARCHAR(255) NOT NULL,
		name NVARCHAR(255) NOT NULL,
		secret NVARCHAR(255) NOT NULL CONSTRAINT uq_api_keys_secret UNIQUE,
		usage_count BIGINT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		request_limit INT NOT NULL DEFAULT 1000 CHECK (request_limit > 0),
		created_at DATETIME2 NOT NULL
	)`,

	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'idx_api_keys_owner_created')
	CREATE INDEX idx_api_keys_owner_created ON api_keys(owner_id, created_at DESC)`,

	`IF OBJECT_ID(N'users', N'U') IS NULL
	CREATE TABLE users (
		id NVARCHAR(36) NOT NULL PRIMARY KEY,
		provider NVARCHAR(64) NOT NULL,
		subject NVARCHAR(255) NOT NULL,
		email NVARCHAR(320) NOT NULL DEFAULT '',
		name NVARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME2 NOT NULL,
		last_login_at DATETIME2 NOT NULL,
		CONSTRAINT uq_users_provider_subject UNIQUE (provider, subject)
	)`,
}

func (s *SQLStore) migrate() error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
