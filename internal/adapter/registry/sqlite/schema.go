// Package sqlite file: internal/adapter/registry/sqlite/schema.go
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements 按顺序执行，全部幂等
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bundles (
		id            INTEGER PRIMARY KEY,
		symbolic_name TEXT    NOT NULL DEFAULT '',
		location      TEXT    NOT NULL UNIQUE,
		state         INTEGER NOT NULL,
		start_level   INTEGER,
		last_modified INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bundle_headers (
		bundle_id INTEGER NOT NULL,
		name      TEXT    NOT NULL,
		value     TEXT    NOT NULL,
		PRIMARY KEY (bundle_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS bundle_resources (
		bundle_id INTEGER NOT NULL,
		path      TEXT    NOT NULL,
		PRIMARY KEY (bundle_id, path)
	)`,
	`CREATE TABLE IF NOT EXISTS bundle_services (
		service_id INTEGER PRIMARY KEY AUTOINCREMENT,
		bundle_id  INTEGER NOT NULL,
		properties TEXT    NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exported_packages (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		bundle_id INTEGER NOT NULL,
		name      TEXT    NOT NULL,
		version   TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exported_packages_name ON exported_packages(name)`,
	`CREATE TABLE IF NOT EXISTS package_wires (
		export_id   INTEGER NOT NULL,
		importer_id INTEGER NOT NULL,
		PRIMARY KEY (export_id, importer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bundle_action_log (
		action_id  TEXT    PRIMARY KEY,
		bundle_id  INTEGER NOT NULL,
		action     TEXT    NOT NULL,
		succeeded  INTEGER NOT NULL,
		message    TEXT    NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bundle_action_log_created ON bundle_action_log(created_at)`,
}

// ensureSchema 创建注册表所需的全部表
func ensureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启建表事务失败: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	return tx.Commit()
}
