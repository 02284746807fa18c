// file: internal/service/db_init.go
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// OpenSystemDB 打开(或创建)控制台自身的系统数据库
func OpenSystemDB(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建系统数据库目录 '%s' 失败: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开/创建系统数据库 '%s' 失败: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接系统数据库 '%s' (Ping) 失败: %w", path, err)
	}
	return db, nil
}

// InitConsoleTables 在启动时检查并创建控制台自身的系统表
func InitConsoleTables(ctx context.Context, db *sql.DB) error {
	if err := initUserTable(ctx, db); err != nil {
		return fmt.Errorf("初始化用户表失败: %w", err)
	}
	if err := initActionLogTable(ctx, db); err != nil {
		return fmt.Errorf("初始化操作日志表失败: %w", err)
	}
	log.Println("✅ 数据库: 所有系统表结构初始化/检查完成。")
	return nil
}

func initUserTable(ctx context.Context, db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS _user(
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL
    );`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("创建 '_user' 表失败: %w", err)
	}
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_user_username ON _user (username);`)
	return err
}

// initActionLogTable 创建 bundle 操作审计表，远程注册表后端时使用
func initActionLogTable(ctx context.Context, db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS console_action_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        action_id TEXT NOT NULL UNIQUE,
        bundle_id INTEGER NOT NULL,
        action TEXT NOT NULL,
        succeeded BOOLEAN NOT NULL,
        message TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL
    );`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("创建 'console_action_log' 表失败: %w", err)
	}
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_action_log_created ON console_action_log(created_at);`)
	return err
}
