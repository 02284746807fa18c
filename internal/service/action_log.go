// file: internal/service/action_log.go
package service

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ port.ActionRecorder = (*ActionLog)(nil)

// ActionLog 把 bundle 操作审计写入系统数据库
type ActionLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewActionLog 创建 ActionLog，表结构由 InitConsoleTables 负责
func NewActionLog(db *sql.DB) *ActionLog {
	return &ActionLog{db: db, now: time.Now}
}

// RecordAction 实现 port.ActionRecorder
func (l *ActionLog) RecordAction(ctx context.Context, rec domain.ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO console_action_log (action_id, bundle_id, action, succeeded, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ActionID, rec.BundleID, rec.Action, rec.Succeeded, rec.Message, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("写入操作日志 '%s' 失败: %w", rec.ActionID, err)
	}
	return nil
}

// RecentActions 实现 port.ActionRecorder，按写入顺序倒序返回
func (l *ActionLog) RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT action_id, bundle_id, action, succeeded, message, created_at
		FROM console_action_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询操作日志失败: %w", err)
	}
	defer rows.Close()

	var recs []domain.ActionRecord
	for rows.Next() {
		var rec domain.ActionRecord
		if err := rows.Scan(&rec.ActionID, &rec.BundleID, &rec.Action, &rec.Succeeded, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描操作日志失败: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
