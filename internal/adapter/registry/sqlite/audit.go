// Package sqlite file: internal/adapter/registry/sqlite/audit.go
package sqlite

import (
	"BundleConsole/internal/core/domain"
	"context"
	"fmt"
	"time"
)

const defaultRecentActions = 50

// RecordAction 写入一条生命周期操作审计记录
func (r *Registry) RecordAction(ctx context.Context, rec domain.ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bundle_action_log (action_id, bundle_id, action, succeeded, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ActionID, rec.BundleID, rec.Action, rec.Succeeded, rec.Message, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入操作记录 '%s' 失败: %w", rec.ActionID, err)
	}
	return nil
}

// RecentActions 按时间倒序返回最近的审计记录；limit <= 0 时使用默认值
func (r *Registry) RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = defaultRecentActions
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT action_id, bundle_id, action, succeeded, message, created_at
		FROM bundle_action_log ORDER BY created_at DESC, action_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询操作记录失败: %w", err)
	}
	defer rows.Close()

	var recs []domain.ActionRecord
	for rows.Next() {
		var rec domain.ActionRecord
		var createdAt int64
		if err := rows.Scan(&rec.ActionID, &rec.BundleID, &rec.Action, &rec.Succeeded, &rec.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("扫描操作记录失败: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
