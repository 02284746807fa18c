// Package sqlite file: internal/adapter/registry/sqlite/lifecycle.go
package sqlite

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/core/port"
	"BundleConsole/internal/manifest"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
)

// ensureSystemBundle 写入(或更新)ID 为 0 的系统 bundle 并重建它的导出，随后重新解析其它 bundle
func (r *Registry) ensureSystemBundle(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bundles (id, symbolic_name, location, state, start_level, last_modified)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, last_modified = excluded.last_modified`,
		domain.SystemBundleID, systemBundleName, systemBundleLocation, int(domain.StateActive), r.now().UnixMilli()); err != nil {
		return fmt.Errorf("写入系统 bundle 失败: %w", err)
	}

	headers := map[string]string{
		domain.HeaderBundleSymbolicName: systemBundleName,
		domain.HeaderBundleName:         "System Bundle",
		domain.HeaderBundleVersion:      r.opts.FrameworkVersion,
	}
	if r.opts.SystemPackages != "" {
		headers[domain.HeaderExportPackage] = r.opts.SystemPackages
	}
	if err := replaceHeaders(ctx, tx, domain.SystemBundleID, headers); err != nil {
		return err
	}

	if err := unresolveTx(ctx, tx, domain.SystemBundleID); err != nil {
		return err
	}
	exports, err := r.parser.ParseExports(r.opts.SystemPackages)
	if err != nil {
		return fmt.Errorf("系统包配置非法: %w", err)
	}
	for _, ex := range exports {
		if _, err := insertExport(ctx, tx, domain.SystemBundleID, ex); err != nil {
			return err
		}
	}

	// 系统导出变化后，其余 bundle 全部重新连线
	if err := r.refreshTx(ctx, tx, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Install 按 location 安装或更新 bundle，返回 bundle ID。
// 更新已有 bundle 会对它及其依赖方执行一次刷新；AutoStart 的新 bundle 会尝试启动，失败只记录日志。
func (r *Registry) Install(ctx context.Context, d *Descriptor) (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	headers := d.ManifestHeaders()
	symbolicName := manifest.SymbolicName(headers[domain.HeaderBundleSymbolicName])
	startLevel := r.opts.InitialStartLevel
	if d.StartLevel != nil {
		startLevel = *d.StartLevel
	}
	now := r.now().UnixMilli()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM bundles WHERE location = ?`, d.Location).Scan(&id)
	existing := err == nil
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bundles (symbolic_name, location, state, start_level, last_modified)
			VALUES (?, ?, ?, ?, ?)`, symbolicName, d.Location, int(domain.StateInstalled), startLevel, now)
		if err != nil {
			return 0, fmt.Errorf("写入 bundle '%s' 失败: %w", d.Location, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("获取 bundle ID 失败: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("查询 bundle '%s' 失败: %w", d.Location, err)
	case id == domain.SystemBundleID:
		return 0, port.ErrSystemBundle
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE bundles SET symbolic_name = ?, start_level = ?, last_modified = ? WHERE id = ?`,
			symbolicName, startLevel, now, id); err != nil {
			return 0, fmt.Errorf("更新 bundle %d 失败: %w", id, err)
		}
	}

	if err := replaceHeaders(ctx, tx, id, headers); err != nil {
		return 0, err
	}
	if err := replaceResources(ctx, tx, id, d.Resources); err != nil {
		return 0, err
	}
	if err := replaceServices(ctx, tx, id, d.Services); err != nil {
		return 0, err
	}

	if existing {
		if err := r.refreshTx(ctx, tx, []int64{id}); err != nil {
			return 0, err
		}
	} else if d.AutoStart {
		if err := r.startTx(ctx, tx, id); err != nil {
			if !errors.Is(err, port.ErrUnresolvable) {
				return 0, err
			}
			log.Printf("警告: [BundleRegistry] 自动启动 bundle %d ('%s') 失败: %v", id, d.Location, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("提交安装事务失败: %w", err)
	}
	log.Printf("[BundleRegistry] bundle %d ('%s') 已安装/更新。", id, d.Location)
	return id, nil
}

// Start 启动 bundle，必要时先解析
func (r *Registry) Start(ctx context.Context, bundleID int64) error {
	return r.mutate(ctx, bundleID, r.startTx)
}

// Stop 停止处于 Active 状态的 bundle，其它状态下不做任何事
func (r *Registry) Stop(ctx context.Context, bundleID int64) error {
	return r.mutate(ctx, bundleID, func(ctx context.Context, tx *sql.Tx, id int64) error {
		state, err := bundleState(ctx, tx, id)
		if err != nil {
			return err
		}
		if state != domain.StateActive {
			return nil
		}
		return setState(ctx, tx, id, domain.StateResolved)
	})
}

// Uninstall 移除 bundle，并重新解析原先连线到它的 bundle
func (r *Registry) Uninstall(ctx context.Context, bundleID int64) error {
	return r.mutate(ctx, bundleID, r.uninstallTx)
}

// Refresh 重新计算指定 bundle 及其依赖方的连线；ids 为 nil 时刷新全部
func (r *Registry) Refresh(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if id == domain.SystemBundleID {
			return port.ErrSystemBundle
		}
		if _, err := bundleState(ctx, tx, id); err != nil {
			return err
		}
	}
	if err := r.refreshTx(ctx, tx, ids); err != nil {
		return err
	}
	return tx.Commit()
}

// UninstallLocation 按 location 卸载，bundle 不存在时直接返回
func (r *Registry) UninstallLocation(ctx context.Context, location string) error {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM bundles WHERE location = ?`, location).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询 bundle '%s' 失败: %w", location, err)
	}
	return r.Uninstall(ctx, id)
}

// mutate 在单个事务里对非系统 bundle 执行一次生命周期操作
func (r *Registry) mutate(ctx context.Context, bundleID int64, fn func(context.Context, *sql.Tx, int64) error) error {
	if bundleID == domain.SystemBundleID {
		return port.ErrSystemBundle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx, bundleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Registry) startTx(ctx context.Context, tx *sql.Tx, id int64) error {
	state, err := bundleState(ctx, tx, id)
	if err != nil {
		return err
	}
	switch state {
	case domain.StateActive:
		return nil
	case domain.StateInstalled:
		if err := r.resolveTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return setState(ctx, tx, id, domain.StateActive)
}

func (r *Registry) uninstallTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := bundleState(ctx, tx, id); err != nil {
		return err
	}
	dependents, err := dependentsOf(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := unresolveTx(ctx, tx, id); err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM bundle_headers WHERE bundle_id = ?`,
		`DELETE FROM bundle_resources WHERE bundle_id = ?`,
		`DELETE FROM bundle_services WHERE bundle_id = ?`,
		`DELETE FROM bundles WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("删除 bundle %d 失败: %w", id, err)
		}
	}

	var rest []int64
	for _, dep := range dependents {
		if dep != id && dep != domain.SystemBundleID {
			rest = append(rest, dep)
		}
	}
	if len(rest) == 0 {
		return nil
	}
	return r.refreshTx(ctx, tx, rest)
}

// refreshTx 解除 ids 及其传递依赖方的连线并重新解析，原先 Active 的 bundle 在解析成功后恢复 Active
func (r *Registry) refreshTx(ctx context.Context, tx *sql.Tx, ids []int64) error {
	var queue []int64
	if ids == nil {
		all, err := allBundleIDs(ctx, tx)
		if err != nil {
			return err
		}
		queue = all
	} else {
		queue = append(queue, ids...)
	}

	affected := make(map[int64]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == domain.SystemBundleID || affected[id] {
			continue
		}
		affected[id] = true
		deps, err := dependentsOf(ctx, tx, id)
		if err != nil {
			return err
		}
		queue = append(queue, deps...)
	}
	if len(affected) == 0 {
		return nil
	}

	pending := make([]int64, 0, len(affected))
	for id := range affected {
		pending = append(pending, id)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	wasActive := make(map[int64]bool)
	for _, id := range pending {
		state, err := bundleState(ctx, tx, id)
		if err != nil {
			return err
		}
		wasActive[id] = state == domain.StateActive
		if err := unresolveTx(ctx, tx, id); err != nil {
			return err
		}
		if err := setState(ctx, tx, id, domain.StateInstalled); err != nil {
			return err
		}
	}

	// 按 ID 顺序多轮解析，直到没有新的 bundle 能被解析
	for progress := true; progress && len(pending) > 0; {
		progress = false
		remaining := pending[:0]
		for _, id := range pending {
			err := r.resolveTx(ctx, tx, id)
			switch {
			case err == nil:
				progress = true
				if wasActive[id] {
					if err := setState(ctx, tx, id, domain.StateActive); err != nil {
						return err
					}
				}
			case errors.Is(err, port.ErrUnresolvable):
				remaining = append(remaining, id)
			default:
				return err
			}
		}
		pending = remaining
	}

	for _, id := range pending {
		log.Printf("警告: [BundleRegistry] 刷新后 bundle %d 仍无法解析，保持 Installed 状态。", id)
	}
	return nil
}

type exportCandidate struct {
	exportID int64
	version  domain.Version
}

// resolveTx 解析一个 Installed 状态的 bundle：写入它的导出，再为每个导入选择版本最高的导出方。
// 必需导入无法满足时返回 port.ErrUnresolvable，且不写入任何数据。
func (r *Registry) resolveTx(ctx context.Context, tx *sql.Tx, id int64) error {
	headers, err := r.headers(ctx, tx, id)
	if err != nil {
		return err
	}
	exports, err := r.parser.ParseExports(headers[domain.HeaderExportPackage])
	if err != nil {
		return fmt.Errorf("bundle %d 的 Export-Package 头非法: %w", id, err)
	}
	imports, err := r.parser.ParseImports(headers[domain.HeaderImportPackage])
	if err != nil {
		return fmt.Errorf("bundle %d 的 Import-Package 头非法: %w", id, err)
	}

	type wire struct {
		external *exportCandidate
		own      int
	}
	var (
		wires   []wire
		missing []string
	)
	for _, imp := range imports {
		// 已解析的导出方优先，其次是自身导出
		best, err := bestExport(ctx, tx, imp)
		if err != nil {
			return err
		}
		if best != nil {
			wires = append(wires, wire{external: best})
			continue
		}
		own := -1
		for i, ex := range exports {
			if imp.Satisfies(ex.Name, ex.Version) && (own < 0 || ex.Version.Compare(exports[own].Version) > 0) {
				own = i
			}
		}
		if own >= 0 {
			wires = append(wires, wire{own: own})
			continue
		}
		if imp.Optional {
			continue
		}
		has, err := resourceTx(ctx, tx, id, strings.ReplaceAll(imp.Name, ".", "/"))
		if err != nil {
			return err
		}
		if !has {
			missing = append(missing, imp.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: bundle %d 缺少 %s", port.ErrUnresolvable, id, strings.Join(missing, ", "))
	}

	ownIDs := make([]int64, len(exports))
	for i, ex := range exports {
		if ownIDs[i], err = insertExport(ctx, tx, id, ex); err != nil {
			return err
		}
	}
	for _, w := range wires {
		var exportID int64
		if w.external != nil {
			exportID = w.external.exportID
		} else {
			exportID = ownIDs[w.own]
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO package_wires (export_id, importer_id) VALUES (?, ?)`, exportID, id); err != nil {
			return fmt.Errorf("写入包连线失败: %w", err)
		}
	}
	return setState(ctx, tx, id, domain.StateResolved)
}

// bestExport 返回满足导入要求的版本最高的现有导出，相同版本取先导出的
func bestExport(ctx context.Context, tx *sql.Tx, imp manifest.ImportClause) (*exportCandidate, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, version FROM exported_packages WHERE name = ? ORDER BY id`, imp.Name)
	if err != nil {
		return nil, fmt.Errorf("查询导出包 '%s' 失败: %w", imp.Name, err)
	}
	defer rows.Close()

	var best *exportCandidate
	for rows.Next() {
		var c exportCandidate
		var raw string
		if err := rows.Scan(&c.exportID, &raw); err != nil {
			return nil, fmt.Errorf("扫描导出包失败: %w", err)
		}
		v, err := domain.ParseVersion(raw)
		if err != nil {
			continue
		}
		c.version = v
		if imp.Satisfies(imp.Name, v) && (best == nil || v.Compare(best.version) > 0) {
			best = &c
		}
	}
	return best, rows.Err()
}

func insertExport(ctx context.Context, tx *sql.Tx, bundleID int64, ex manifest.ExportClause) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO exported_packages (bundle_id, name, version) VALUES (?, ?, ?)`,
		bundleID, ex.Name, ex.Version.String())
	if err != nil {
		return 0, fmt.Errorf("写入导出包 '%s' 失败: %w", ex.Name, err)
	}
	return res.LastInsertId()
}

// unresolveTx 删除 bundle 的导出、指向这些导出的连线以及它自己的导入连线
func unresolveTx(ctx context.Context, tx *sql.Tx, id int64) error {
	for _, stmt := range []string{
		`DELETE FROM package_wires WHERE importer_id = ?`,
		`DELETE FROM package_wires WHERE export_id IN (SELECT id FROM exported_packages WHERE bundle_id = ?)`,
		`DELETE FROM exported_packages WHERE bundle_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("解除 bundle %d 的连线失败: %w", id, err)
		}
	}
	return nil
}

// dependentsOf 返回连线到该 bundle 导出的其它 bundle
func dependentsOf(ctx context.Context, tx *sql.Tx, id int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT w.importer_id
		FROM package_wires w JOIN exported_packages e ON e.id = w.export_id
		WHERE e.bundle_id = ? AND w.importer_id <> ?
		ORDER BY w.importer_id`, id, id)
	if err != nil {
		return nil, fmt.Errorf("查询 bundle %d 的依赖方失败: %w", id, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var dep int64
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("扫描依赖方失败: %w", err)
		}
		ids = append(ids, dep)
	}
	return ids, rows.Err()
}

func allBundleIDs(ctx context.Context, tx *sql.Tx) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM bundles WHERE id <> ? ORDER BY id`, domain.SystemBundleID)
	if err != nil {
		return nil, fmt.Errorf("查询 bundle ID 失败: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("扫描 bundle ID 失败: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func bundleState(ctx context.Context, tx *sql.Tx, id int64) (domain.BundleState, error) {
	var state int
	err := tx.QueryRowContext(ctx, `SELECT state FROM bundles WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: id=%d", port.ErrBundleNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("查询 bundle %d 的状态失败: %w", id, err)
	}
	return domain.BundleState(state), nil
}

func setState(ctx context.Context, tx *sql.Tx, id int64, state domain.BundleState) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE bundles SET state = ? WHERE id = ?`, int(state), id); err != nil {
		return fmt.Errorf("更新 bundle %d 的状态失败: %w", id, err)
	}
	return nil
}

func resourceTx(ctx context.Context, tx *sql.Tx, id int64, path string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM bundle_resources
		WHERE bundle_id = ? AND (path = ? OR substr(path, 1, ?) = ?)
		LIMIT 1`, id, path, len(path)+1, path+"/").Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询 bundle %d 的资源失败: %w", id, err)
	}
	return true, nil
}

func replaceHeaders(ctx context.Context, tx *sql.Tx, id int64, headers map[string]string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM bundle_headers WHERE bundle_id = ?`, id); err != nil {
		return fmt.Errorf("清理 bundle %d 的清单头失败: %w", id, err)
	}
	for name, value := range headers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bundle_headers (bundle_id, name, value) VALUES (?, ?, ?)`, id, name, value); err != nil {
			return fmt.Errorf("写入清单头 '%s' 失败: %w", name, err)
		}
	}
	return nil
}

func replaceResources(ctx context.Context, tx *sql.Tx, id int64, resources []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM bundle_resources WHERE bundle_id = ?`, id); err != nil {
		return fmt.Errorf("清理 bundle %d 的资源失败: %w", id, err)
	}
	for _, p := range resources {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO bundle_resources (bundle_id, path) VALUES (?, ?)`, id, p); err != nil {
			return fmt.Errorf("写入资源 '%s' 失败: %w", p, err)
		}
	}
	return nil
}

func replaceServices(ctx context.Context, tx *sql.Tx, id int64, services []ServiceDescriptor) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM bundle_services WHERE bundle_id = ?`, id); err != nil {
		return fmt.Errorf("清理 bundle %d 的服务失败: %w", id, err)
	}
	for _, svc := range services {
		raw, err := json.Marshal(svc.serviceProperties())
		if err != nil {
			return fmt.Errorf("序列化服务属性失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bundle_services (bundle_id, properties) VALUES (?, ?)`, id, string(raw)); err != nil {
			return fmt.Errorf("写入服务失败: %w", err)
		}
	}
	return nil
}
