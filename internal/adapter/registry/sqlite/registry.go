// Package sqlite 是基于 SQLite 的本地 bundle 运行时。
// 它保存已安装 bundle、清单头、包连线与服务，并实现 port.BundleRegistry 与 port.BundleLifecycle。
// internal/adapter/registry/sqlite/registry.go
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
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// 断言 *Registry 实现各端口接口，编译期校验
var (
	_ port.BundleRegistry  = (*Registry)(nil)
	_ port.BundleLifecycle = (*Registry)(nil)
	_ port.ActionRecorder  = (*Registry)(nil)
)

const (
	systemBundleName     = "system.bundle"
	systemBundleLocation = "System Bundle"

	debounceDuration = 2 * time.Second
)

// Options 是本地运行时的参数
type Options struct {
	// SystemPackages 是系统 bundle 导出的包，格式同 Export-Package
	SystemPackages string
	// FrameworkVersion 写入系统 bundle 的 Bundle-Version
	FrameworkVersion  string
	InitialStartLevel int
}

// Registry 是 SQLite 运行时适配器的核心结构体
type Registry struct {
	db     *sql.DB
	parser *manifest.Parser
	opts   Options

	// mu 串行化所有写操作，读操作直接走数据库快照
	mu sync.Mutex

	// deployed 记录部署目录中的描述文件对应的 location，文件删除后用它卸载
	deployed   map[string]string
	deployedMu sync.Mutex

	eventTimers   map[string]*time.Timer
	eventTimersMu sync.Mutex
	debounce      time.Duration

	now func() time.Time
}

// Open 打开(或创建)指定路径的数据库文件并初始化注册表
func Open(ctx context.Context, path string, parser *manifest.Parser, opts Options) (*Registry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open '%s' 失败: %w", path, err)
	}
	// SQLite 写入本身串行，单连接避免 database is locked
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping 数据库 '%s' 失败: %w", path, err)
	}

	r, err := New(ctx, db, parser, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// New 在已打开的连接上建表并确保系统 bundle 存在
func New(ctx context.Context, db *sql.DB, parser *manifest.Parser, opts Options) (*Registry, error) {
	if db == nil {
		return nil, errors.New("数据库连接不能为 nil")
	}
	if parser == nil {
		return nil, errors.New("清单解析器不能为 nil")
	}
	if opts.InitialStartLevel <= 0 {
		opts.InitialStartLevel = 1
	}
	if opts.FrameworkVersion == "" {
		opts.FrameworkVersion = "1.0.0"
	}

	r := &Registry{
		db:          db,
		parser:      parser,
		opts:        opts,
		deployed:    make(map[string]string),
		eventTimers: make(map[string]*time.Timer),
		debounce:    debounceDuration,
		now:         time.Now,
	}

	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	if err := r.ensureSystemBundle(ctx); err != nil {
		return nil, fmt.Errorf("初始化系统 bundle 失败: %w", err)
	}
	log.Printf("[BundleRegistry] 本地运行时初始化完成，系统包: '%s'", opts.SystemPackages)
	return r, nil
}

// Close 关闭底层数据库连接，并停止尚未触发的防抖定时器
func (r *Registry) Close() error {
	r.eventTimersMu.Lock()
	for path, timer := range r.eventTimers {
		timer.Stop()
		delete(r.eventTimers, path)
	}
	r.eventTimersMu.Unlock()
	return r.db.Close()
}

// Bundles 按 ID 顺序返回所有 bundle
func (r *Registry) Bundles(ctx context.Context) ([]domain.Bundle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, symbolic_name, location, state, start_level, last_modified FROM bundles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查询 bundles 失败: %w", err)
	}
	defer rows.Close()

	var bundles []domain.Bundle
	index := make(map[int64]int)
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		index[b.ID] = len(bundles)
		bundles = append(bundles, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 bundles 失败: %w", err)
	}
	if len(bundles) == 0 {
		return nil, nil
	}

	hrows, err := r.db.QueryContext(ctx, `SELECT bundle_id, name, value FROM bundle_headers`)
	if err != nil {
		return nil, fmt.Errorf("查询清单头失败: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var id int64
		var name, value string
		if err := hrows.Scan(&id, &name, &value); err != nil {
			return nil, fmt.Errorf("扫描清单头失败: %w", err)
		}
		if i, ok := index[id]; ok {
			bundles[i].Headers[name] = value
		}
	}
	if err := hrows.Err(); err != nil {
		return nil, fmt.Errorf("遍历清单头失败: %w", err)
	}
	return bundles, nil
}

// Bundle 按 ID 查询，不存在时返回 (nil, nil)
func (r *Registry) Bundle(ctx context.Context, id int64) (*domain.Bundle, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, symbolic_name, location, state, start_level, last_modified FROM bundles WHERE id = ?`, id)
	b, err := scanBundle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	headers, err := r.headers(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	b.Headers = headers
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBundle(s rowScanner) (*domain.Bundle, error) {
	var (
		b            domain.Bundle
		state        int
		startLevel   sql.NullInt64
		lastModified int64
	)
	if err := s.Scan(&b.ID, &b.SymbolicName, &b.Location, &state, &startLevel, &lastModified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("扫描 bundle 失败: %w", err)
	}
	b.State = domain.BundleState(state)
	b.LastModified = time.UnixMilli(lastModified).UTC()
	if startLevel.Valid {
		level := int(startLevel.Int64)
		b.StartLevel = &level
	}
	b.Headers = make(map[string]string)
	return &b, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Registry) headers(ctx context.Context, q queryer, id int64) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, value FROM bundle_headers WHERE bundle_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("查询 bundle %d 的清单头失败: %w", id, err)
	}
	defer rows.Close()

	headers := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("扫描清单头失败: %w", err)
		}
		headers[name] = value
	}
	return headers, rows.Err()
}

const exportsQuery = `
	SELECT e.id, e.name, e.version, b.id, b.symbolic_name, b.location
	FROM exported_packages e JOIN bundles b ON b.id = e.bundle_id`

// ExportedPackages 返回指定 bundle 当前导出的包
func (r *Registry) ExportedPackages(ctx context.Context, bundleID int64) ([]domain.ExportedPackage, error) {
	return r.exports(ctx, exportsQuery+` WHERE e.bundle_id = ? ORDER BY e.id`, bundleID)
}

// AllExportedPackages 返回整个运行时当前导出的所有包
func (r *Registry) AllExportedPackages(ctx context.Context) ([]domain.ExportedPackage, error) {
	return r.exports(ctx, exportsQuery+` ORDER BY e.id`)
}

func (r *Registry) exports(ctx context.Context, query string, args ...any) ([]domain.ExportedPackage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询导出包失败: %w", err)
	}
	defer rows.Close()

	var exports []domain.ExportedPackage
	index := make(map[int64]int)
	for rows.Next() {
		var (
			exportID int64
			ep       domain.ExportedPackage
			version  string
		)
		if err := rows.Scan(&exportID, &ep.Name, &version, &ep.Exporter.ID, &ep.Exporter.SymbolicName, &ep.Exporter.Location); err != nil {
			return nil, fmt.Errorf("扫描导出包失败: %w", err)
		}
		if ep.Version, err = domain.ParseVersion(version); err != nil {
			return nil, fmt.Errorf("导出包 '%s' 的版本 '%s' 非法: %w", ep.Name, version, err)
		}
		index[exportID] = len(exports)
		exports = append(exports, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历导出包失败: %w", err)
	}
	if len(exports) == 0 {
		return nil, nil
	}

	wrows, err := r.db.QueryContext(ctx, `
		SELECT w.export_id, b.id, b.symbolic_name, b.location
		FROM package_wires w JOIN bundles b ON b.id = w.importer_id
		ORDER BY w.export_id, b.id`)
	if err != nil {
		return nil, fmt.Errorf("查询包连线失败: %w", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var exportID int64
		var importer domain.BundleRef
		if err := wrows.Scan(&exportID, &importer.ID, &importer.SymbolicName, &importer.Location); err != nil {
			return nil, fmt.Errorf("扫描包连线失败: %w", err)
		}
		if i, ok := index[exportID]; ok {
			exports[i].Importers = append(exports[i].Importers, importer)
		}
	}
	if err := wrows.Err(); err != nil {
		return nil, fmt.Errorf("遍历包连线失败: %w", err)
	}
	return exports, nil
}

// RegisteredServices 返回指定 bundle 注册的服务；只有处于 Active 状态的 bundle 才有服务
func (r *Registry) RegisteredServices(ctx context.Context, bundleID int64) ([]domain.ServiceReference, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.service_id, s.properties
		FROM bundle_services s JOIN bundles b ON b.id = s.bundle_id
		WHERE s.bundle_id = ? AND b.state = ?
		ORDER BY s.service_id`, bundleID, int(domain.StateActive))
	if err != nil {
		return nil, fmt.Errorf("查询 bundle %d 的服务失败: %w", bundleID, err)
	}
	defer rows.Close()

	var refs []domain.ServiceReference
	for rows.Next() {
		var serviceID int64
		var raw string
		if err := rows.Scan(&serviceID, &raw); err != nil {
			return nil, fmt.Errorf("扫描服务失败: %w", err)
		}
		props := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("服务 %d 的属性不是合法 JSON: %w", serviceID, err)
		}
		props[domain.ServiceID] = serviceID
		refs = append(refs, domain.ServiceReference{Properties: props})
	}
	return refs, rows.Err()
}

// HasResource 判断 bundle 是否包含指定路径，路径本身或其下任意条目都算
func (r *Registry) HasResource(ctx context.Context, bundleID int64, path string) (bool, error) {
	path = strings.Trim(path, "/")
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM bundle_resources
		WHERE bundle_id = ? AND (path = ? OR substr(path, 1, ?) = ?)
		LIMIT 1`, bundleID, path, len(path)+1, path+"/").Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询 bundle %d 的资源失败: %w", bundleID, err)
	}
	return true, nil
}

// InitialBundleStartLevel 返回新安装 bundle 的默认启动级别
func (r *Registry) InitialBundleStartLevel(_ context.Context) (int, error) {
	return r.opts.InitialStartLevel, nil
}
