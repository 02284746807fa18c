// Package port file: internal/core/port/registry.go
package port

import (
	"BundleConsole/internal/core/domain"
	"context"
	"errors"
)

// Standard errors
var (
	ErrBundleNotFound   = errors.New("指定的 bundle 不存在")
	ErrSystemBundle     = errors.New("系统 bundle 不允许执行该操作")
	ErrIllegalState     = errors.New("bundle 当前状态不允许执行该操作")
	ErrUnresolvable     = errors.New("bundle 存在无法满足的导入依赖")
	ErrPermissionDenied = errors.New("权限不足，操作被拒绝")
	ErrUnknownAction    = errors.New("不支持的 bundle 操作")
)

// BundleRegistry 是外部运行时的只读查询能力。
// 每次调用都返回查询瞬间的快照，调用方不得修改或长期持有。
type BundleRegistry interface {
	// Bundles 按注册表原生顺序返回所有 bundle
	Bundles(ctx context.Context) ([]domain.Bundle, error)

	// Bundle 按 ID 查询，不存在时返回 (nil, nil)
	Bundle(ctx context.Context, id int64) (*domain.Bundle, error)

	// ExportedPackages 返回指定 bundle 当前导出的包
	ExportedPackages(ctx context.Context, bundleID int64) ([]domain.ExportedPackage, error)

	// AllExportedPackages 返回整个运行时当前导出的所有包
	AllExportedPackages(ctx context.Context) ([]domain.ExportedPackage, error)

	// RegisteredServices 返回指定 bundle 注册的服务
	RegisteredServices(ctx context.Context, bundleID int64) ([]domain.ServiceReference, error)

	// HasResource 判断 bundle 自身是否包含指定资源路径
	HasResource(ctx context.Context, bundleID int64, path string) (bool, error)

	// InitialBundleStartLevel 返回新安装 bundle 的默认启动级别
	InitialBundleStartLevel(ctx context.Context) (int, error)
}

// BundleLifecycle 是运行时的生命周期控制能力
type BundleLifecycle interface {
	Start(ctx context.Context, bundleID int64) error
	Stop(ctx context.Context, bundleID int64) error
	Uninstall(ctx context.Context, bundleID int64) error

	// Refresh 重新计算指定 bundle 的连线；ids 为 nil 时刷新全部
	Refresh(ctx context.Context, ids []int64) error
}

// ActionRecorder 持久化生命周期操作的审计记录
type ActionRecorder interface {
	RecordAction(ctx context.Context, rec domain.ActionRecord) error
	RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error)
}
