// Package domain file: internal/core/domain/bundle_models.go
package domain

import (
	"fmt"
	"time"
)

// 清单头字段名
const (
	HeaderBundleName         = "Bundle-Name"
	HeaderBundleSymbolicName = "Bundle-SymbolicName"
	HeaderBundleVersion      = "Bundle-Version"
	HeaderBundleVendor       = "Bundle-Vendor"
	HeaderBundleCopyright    = "Bundle-Copyright"
	HeaderBundleDescription  = "Bundle-Description"
	HeaderBundleDocURL       = "Bundle-DocURL"
	HeaderBundleClasspath    = "Bundle-ClassPath"
	HeaderExportPackage      = "Export-Package"
	HeaderImportPackage      = "Import-Package"
)

// SystemBundleID 是框架自身(系统 bundle)的固定 ID
const SystemBundleID int64 = 0

// BundleState 表示 bundle 的生命周期状态
type BundleState int

const (
	StateUninstalled BundleState = 1 << iota
	StateInstalled
	StateResolved
	StateStarting
	StateStopping
	StateActive
)

// String 返回控制台展示用的状态名
func (s BundleState) String() string {
	switch s {
	case StateInstalled:
		return "Installed"
	case StateResolved:
		return "Resolved"
	case StateStarting:
		return "Starting"
	case StateActive:
		return "Active"
	case StateStopping:
		return "Stopping"
	case StateUninstalled:
		return "Uninstalled"
	default:
		return fmt.Sprintf("Unknown: %d", int(s))
	}
}

// IsWired 表示该状态下的 bundle 已经完成解析(拥有导入/导出连线)
func (s BundleState) IsWired() bool {
	return s == StateResolved || s == StateStarting || s == StateActive || s == StateStopping
}

// Bundle 是注册表中某个 bundle 在查询瞬间的只读快照
type Bundle struct {
	ID           int64             `json:"id"`
	SymbolicName string            `json:"symbolic_name,omitempty"`
	Location     string            `json:"location,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	State        BundleState       `json:"state"`
	Headers      map[string]string `json:"headers,omitempty"`
	StartLevel   *int              `json:"start_level,omitempty"`
}

// Header 返回指定清单头，第二个返回值表示该头是否存在
func (b *Bundle) Header(name string) (string, bool) {
	if b.Headers == nil {
		return "", false
	}
	v, ok := b.Headers[name]
	return v, ok
}

// Ref 返回该 bundle 的轻量引用
func (b *Bundle) Ref() BundleRef {
	return BundleRef{ID: b.ID, SymbolicName: b.SymbolicName, Location: b.Location}
}

// BundleRef 是导出方/导入方的反向引用
type BundleRef struct {
	ID           int64  `json:"id"`
	SymbolicName string `json:"symbolic_name,omitempty"`
	Location     string `json:"location,omitempty"`
}

// ExportedPackage 是运行时某个 bundle 导出的包，以及当前连线到它的导入方
type ExportedPackage struct {
	Name      string      `json:"name"`
	Version   Version     `json:"version"`
	Exporter  BundleRef   `json:"exporter"`
	Importers []BundleRef `json:"importers,omitempty"`
}

// ImportedBy 判断指定 bundle 是否是该导出包的导入方
func (p *ExportedPackage) ImportedBy(bundleID int64) bool {
	for _, imp := range p.Importers {
		if imp.ID == bundleID {
			return true
		}
	}
	return false
}

// 服务属性键
const (
	ServiceID               = "service.id"
	ServiceObjectClass      = "objectClass"
	ServicePID              = "service.pid"
	ServiceFactoryPID       = "service.factoryPid"
	ServiceComponentName    = "component.name"
	ServiceComponentID      = "component.id"
	ServiceComponentFactory = "component.factory"
	ServiceDescription      = "service.description"
	ServiceVendor           = "service.vendor"
)

// ServiceReference 是 bundle 注册的一个服务
type ServiceReference struct {
	Properties map[string]any `json:"properties"`
}

// Property 返回服务属性，不存在时返回 nil
func (r ServiceReference) Property(key string) any {
	if r.Properties == nil {
		return nil
	}
	return r.Properties[key]
}

// KeyVal 是一行展示数据，value 可能内嵌简单的超链接标记
type KeyVal struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BundleAction 描述列表页上一个操作按钮
type BundleAction struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	Link    string `json:"link"`
	Title   string `json:"title,omitempty"`
}

// BundleInfo 是单个 bundle 在 JSON 中的表示
type BundleInfo struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	State   string         `json:"state"`
	Actions []BundleAction `json:"actions"`
	Props   []KeyVal       `json:"props,omitempty"`
}

// BundleSummary 是 bundle 列表的状态统计
type BundleSummary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Resolved  int `json:"resolved"`
	Installed int `json:"installed"`
}

// BundleList 是 bundle 列表接口的完整响应
type BundleList struct {
	Summary    BundleSummary `json:"summary"`
	StartLevel int           `json:"startLevel"`
	NumActions int           `json:"numActions"`
	Data       []BundleInfo  `json:"data,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ActionRecord 是一次生命周期操作的审计记录
type ActionRecord struct {
	ActionID  string    `json:"action_id"`
	BundleID  int64     `json:"bundle_id"`
	Action    string    `json:"action"`
	Succeeded bool      `json:"succeeded"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
