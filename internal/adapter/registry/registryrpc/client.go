// file: internal/adapter/registry/registryrpc/client.go
package registryrpc

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/core/port"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// 编译期断言，确保 Client 实现了端口接口
var (
	_ port.BundleRegistry  = (*Client)(nil)
	_ port.BundleLifecycle = (*Client)(nil)
)

const (
	cacheKeyBundles = "bundles"
	cacheKeyExports = "exports"
)

// Client 把端口调用转发给远程运行时代理。
// bundle 列表与全局导出表会按 TTL 缓存，任何生命周期操作都会清空缓存。
type Client struct {
	conn  grpc.ClientConnInterface
	close func() error
	cache *cache.Cache
}

// Dial 创建到远程代理的连接(本地开发用，不启用 TLS)
func Dial(address string, cacheTTL time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("无法连接到远程运行时 at %s: %w", address, err)
	}
	c := NewClient(conn, cacheTTL)
	c.close = conn.Close
	return c, nil
}

// NewClient 在已有连接上创建客户端；cacheTTL <= 0 时不缓存
func NewClient(conn grpc.ClientConnInterface, cacheTTL time.Duration) *Client {
	c := &Client{conn: conn}
	if cacheTTL > 0 {
		c.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return c
}

// Close 关闭底层连接
func (c *Client) Close() error {
	if c.close != nil {
		return c.close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any, out any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return fmt.Errorf("创建 gRPC 请求失败: %w", err)
	}
	slog.Debug("gRPC 注册表客户端: 正在转发请求", "method", method)

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, resp); err != nil {
		return fromStatus(method, err)
	}
	if out == nil {
		return nil
	}
	return decodeResult(resp, out)
}

func byID(id int64) map[string]any {
	return map[string]any{fieldBundleID: id}
}

// Bundles 实现 port.BundleRegistry
func (c *Client) Bundles(ctx context.Context) ([]domain.Bundle, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(cacheKeyBundles); ok {
			return slices.Clone(cached.([]domain.Bundle)), nil
		}
	}
	var bundles []domain.Bundle
	if err := c.invoke(ctx, methodBundles, nil, &bundles); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetDefault(cacheKeyBundles, bundles)
	}
	return slices.Clone(bundles), nil
}

// Bundle 实现 port.BundleRegistry
func (c *Client) Bundle(ctx context.Context, id int64) (*domain.Bundle, error) {
	var b *domain.Bundle
	if err := c.invoke(ctx, methodBundle, byID(id), &b); err != nil {
		return nil, err
	}
	return b, nil
}

// ExportedPackages 实现 port.BundleRegistry
func (c *Client) ExportedPackages(ctx context.Context, bundleID int64) ([]domain.ExportedPackage, error) {
	var exports []domain.ExportedPackage
	if err := c.invoke(ctx, methodExportedPackages, byID(bundleID), &exports); err != nil {
		return nil, err
	}
	return exports, nil
}

// AllExportedPackages 实现 port.BundleRegistry
func (c *Client) AllExportedPackages(ctx context.Context) ([]domain.ExportedPackage, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(cacheKeyExports); ok {
			return slices.Clone(cached.([]domain.ExportedPackage)), nil
		}
	}
	var exports []domain.ExportedPackage
	if err := c.invoke(ctx, methodAllExportedPackages, nil, &exports); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetDefault(cacheKeyExports, exports)
	}
	return slices.Clone(exports), nil
}

// RegisteredServices 实现 port.BundleRegistry
func (c *Client) RegisteredServices(ctx context.Context, bundleID int64) ([]domain.ServiceReference, error) {
	var refs []domain.ServiceReference
	if err := c.invoke(ctx, methodRegisteredServices, byID(bundleID), &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// HasResource 实现 port.BundleRegistry
func (c *Client) HasResource(ctx context.Context, bundleID int64, path string) (bool, error) {
	var has bool
	err := c.invoke(ctx, methodHasResource, map[string]any{fieldBundleID: bundleID, fieldPath: path}, &has)
	return has, err
}

// InitialBundleStartLevel 实现 port.BundleRegistry
func (c *Client) InitialBundleStartLevel(ctx context.Context) (int, error) {
	var level int
	err := c.invoke(ctx, methodInitialBundleStartLevel, nil, &level)
	return level, err
}

// Start 实现 port.BundleLifecycle
func (c *Client) Start(ctx context.Context, bundleID int64) error {
	defer c.flush()
	return c.invoke(ctx, methodStart, byID(bundleID), nil)
}

// Stop 实现 port.BundleLifecycle
func (c *Client) Stop(ctx context.Context, bundleID int64) error {
	defer c.flush()
	return c.invoke(ctx, methodStop, byID(bundleID), nil)
}

// Uninstall 实现 port.BundleLifecycle
func (c *Client) Uninstall(ctx context.Context, bundleID int64) error {
	defer c.flush()
	return c.invoke(ctx, methodUninstall, byID(bundleID), nil)
}

// Refresh 实现 port.BundleLifecycle；ids 为 nil 时请求中不带 ids 字段，表示刷新全部
func (c *Client) Refresh(ctx context.Context, ids []int64) error {
	defer c.flush()
	req := map[string]any{}
	if ids != nil {
		list := make([]any, len(ids))
		for i, id := range ids {
			list[i] = id
		}
		req[fieldIDs] = list
	}
	return c.invoke(ctx, methodRefresh, req, nil)
}

func (c *Client) flush() {
	if c.cache != nil {
		c.cache.Flush()
	}
}
