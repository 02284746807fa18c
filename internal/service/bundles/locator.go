// Package bundles file: internal/service/bundles/locator.go
package bundles

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/core/port"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Locator 将请求路径中的 bundle 标识解析为注册表中的 bundle
type Locator struct {
	registry port.BundleRegistry
}

// NewLocator 创建 Locator
func NewLocator(registry port.BundleRegistry) *Locator {
	return &Locator{registry: registry}
}

// Resolve 只使用路径的最后一段：非负整数按 ID 查找，否则按 {symbolic-name}[:{version}] 查找。
// 找不到时返回 (nil, nil)；只有注册表查询本身失败才返回错误。
func (l *Locator) Resolve(ctx context.Context, pathInfo string) (*domain.Bundle, error) {
	segment := pathInfo[strings.LastIndexByte(pathInfo, '/')+1:]

	if id, err := strconv.ParseInt(segment, 10, 64); err == nil {
		if id < 0 {
			return nil, nil
		}
		b, err := l.registry.Bundle(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("按 ID 查询 bundle %d 失败: %w", id, err)
		}
		return b, nil
	}

	symbolicName, version, hasVersion := strings.Cut(segment, ":")

	all, err := l.registry.Bundles(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 bundle 列表失败: %w", err)
	}
	for i := range all {
		b := &all[i]
		if b.SymbolicName == "" || b.SymbolicName != symbolicName {
			continue
		}
		if !hasVersion {
			return b, nil
		}
		if declared, ok := b.Header(domain.HeaderBundleVersion); ok && declared == version {
			return b, nil
		}
	}
	return nil, nil
}
