// Package bundles file: internal/service/bundles/reporter.go
package bundles

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/core/port"
	"BundleConsole/internal/manifest"
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// 展示行的标签与固定文本
const (
	LabelExportedPackages = "Exported Packages"
	LabelImportedPackages = "Imported Packages"
	LabelImportingBundles = "Importing Bundles"

	textNone       = "None"
	lineBreak      = "<br/>"
	markOverridden = "!! "
)

// Reporter 生成 bundle 的导入/导出展示行
type Reporter struct {
	registry port.BundleRegistry
	boot     *BootDelegation
	parser   *manifest.Parser
}

// NewReporter 创建 Reporter
func NewReporter(registry port.BundleRegistry, boot *BootDelegation, parser *manifest.Parser) *Reporter {
	return &Reporter{registry: registry, boot: boot, parser: parser}
}

// ImportExport 根据 bundle 状态选择数据来源：
// 已安装但未解析的 bundle 直接解析清单头，其余状态使用注册表中的连线信息。
func (r *Reporter) ImportExport(ctx context.Context, b *domain.Bundle) ([]domain.KeyVal, error) {
	if b.State == domain.StateInstalled {
		return r.unresolved(ctx, b)
	}
	return r.resolved(ctx, b)
}

func (r *Reporter) resolved(ctx context.Context, b *domain.Bundle) ([]domain.KeyVal, error) {
	var rows []domain.KeyVal

	exports, err := r.registry.ExportedPackages(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("查询 bundle %d 的导出包失败: %w", b.ID, err)
	}

	using := make(map[string]domain.BundleRef)
	if len(exports) > 0 {
		var val strings.Builder
		for _, ep := range sortedByName(exports, func(p domain.ExportedPackage) string { return p.Name }) {
			r.printExport(&val, ep.Name, ep.Version)
			for _, ub := range ep.Importers {
				using[usingKey(ub)] = ub
			}
		}
		rows = append(rows, domain.KeyVal{Key: LabelExportedPackages, Value: val.String()})
	} else {
		rows = append(rows, domain.KeyVal{Key: LabelExportedPackages, Value: textNone})
	}

	all, err := r.registry.AllExportedPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询运行时导出包失败: %w", err)
	}
	if len(all) > 0 {
		var imports []domain.ExportedPackage
		for _, ep := range all {
			if ep.ImportedBy(b.ID) {
				imports = append(imports, ep)
			}
		}

		var val strings.Builder
		for _, ep := range sortedByName(imports, func(p domain.ExportedPackage) string { return p.Name }) {
			r.printImport(&val, ep.Name, ep.Version, false, &ep)
		}
		rows = append(rows, domain.KeyVal{Key: LabelImportedPackages, Value: orNone(val.String())})
	}

	if len(using) > 0 {
		keys := make([]string, 0, len(using))
		for k := range using {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var val strings.Builder
		for _, k := range keys {
			val.WriteString(bundleDescriptor(using[k]))
			val.WriteString(lineBreak)
		}
		rows = append(rows, domain.KeyVal{Key: LabelImportingBundles, Value: val.String()})
	}

	return rows, nil
}

func (r *Reporter) unresolved(ctx context.Context, b *domain.Bundle) ([]domain.KeyVal, error) {
	var rows []domain.KeyVal

	if raw, ok := b.Header(domain.HeaderExportPackage); ok {
		exports, err := r.parser.ParseExports(raw)
		if err != nil {
			return nil, fmt.Errorf("bundle %d 的 Export-Package 头非法: %w", b.ID, err)
		}
		var val strings.Builder
		for _, ex := range sortedByName(exports, func(c manifest.ExportClause) string { return c.Name }) {
			r.printExport(&val, ex.Name, ex.Version)
		}
		rows = append(rows, domain.KeyVal{Key: LabelExportedPackages, Value: orNone(val.String())})
	}

	raw, ok := b.Header(domain.HeaderImportPackage)
	if !ok {
		return rows, nil
	}
	parsed, err := r.parser.ParseImports(raw)
	if err != nil {
		return nil, fmt.Errorf("bundle %d 的 Import-Package 头非法: %w", b.ID, err)
	}
	if len(parsed) == 0 {
		return rows, nil
	}

	// 同名导入以最后一次声明为准
	imports := make(map[string]manifest.ImportClause, len(parsed))
	for _, imp := range parsed {
		imports[imp.Name] = imp
	}

	all, err := r.registry.AllExportedPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询运行时导出包失败: %w", err)
	}
	candidates := make(map[string]domain.ExportedPackage)
	for _, ep := range all {
		if imp, ok := imports[ep.Name]; ok && imp.Satisfies(ep.Name, ep.Version) {
			candidates[ep.Name] = ep
		}
	}

	names := make([]string, 0, len(imports))
	for name := range imports {
		names = append(names, name)
	}
	sort.Strings(names)

	var val strings.Builder
	for _, name := range names {
		imp := imports[name]
		var export *domain.ExportedPackage
		if ep, ok := candidates[name]; ok {
			export = &ep
		} else {
			// 没有可用的导出方时，若 bundle 自身就包含该包则不展示
			has, err := r.registry.HasResource(ctx, b.ID, strings.ReplaceAll(name, ".", "/"))
			if err != nil {
				return nil, fmt.Errorf("检查 bundle %d 的资源 '%s' 失败: %w", b.ID, name, err)
			}
			if has {
				continue
			}
		}
		r.printImport(&val, name, imp.Range.Floor, imp.Optional, export)
	}
	rows = append(rows, domain.KeyVal{Key: LabelImportedPackages, Value: orNone(val.String())})

	return rows, nil
}

func (r *Reporter) printExport(val *strings.Builder, name string, version domain.Version) {
	bootDel := r.boot.IsDelegated(name)
	if bootDel {
		val.WriteString(markOverridden)
	}

	val.WriteString(name)
	val.WriteString(",version=")
	val.WriteString(version.String())

	if bootDel {
		val.WriteString(" -- Overwritten by Boot Delegation")
	}
	val.WriteString(lineBreak)
}

func (r *Reporter) printImport(val *strings.Builder, name string, version domain.Version, optional bool, export *domain.ExportedPackage) {
	bootDel := r.boot.IsDelegated(name)
	// 无法解析的导入即使没有被 boot delegation 覆盖也加 "!! " 高亮
	if bootDel || export == nil {
		val.WriteString(markOverridden)
	}

	val.WriteString(name)
	val.WriteString(",version=")
	val.WriteString(version.String())

	if export != nil {
		val.WriteString(" from ")
		val.WriteString(bundleDescriptor(export.Exporter))
		if bootDel {
			val.WriteString(" -- Overwritten by Boot Delegation")
		}
	} else {
		val.WriteString(" -- Cannot be resolved")
		if optional {
			val.WriteString(" but is not required")
		}
		if bootDel {
			val.WriteString(" and overwritten by Boot Delegation")
		}
	}
	val.WriteString(lineBreak)
}

// bundleDescriptor 返回 "symbolicName (id)"，没有符号名时退回位置，两者都没有时只保留 "(id)"
func bundleDescriptor(ref domain.BundleRef) string {
	id := "(" + strconv.FormatInt(ref.ID, 10) + ")"
	switch {
	case ref.SymbolicName != "":
		return ref.SymbolicName + " " + id
	case ref.Location != "":
		return ref.Location + " " + id
	default:
		return id
	}
}

// usingKey 按符号名去重；没有符号名的 bundle 各自独立
func usingKey(ref domain.BundleRef) string {
	if ref.SymbolicName != "" {
		return ref.SymbolicName
	}
	return bundleDescriptor(ref)
}

// sortedByName 返回按包名排序的副本，不改动注册表返回的切片
func sortedByName[T any](items []T, name func(T) string) []T {
	out := slices.Clone(items)
	sort.SliceStable(out, func(i, j int) bool {
		return name(out[i]) < name(out[j])
	})
	return out
}

func orNone(val string) string {
	if val == "" {
		return textNone
	}
	return val
}
