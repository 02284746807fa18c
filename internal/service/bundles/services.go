// Package bundles file: internal/service/bundles/services.go
package bundles

import (
	"BundleConsole/internal/core/domain"
	"fmt"
	"strings"
)

// serviceFields 是服务行中各属性的展示顺序
var serviceFields = []struct {
	label    string
	property string
}{
	{"Types", domain.ServiceObjectClass},
	{"PID", domain.ServicePID},
	{"Factory PID", domain.ServiceFactoryPID},
	{"Component Name", domain.ServiceComponentName},
	{"Component ID", domain.ServiceComponentID},
	{"Component Factory", domain.ServiceComponentFactory},
	{"Description", domain.ServiceDescription},
	{"Vendor", domain.ServiceVendor},
}

// ServiceRows 为每个已注册服务生成一行，缺失的属性直接跳过
func ServiceRows(refs []domain.ServiceReference) []domain.KeyVal {
	rows := make([]domain.KeyVal, 0, len(refs))
	for _, ref := range refs {
		var val strings.Builder
		for _, f := range serviceFields {
			v := ref.Property(f.property)
			if v == nil {
				continue
			}
			val.WriteString(f.label)
			val.WriteString(": ")
			val.WriteString(formatProperty(v))
			val.WriteString(lineBreak)
		}
		rows = append(rows, domain.KeyVal{
			Key:   "Service ID " + formatProperty(ref.Property(domain.ServiceID)),
			Value: val.String(),
		})
	}
	return rows
}

// formatProperty 将属性值转换为文本，数组按 ", " 连接
func formatProperty(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = formatProperty(e)
		}
		return strings.Join(parts, ", ")
	case float64:
		// 经 JSON/structpb 传输后整数会变成 float64
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
