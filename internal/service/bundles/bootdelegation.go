// Package bundles file: internal/service/bundles/bootdelegation.go
package bundles

import "strings"

// bootRule 是 boot delegation 配置中的一项。
// 通配项去掉了末尾的 '*'，前缀原样保留(包括结尾的 '.')。
type bootRule struct {
	prefix   string
	wildcard bool
}

// BootDelegation 判断包是否被委派给父类加载器，从而绕过 bundle 级别的导入导出。
// 构造后只读，可在多个请求间无锁共享。
type BootDelegation struct {
	rules []bootRule
}

// NewBootDelegation 解析以逗号或空格分隔的 boot delegation 配置，并隐式追加 "java.*"
func NewBootDelegation(value string) *BootDelegation {
	tokens := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	tokens = append(tokens, "java.*")

	rules := make([]bootRule, 0, len(tokens))
	for _, token := range tokens {
		if strings.HasSuffix(token, "*") {
			rules = append(rules, bootRule{prefix: token[:len(token)-1], wildcard: true})
			continue
		}
		rules = append(rules, bootRule{prefix: token})
	}
	return &BootDelegation{rules: rules}
}

// IsDelegated 判断包名是否命中任意一条规则。默认包(空包名)永不委派。
func (b *BootDelegation) IsDelegated(pkgName string) bool {
	if pkgName == "" {
		return false
	}

	for _, rule := range b.rules {
		if rule.wildcard {
			// 通配项形如 "foo."：既做前缀匹配，也做按包名长度截断的区域匹配，
			// 后者让 "foo" 本身(不带结尾 '.')同样命中
			if strings.HasPrefix(pkgName, rule.prefix) || regionMatches(rule.prefix, pkgName) {
				return true
			}
			continue
		}
		if rule.prefix == pkgName {
			return true
		}
	}
	return false
}

// regionMatches 判断 prefix 从 0 开始、长度为 len(pkgName) 的区域是否与 pkgName 相同。
// prefix 比 pkgName 短时区域越界，视为不匹配。
func regionMatches(prefix, pkgName string) bool {
	if len(pkgName) > len(prefix) {
		return false
	}
	return prefix[:len(pkgName)] == pkgName
}
