// Package domain file: internal/core/domain/version.go
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Version 是 major.minor.micro.qualifier 形式的包/bundle 版本。
// 前三段按数值比较，qualifier 按字符串比较。
type Version struct {
	Major     int
	Minor     int
	Micro     int
	Qualifier string
}

// EmptyVersion 是未声明版本时的默认值 0.0.0
var EmptyVersion = Version{}

// ParseVersion 解析版本字符串，缺省的段按 0 处理
func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return EmptyVersion, nil
	}

	parts := strings.SplitN(raw, ".", 4)
	var v Version
	nums := []*int{&v.Major, &v.Minor, &v.Micro}
	for i, part := range parts {
		if i == 3 {
			if !validQualifier(part) {
				return EmptyVersion, fmt.Errorf("版本 '%s' 的 qualifier 非法", raw)
			}
			v.Qualifier = part
			break
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return EmptyVersion, fmt.Errorf("版本 '%s' 的第 %d 段不是非负整数", raw, i+1)
		}
		*nums[i] = n
	}
	return v, nil
}

// MustParseVersion 与 ParseVersion 相同，解析失败时 panic，仅用于常量和测试
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func validQualifier(q string) bool {
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Compare 返回 -1、0 或 1
func (v Version) Compare(other Version) int {
	for _, pair := range [][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Micro, other.Micro}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return strings.Compare(v.Qualifier, other.Qualifier)
}

// String 返回规范形式，qualifier 为空时省略
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
	if v.Qualifier != "" {
		s += "." + v.Qualifier
	}
	return s
}

// MarshalText 让版本在 JSON 中以字符串形式出现
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VersionRange 是导入声明中的版本区间。Ceiling 为 nil 表示无上界。
type VersionRange struct {
	Floor            Version
	FloorInclusive   bool
	Ceiling          *Version
	CeilingInclusive bool
}

// AnyVersion 匹配 0.0.0 及以上所有版本
var AnyVersion = VersionRange{Floor: EmptyVersion, FloorInclusive: true}

// ParseVersionRange 解析 "[1.0,2.0)" 形式的区间；单个版本表示 "至少该版本"
func ParseVersionRange(raw string) (VersionRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AnyVersion, nil
	}

	first := raw[0]
	if first != '[' && first != '(' {
		floor, err := ParseVersion(raw)
		if err != nil {
			return AnyVersion, err
		}
		return VersionRange{Floor: floor, FloorInclusive: true}, nil
	}

	last := raw[len(raw)-1]
	if last != ']' && last != ')' {
		return AnyVersion, fmt.Errorf("版本区间 '%s' 缺少右边界", raw)
	}
	bounds := strings.Split(raw[1:len(raw)-1], ",")
	if len(bounds) != 2 {
		return AnyVersion, fmt.Errorf("版本区间 '%s' 必须包含上下界", raw)
	}
	floor, err := ParseVersion(bounds[0])
	if err != nil {
		return AnyVersion, fmt.Errorf("版本区间 '%s' 下界非法: %w", raw, err)
	}
	ceiling, err := ParseVersion(bounds[1])
	if err != nil {
		return AnyVersion, fmt.Errorf("版本区间 '%s' 上界非法: %w", raw, err)
	}
	if ceiling.Compare(floor) < 0 {
		return AnyVersion, fmt.Errorf("版本区间 '%s' 上界小于下界", raw)
	}
	return VersionRange{
		Floor:            floor,
		FloorInclusive:   first == '[',
		Ceiling:          &ceiling,
		CeilingInclusive: last == ']',
	}, nil
}

// Includes 判断版本是否落在区间内
func (r VersionRange) Includes(v Version) bool {
	cmp := v.Compare(r.Floor)
	if cmp < 0 || (cmp == 0 && !r.FloorInclusive) {
		return false
	}
	if r.Ceiling == nil {
		return true
	}
	cmp = v.Compare(*r.Ceiling)
	return cmp < 0 || (cmp == 0 && r.CeilingInclusive)
}

// String 返回区间的文本形式；无上界时只返回下界版本
func (r VersionRange) String() string {
	if r.Ceiling == nil {
		return r.Floor.String()
	}
	open, closing := "(", ")"
	if r.FloorInclusive {
		open = "["
	}
	if r.CeilingInclusive {
		closing = "]"
	}
	return open + r.Floor.String() + "," + r.Ceiling.String() + closing
}
