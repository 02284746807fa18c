// Package manifest 解析 Export-Package / Import-Package 等清单头
package manifest

import (
	"BundleConsole/internal/core/domain"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// 常用属性与指令
const (
	AttrVersion              = "version"
	AttrSpecificationVersion = "specification-version"
	DirectiveResolution      = "resolution"
	ResolutionOptional       = "optional"
)

// header := clause ( ',' clause )*
// clause := entry ( ';' entry )*
// entry  := token ( ( '=' | ':=' ) value )?
type headerAST struct {
	Clauses []*clauseAST `parser:"@@ ( ',' @@ )*"`
}

type clauseAST struct {
	Entries []*entryAST `parser:"@@ ( ';' @@ )*"`
}

type entryAST struct {
	Name   string     `parser:"@Token"`
	Assign *assignAST `parser:"@@?"`
}

type assignAST struct {
	Op    string `parser:"@( Directive | Equals )"`
	Value string `parser:"@( String | Token )"`
}

// Clause 是清单头中的一个子句：若干路径共享同一组属性和指令
type Clause struct {
	Paths      []string
	Attributes map[string]string
	Directives map[string]string
}

// ExportClause 是一个导出包声明
type ExportClause struct {
	Name    string
	Version domain.Version
}

// ImportClause 是一个导入包声明
type ImportClause struct {
	Name     string
	Range    domain.VersionRange
	Optional bool
}

// Parser 解析清单头，并按原始字符串缓存解析结果
type Parser struct {
	parser *participle.Parser[headerAST]
	cache  *lru.LRU[string, []Clause]
}

// NewParser 创建解析器。
// cacheSize: 缓存的最大头字符串数量。
// ttl: 缓存条目的过期时间。
func NewParser(cacheSize int, ttl time.Duration) *Parser {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	lex := lexer.MustSimple([]lexer.SimpleRule{
		{Name: "String", Pattern: `"(\\"|[^"])*"`},
		{Name: "Directive", Pattern: `:=`},
		{Name: "Equals", Pattern: `=`},
		{Name: "Punct", Pattern: `[,;]`},
		{Name: "Token", Pattern: `[^\s,;=":]+`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	return &Parser{
		parser: participle.MustBuild[headerAST](
			participle.Lexer(lex),
			participle.Elide("Whitespace"),
			participle.Unquote("String"),
		),
		cache: lru.NewLRU[string, []Clause](cacheSize, nil, ttl),
	}
}

// Parse 将清单头解析为子句列表。空头返回 nil。
// 返回的切片可能来自缓存，调用方只能读取。
func (p *Parser) Parse(raw string) ([]Clause, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if cached, ok := p.cache.Get(raw); ok {
		return cached, nil
	}

	ast, err := p.parser.ParseString("", raw)
	if err != nil {
		return nil, fmt.Errorf("解析清单头失败 '%s': %w", raw, err)
	}

	clauses := make([]Clause, 0, len(ast.Clauses))
	for _, c := range ast.Clauses {
		clause := Clause{
			Attributes: make(map[string]string),
			Directives: make(map[string]string),
		}
		for _, e := range c.Entries {
			switch {
			case e.Assign == nil:
				clause.Paths = append(clause.Paths, e.Name)
			case e.Assign.Op == ":=":
				clause.Directives[e.Name] = e.Assign.Value
			default:
				clause.Attributes[e.Name] = e.Assign.Value
			}
		}
		if len(clause.Paths) == 0 {
			return nil, fmt.Errorf("解析清单头失败 '%s': 子句缺少包名", raw)
		}
		clauses = append(clauses, clause)
	}

	p.cache.Add(raw, clauses)
	return clauses, nil
}

// ParseExports 解析 Export-Package 头，每个包名一条记录
func (p *Parser) ParseExports(raw string) ([]ExportClause, error) {
	clauses, err := p.Parse(raw)
	if err != nil {
		return nil, err
	}

	var exports []ExportClause
	for _, c := range clauses {
		versionStr, ok := c.Attributes[AttrVersion]
		if !ok {
			versionStr = c.Attributes[AttrSpecificationVersion]
		}
		version, err := domain.ParseVersion(versionStr)
		if err != nil {
			return nil, fmt.Errorf("导出包 '%s' 的版本非法: %w", strings.Join(c.Paths, ";"), err)
		}
		for _, path := range c.Paths {
			exports = append(exports, ExportClause{Name: path, Version: version})
		}
	}
	return exports, nil
}

// ParseImports 解析 Import-Package 头，每个包名一条记录
func (p *Parser) ParseImports(raw string) ([]ImportClause, error) {
	clauses, err := p.Parse(raw)
	if err != nil {
		return nil, err
	}

	var imports []ImportClause
	for _, c := range clauses {
		versionStr, ok := c.Attributes[AttrVersion]
		if !ok {
			versionStr = c.Attributes[AttrSpecificationVersion]
		}
		vr, err := domain.ParseVersionRange(versionStr)
		if err != nil {
			return nil, fmt.Errorf("导入包 '%s' 的版本区间非法: %w", strings.Join(c.Paths, ";"), err)
		}
		optional := c.Directives[DirectiveResolution] == ResolutionOptional
		for _, path := range c.Paths {
			imports = append(imports, ImportClause{Name: path, Range: vr, Optional: optional})
		}
	}
	return imports, nil
}

// Satisfies 判断导出包能否满足该导入
func (i ImportClause) Satisfies(name string, version domain.Version) bool {
	return i.Name == name && i.Range.Includes(version)
}

// SymbolicName 去掉 Bundle-SymbolicName 头中 ';' 之后的指令部分
func SymbolicName(raw string) string {
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}
