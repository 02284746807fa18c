// Package output 负责 consolectl 的终端输出
// file: internal/output/table.go
package output

import (
	"BundleConsole/internal/core/domain"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// 颜色
var (
	ColorCyan    = lipgloss.Color("14")
	ColorGreen   = lipgloss.Color("82")
	ColorYellow  = lipgloss.Color("220")
	ColorRed     = lipgloss.Color("196")
	ColorDimGray = lipgloss.Color("240")
)

// StyleNoun 用于 bundle 名称等标识
var StyleNoun = lipgloss.NewStyle().Foreground(ColorCyan)

// StateStyle 返回 bundle 状态对应的样式
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "Active":
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case "Resolved", "Starting", "Stopping":
		return lipgloss.NewStyle().Foreground(ColorYellow)
	case "Installed":
		return lipgloss.NewStyle().Foreground(ColorRed)
	default:
		return lipgloss.NewStyle()
	}
}

// Table 是带样式的表格
type Table struct {
	headers []string
	rows    [][]string
	styles  map[[2]int]lipgloss.Style
}

// NewTable 创建表格
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, styles: map[[2]int]lipgloss.Style{}}
}

// Row 追加一行
func (t *Table) Row(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// CellStyle 为最后一行的某列设置样式
func (t *Table) CellStyle(col int, style lipgloss.Style) *Table {
	if len(t.rows) > 0 {
		t.styles[[2]int{len(t.rows) - 1, col}] = style
	}
	return t
}

// String 渲染表格
func (t *Table) String() string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorDimGray)).
		Headers(t.headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if s, ok := t.styles[[2]int{row, col}]; ok {
				return s
			}
			return lipgloss.NewStyle()
		})
	for _, row := range t.rows {
		tbl.Row(row...)
	}
	return tbl.String()
}

// RenderBundleList 渲染 bundle 列表与状态统计
func RenderBundleList(list *domain.BundleList) string {
	t := NewTable("ID", "NAME", "STATE", "ACTIONS")
	for _, b := range list.Data {
		t.Row(strconv.FormatInt(b.ID, 10), b.Name, b.State, enabledActions(b.Actions)).
			CellStyle(2, StateStyle(b.State))
	}
	s := list.Summary
	summary := fmt.Sprintf("共 %d 个 bundle: %d 活动, %d 已解析, %d 已安装 (起始级别 %d)",
		s.Total, s.Active, s.Resolved, s.Installed, list.StartLevel)
	return t.String() + "\n" + summary + "\n"
}

// RenderBundleDetails 渲染单个 bundle 的属性列表。
// 值中的 <br/> 换成换行，便于在终端阅读。
func RenderBundleDetails(b domain.BundleInfo) string {
	var sb strings.Builder
	sb.WriteString(StyleNoun.Render(fmt.Sprintf("%s (%d)", b.Name, b.ID)))
	sb.WriteString("  ")
	sb.WriteString(StateStyle(b.State).Render(b.State))
	sb.WriteString("\n")

	t := NewTable("KEY", "VALUE")
	for _, kv := range b.Props {
		t.Row(kv.Key, strings.ReplaceAll(kv.Value, "<br/>", "\n"))
	}
	sb.WriteString(t.String())
	sb.WriteString("\n")
	return sb.String()
}

// RenderActions 渲染审计记录
func RenderActions(recs []domain.ActionRecord) string {
	t := NewTable("TIME", "BUNDLE", "ACTION", "RESULT", "MESSAGE")
	for _, r := range recs {
		result, style := "成功", lipgloss.NewStyle().Foreground(ColorGreen)
		if !r.Succeeded {
			result, style = "失败", lipgloss.NewStyle().Foreground(ColorRed)
		}
		t.Row(r.CreatedAt.Local().Format("2006-01-02 15:04:05"), strconv.FormatInt(r.BundleID, 10), r.Action, result, r.Message).
			CellStyle(3, style)
	}
	return t.String() + "\n"
}

func enabledActions(actions []domain.BundleAction) string {
	var names []string
	for _, a := range actions {
		if a.Enabled {
			names = append(names, a.Name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
