// Package aegobserve file: internal/aegobserve/logging.go
package aegobserve

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 将配置中的级别字符串转换为 slog.Level，无法识别时退回 INFO
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 创建输出 JSON 的结构化日志记录器，并附带 component 字段
func NewLogger(w io.Writer, levelStr, component string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(levelStr),
		AddSource: true,
	})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

// InitLogger 初始化全局的结构化日志记录器。
// 它应该在 main 函数的早期被调用。
func InitLogger(levelStr string) {
	slog.SetDefault(NewLogger(os.Stdout, levelStr, "bundleconsole"))
}
