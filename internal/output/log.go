// file: internal/output/log.go
package output

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Logger 是 consolectl 的全局日志
var Logger = log.NewWithOptions(os.Stderr, log.Options{})

// SetupLogging 根据 verbose 设置日志级别
func SetupLogging(w io.Writer, verbose bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	Logger = log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: verbose,
		Prefix:          "consolectl",
	})
}
