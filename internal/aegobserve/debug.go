// Package aegobserve file: internal/aegobserve/debug.go
package aegobserve

import (
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // 自动注册 pprof
	"time"
)

// EnablePprof 在指定地址上暴露 /debug/pprof 端点，返回的 server 由调用方负责关闭。
// addr 为空时不启动，返回 nil。
func EnablePprof(addr string) *http.Server {
	if addr == "" {
		slog.Info("pprof 端点未启用：地址为空")
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("pprof 端点启动", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("pprof 端点启动失败", "error", err)
		}
	}()
	return srv
}
