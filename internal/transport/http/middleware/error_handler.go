// Package middleware file: internal/transport/http/middleware/error_handler.go
package middleware

import (
	"BundleConsole/internal/core/port"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ErrorHandlingMiddleware 是一个Gin中间件，用于集中处理错误。
// 处理器通过 c.Error(err) 附加错误后直接返回，由这里决定状态码。
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		// 只处理最后一个错误，它通常是根本原因
		err := c.Errors.Last().Err

		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数验证失败", "details": ve.Error()})
			return
		}

		switch {
		case errors.Is(err, port.ErrUnknownAction):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		case errors.Is(err, port.ErrPermissionDenied), errors.Is(err, port.ErrSystemBundle):
			c.JSON(http.StatusForbidden, gin.H{"error": "权限不足"})

		case errors.Is(err, port.ErrBundleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		case errors.Is(err, port.ErrIllegalState), errors.Is(err, port.ErrUnresolvable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

		default:
			slog.Error("HTTP 请求处理失败", "path", c.FullPath(), "method", c.Request.Method, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		}
	}
}
