// file: internal/transport/http/router/router.go
package router

import (
	"BundleConsole/internal/aegmiddleware"
	"BundleConsole/internal/aegobserve"
	"BundleConsole/internal/service"
	"BundleConsole/internal/service/bundles"
	"BundleConsole/internal/transport/http/middleware"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	Console            *bundles.Console
	Auth               *service.Authenticator
	ActionLimiter      *aegmiddleware.ActionRateLimiter
	LoginLock          *aegmiddleware.LoginFailureLock
	SetupToken         string
	SetupTokenDeadline time.Time
	// ServeMetrics 为 true 时在主端口挂载 /metrics
	ServeMetrics bool
}

// New 创建基于 Gin 的 HTTP 路由器 (V1 版本)
func New(deps Dependencies) http.Handler {
	router := gin.Default()

	router.Use(aegobserve.PrometheusMiddleware())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.ErrorHandlingMiddleware())

	if deps.ServeMetrics {
		router.GET("/metrics", gin.WrapH(aegobserve.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		// --- 系统/认证平面 ---
		authGroup := v1.Group("/auth")
		{
			login := []gin.HandlerFunc{}
			if deps.LoginLock != nil {
				login = append(login, deps.LoginLock.Gin())
			}
			login = append(login, loginHandler(deps.Auth))
			authGroup.POST("/login", login...)
		}
		systemGroup := v1.Group("/system")
		{
			systemGroup.GET("/setup", setupHandler(deps.Auth, deps.SetupToken, deps.SetupTokenDeadline))
			systemGroup.POST("/setup", setupHandler(deps.Auth, deps.SetupToken, deps.SetupTokenDeadline))
			systemGroup.GET("/status", statusHandler(deps.Auth))
		}

		// --- bundle 控制台 ---
		consoleGroup := v1.Group("")
		consoleGroup.Use(wrap(deps.Auth.Middleware), wrap(aegmiddleware.RequireAdmin))
		{
			consoleGroup.GET("/bundles", bundleListHandler(deps.Console))
			consoleGroup.GET("/bundles/*path", bundleReportHandler(deps.Console))

			actions := []gin.HandlerFunc{}
			if deps.ActionLimiter != nil {
				actions = append(actions, wrap(deps.ActionLimiter.Chain))
			}
			actions = append(actions, bundleActionHandler(deps.Console))
			consoleGroup.POST("/bundles/*path", actions...)

			consoleGroup.GET("/actions", recentActionsHandler(deps.Console))
		}
	}

	return router
}

// =============================================================================
//  Gin 中间件
// =============================================================================

// wrap 把 net/http 风格的中间件接入 gin 流程。
// 中间件没有调用 next(例如已经写出拒绝响应)时中止后续处理器。
func wrap(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		}))
		handler.ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}

// =============================================================================
//  bundle 控制台处理器
// =============================================================================

// bundlePath 取出通配路径，去掉开头的 / 与结尾的 .json
func bundlePath(c *gin.Context) string {
	p := strings.TrimPrefix(c.Param("path"), "/")
	return strings.TrimSuffix(p, ".json")
}

// bundleListHandler 返回所有 bundle 的概要列表
func bundleListHandler(console *bundles.Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := console.List(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// bundleReportHandler 返回单个 bundle 的详细信息；路径为空时等同于列表
func bundleReportHandler(console *bundles.Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := bundlePath(c)
		if path == "" {
			bundleListHandler(console)(c)
			return
		}
		b, err := console.Locate(c.Request.Context(), path)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if b == nil {
			c.Status(http.StatusNoContent)
			return
		}
		report, err := console.Report(c.Request.Context(), b)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// bundleActionHandler 执行 start/stop/refresh/uninstall/refreshPackages
func bundleActionHandler(console *bundles.Console) gin.HandlerFunc {
	type actionRequest struct {
		Action string `form:"action" json:"action" binding:"required,oneof=start stop refresh uninstall refreshPackages"`
	}
	return func(c *gin.Context) {
		var req actionRequest
		if err := c.ShouldBind(&req); err != nil {
			_ = c.Error(err)
			return
		}
		path := bundlePath(c)

		if claims := service.ClaimFrom(c.Request); claims != nil {
			log.Printf("审计日志: 用户ID '%d' 正在对 bundle '%s' 执行 '%s' 操作。", claims.ID, path, req.Action)
		}

		result, err := console.PerformAction(c.Request.Context(), path, req.Action)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, result.Payload())
	}
}

// recentActionsHandler 返回最近的操作审计记录
func recentActionsHandler(console *bundles.Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		recs, err := console.RecentActions(c.Request.Context(), limit)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": recs})
	}
}

// =============================================================================
//  系统与认证处理器
// =============================================================================

// statusHandler 返回系统状态，用于前端判断是否需要进入安装流程
func statusHandler(auth *service.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.UserCount(c.Request.Context()) > 0 {
			c.JSON(http.StatusOK, gin.H{"status": "ready_for_login"})
		} else {
			c.JSON(http.StatusOK, gin.H{"status": "needs_setup"})
		}
	}
}

// loginHandler 处理用户登录请求
func loginHandler(auth *service.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			User string `form:"user" json:"user" binding:"required"`
			Pass string `form:"pass" json:"pass" binding:"required"`
		}
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名或密码不能为空"})
			return
		}
		id, role, ok := auth.CheckUser(c.Request.Context(), req.User, req.Pass)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}
		token, err := auth.GenToken(id, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "生成令牌失败"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": gin.H{"id": id, "username": req.User, "role": role}})
	}
}

// setupHandler 处理首次安装时的管理员创建请求
func setupHandler(auth *service.Authenticator, token string, deadline time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if c.Request.Method == http.MethodGet {
			if auth.UserCount(ctx) > 0 {
				c.JSON(http.StatusForbidden, gin.H{"error": "系统已安装，无法获取安装令牌"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
			return
		}

		if auth.UserCount(ctx) > 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "系统已存在管理员账户，无法重复设置"})
			return
		}
		var req struct {
			Token string `form:"token" json:"token" binding:"required"`
			User  string `form:"user" json:"user" binding:"required"`
			Pass  string `form:"pass" json:"pass" binding:"required"`
		}
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "令牌、用户名或密码不能为空"})
			return
		}
		if token == "" || req.Token != token || time.Now().After(deadline) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效或过期的安装令牌"})
			return
		}
		if err := auth.CreateAdmin(ctx, req.User, req.Pass); err != nil {
			log.Printf("ERROR: [API /setup] 创建管理员 '%s' 失败: %v", req.User, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "创建管理员失败: " + err.Error()})
			return
		}
		id, _, _ := auth.CheckUser(ctx, req.User, req.Pass)
		jwtToken, err := auth.GenToken(id, service.RoleAdmin)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "为新管理员生成令牌失败"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": jwtToken, "user": gin.H{"id": id, "username": req.User, "role": service.RoleAdmin}})
	}
}
