package aegmiddleware

import (
	"BundleConsole/internal/service"
	"log"
	"net/http"
)

// RequireAdmin 是一个确保只有管理员能访问的中间件。
// 依赖前置的 Authenticator.Middleware 把 Claim 放进 context。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := service.ClaimFrom(r)
		if claims == nil {
			log.Printf("RequireAdmin: 访问被拒绝 (无有效Claim)。路径: %s, IP: %s", r.URL.Path, getClientIP(r))
			errResp(w, http.StatusUnauthorized, "需要认证")
			return
		}
		if claims.Role != service.RoleAdmin {
			log.Printf("RequireAdmin: 访问被拒绝 (用户 '%d' 角色 '%s' 非管理员)。路径: %s", claims.ID, claims.Role, r.URL.Path)
			errResp(w, http.StatusForbidden, "需要管理员权限")
			return
		}
		next.ServeHTTP(w, r)
	})
}
