// file: internal/aegmiddleware/limiter_test.go

package aegmiddleware

import (
	"BundleConsole/internal/service"
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
})

func withClaim(r *http.Request, claim *service.Claim) *http.Request {
	return r.WithContext(service.ContextWithClaim(r.Context(), claim))
}

func serve(h http.Handler, r *http.Request) int {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr.Code
}

func TestActionRateLimiter_Global(t *testing.T) {
	limiter := NewActionRateLimiter(0.1, 1) // 全局: 1 req/s, 峰值 10
	defer limiter.Stop()
	middleware := limiter.Global(testHandler)

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, serve(middleware, httptest.NewRequest(http.MethodPost, "/", nil)), "第 %d 个请求应当放行", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(middleware, httptest.NewRequest(http.MethodPost, "/", nil)))
}

func TestActionRateLimiter_PerIP(t *testing.T) {
	limiter := NewActionRateLimiter(1, 1)
	defer limiter.Stop()
	middleware := limiter.PerIP(testHandler)

	newReq := func(remote string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = remote
		return req
	}

	assert.Equal(t, http.StatusOK, serve(middleware, newReq("192.0.2.1:12345")))
	assert.Equal(t, http.StatusTooManyRequests, serve(middleware, newReq("192.0.2.1:23456")), "同一 IP 的第二个请求应被拦截")
	assert.Equal(t, http.StatusOK, serve(middleware, newReq("192.0.2.2:54321")), "其他 IP 不受影响")

	forwarded := newReq("10.0.0.1:1")
	forwarded.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, http.StatusOK, serve(middleware, forwarded))
	assert.Equal(t, 3, limiter.perIP.size())
}

func TestActionRateLimiter_PerUser(t *testing.T) {
	limiter := NewActionRateLimiter(1, 1)
	defer limiter.Stop()
	middleware := limiter.PerUser(testHandler)

	user1 := &service.Claim{ID: 1, Role: service.RoleAdmin}
	user2 := &service.Claim{ID: 2, Role: service.RoleAdmin}

	assert.Equal(t, http.StatusOK, serve(middleware, withClaim(httptest.NewRequest(http.MethodPost, "/", nil), user1)))
	assert.Equal(t, http.StatusTooManyRequests, serve(middleware, withClaim(httptest.NewRequest(http.MethodPost, "/", nil), user1)))
	assert.Equal(t, http.StatusOK, serve(middleware, withClaim(httptest.NewRequest(http.MethodPost, "/", nil), user2)))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(middleware, httptest.NewRequest(http.MethodPost, "/", nil)), "未认证请求不受用户限流影响")
	}
}

func TestKeyedLimiters_Sweep(t *testing.T) {
	k := newKeyedLimiters[string](1, 1)
	k.allow("a")
	k.allow("b")
	require.Equal(t, 2, k.size())

	k.sweep(time.Now())
	assert.Equal(t, 2, k.size(), "活跃条目不应被清理")

	k.sweep(time.Now().Add(idleTimeout + time.Minute))
	assert.Equal(t, 0, k.size())
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(testHandler)

	assert.Equal(t, http.StatusUnauthorized, serve(h, httptest.NewRequest(http.MethodPost, "/", nil)))
	assert.Equal(t, http.StatusForbidden, serve(h, withClaim(httptest.NewRequest(http.MethodPost, "/", nil), &service.Claim{ID: 3, Role: "viewer"})))
	assert.Equal(t, http.StatusOK, serve(h, withClaim(httptest.NewRequest(http.MethodPost, "/", nil), &service.Claim{ID: 1, Role: service.RoleAdmin})))
}

// loginEngine 把登录锁挂在一个只有密码为 good 时返回 200 的登录处理器前
func loginEngine(lock *LoginFailureLock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/auth/login", lock.Gin(), func(c *gin.Context) {
		if c.PostForm("pass") == "good" {
			c.Status(http.StatusOK)
			return
		}
		c.Status(http.StatusUnauthorized)
	})
	return r
}

func formLogin(user, pass string) *http.Request {
	form := url.Values{"user": {user}, "pass": {pass}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.10:4000"
	return req
}

func TestLoginFailureLock_LocksAfterMaxFailures(t *testing.T) {
	h := loginEngine(NewLoginFailureLock(3, time.Minute))

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusUnauthorized, serve(h, formLogin("root", "bad")))
	}
	assert.Equal(t, http.StatusUnauthorized, serve(h, formLogin("root", "good")), "锁定期间即使密码正确也应拒绝")
	assert.Equal(t, http.StatusOK, serve(h, formLogin("other", "good")), "锁定只针对 IP+用户名")
}

func TestLoginFailureLock_SuccessResetsCounter(t *testing.T) {
	h := loginEngine(NewLoginFailureLock(2, time.Minute))

	require.Equal(t, http.StatusUnauthorized, serve(h, formLogin("root", "bad")))
	require.Equal(t, http.StatusOK, serve(h, formLogin("root", "good")))
	require.Equal(t, http.StatusUnauthorized, serve(h, formLogin("root", "bad")))
	assert.Equal(t, http.StatusOK, serve(h, formLogin("root", "good")), "成功登录后计数应当清零")
}

func TestLoginFailureLock_GinWithJSONBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lock := NewLoginFailureLock(1, time.Minute)

	r := gin.New()
	r.POST("/login", lock.Gin(), func(c *gin.Context) {
		var req struct {
			User string `json:"user"`
			Pass string `json:"pass"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Pass != "good" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": req.User})
	})

	jsonLogin := func(pass string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"user":"root","pass":"`+pass+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.20:4000"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusUnauthorized, jsonLogin("bad").Code)
	locked := jsonLogin("good")
	assert.Equal(t, http.StatusUnauthorized, locked.Code)
	assert.Contains(t, locked.Body.String(), "用户名或密码无效")
}
