// Package aegmiddleware 提供控制台 HTTP 层使用的限流与登录保护中间件
package aegmiddleware

import (
	"BundleConsole/internal/service"
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 10 * time.Minute
	idleTimeout     = 15 * time.Minute
)

// limiterEntry 存储限制器和最后访问时间
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiters 按键(IP、用户 ID)维护独立的令牌桶
type keyedLimiters[K comparable] struct {
	mu       sync.Mutex
	limiters map[K]*limiterEntry
	rate     rate.Limit
	burst    int
}

func newKeyedLimiters[K comparable](r rate.Limit, b int) *keyedLimiters[K] {
	return &keyedLimiters[K]{limiters: make(map[K]*limiterEntry), rate: r, burst: b}
}

func (k *keyedLimiters[K]) allow(key K) bool {
	k.mu.Lock()
	entry, exists := k.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(k.rate, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	k.mu.Unlock()
	return entry.limiter.Allow()
}

// sweep 清理长时间不活跃的条目
func (k *keyedLimiters[K]) sweep(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, entry := range k.limiters {
		if now.Sub(entry.lastSeen) > idleTimeout {
			delete(k.limiters, key)
		}
	}
}

func (k *keyedLimiters[K]) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// ============================================================================
//  bundle 操作限流器
// ============================================================================

// ActionRateLimiter 限制改变运行时状态的 bundle 操作请求。
// 顺序: Global -> IP -> User -> Handler
type ActionRateLimiter struct {
	global *rate.Limiter
	perIP  *keyedLimiters[string]
	perUID *keyedLimiters[int64]
	stop   chan struct{}
	once   sync.Once
}

// NewActionRateLimiter 创建限流器；全局上限为单 IP 配额的 10 倍
func NewActionRateLimiter(perClientRate float64, perClientBurst int) *ActionRateLimiter {
	l := &ActionRateLimiter{
		global: rate.NewLimiter(rate.Limit(perClientRate*10), perClientBurst*10),
		perIP:  newKeyedLimiters[string](rate.Limit(perClientRate), perClientBurst),
		perUID: newKeyedLimiters[int64](rate.Limit(perClientRate), perClientBurst),
		stop:   make(chan struct{}),
	}
	go l.cleanupDaemon()

	log.Printf("信息: [Action Limiter] 初始化完成。单客户端限制: %.2f req/s, 峰值: %d", perClientRate, perClientBurst)
	return l
}

// Stop 停止后台清理协程
func (l *ActionRateLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *ActionRateLimiter) cleanupDaemon() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.perIP.sweep(now)
			l.perUID.sweep(now)
		}
	}
}

// Global 返回全局限制中间件
func (l *ActionRateLimiter) Global(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.global.Allow() {
			errResp(w, http.StatusTooManyRequests, "系统繁忙，请稍后再试 (global limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PerIP 返回按客户端 IP 限制的中间件
func (l *ActionRateLimiter) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.perIP.allow(getClientIP(r)) {
			errResp(w, http.StatusTooManyRequests, "您的请求过于频繁，请稍后再试 (per-ip limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PerUser 返回按已认证用户限制的中间件，未认证请求直接放行
func (l *ActionRateLimiter) PerUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := service.ClaimFrom(r)
		if claims == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !l.perUID.allow(claims.ID) {
			errResp(w, http.StatusTooManyRequests, "您的账户请求过于频繁，请稍后再试 (per-user limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Chain 组合全部限制层
func (l *ActionRateLimiter) Chain(next http.Handler) http.Handler {
	return l.Global(l.PerIP(l.PerUser(next)))
}

// getClientIP 从请求中获取客户端IP地址，考虑代理情况
func getClientIP(r *http.Request) string {
	ip := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	if ip != "" {
		return ip
	}
	if ip = r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ============================================================================
//  登录失败计数与临时锁定
// ============================================================================

// LoginFailureLock 在同一 IP+用户名 连续登录失败后临时锁定
type LoginFailureLock struct {
	failureCache    *cache.Cache
	maxFailures     int
	lockoutDuration time.Duration
}

// NewLoginFailureLock 创建一个新的登录失败锁定器
func NewLoginFailureLock(maxFailures int, lockoutDuration time.Duration) *LoginFailureLock {
	return &LoginFailureLock{
		failureCache:    cache.New(5*time.Minute, 10*time.Minute),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
}

// loginUser 从表单或 JSON 请求体中取出用户名，读取后把请求体放回
func loginUser(r *http.Request) string {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Printf("WARN: [Login Lock] 读取请求体失败: %v", err)
			return ""
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		var extractor struct {
			User string `json:"user"`
		}
		if err := json.Unmarshal(body, &extractor); err != nil {
			return ""
		}
		return strings.TrimSpace(extractor.User)
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return strings.TrimSpace(r.FormValue("user"))
}

func (l *LoginFailureLock) check(r *http.Request) (ip, username string, locked bool) {
	username = loginUser(r)
	ip = getClientIP(r)
	if _, found := l.failureCache.Get("lock:" + ip + ":" + username); found {
		log.Printf("警告: [Login Lock] 已锁定的账户 '%s' (来自IP: %s) 再次尝试登录。", username, ip)
		return ip, username, true
	}
	return ip, username, false
}

// observe 根据登录处理器的响应状态更新失败计数
func (l *LoginFailureLock) observe(ip, username string, status int) {
	failureKey := "failures:" + ip + ":" + username
	switch status {
	case http.StatusUnauthorized:
		if err := l.failureCache.Increment(failureKey, 1); err != nil {
			l.failureCache.Set(failureKey, int64(1), cache.DefaultExpiration)
		}
		var current int64
		if x, found := l.failureCache.Get(failureKey); found {
			current = x.(int64)
		}
		log.Printf("信息: [Login Failure] 账户 '%s' (来自IP: %s) 登录失败，当前失败次数: %d", username, ip, current)

		if current >= int64(l.maxFailures) {
			l.failureCache.Set("lock:"+ip+":"+username, true, l.lockoutDuration)
			l.failureCache.Delete(failureKey)
			log.Printf("警告: [Login Lock] 账户 '%s' (来自IP: %s) 已被临时锁定 %v。", username, ip, l.lockoutDuration)
		}
	case http.StatusOK:
		l.failureCache.Delete(failureKey)
	}
}

// Gin 返回包裹登录处理器的中间件，依据 gin 记录的响应状态更新失败计数
func (l *LoginFailureLock) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip, username, locked := l.check(c.Request)
		if locked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}
		c.Next()
		l.observe(ip, username, c.Writer.Status())
	}
}

// errResp 写出统一格式的 JSON 错误
func errResp(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
