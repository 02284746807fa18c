// Package aegobserve 暴露 Prometheus 指标
package aegobserve

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 生命周期操作的结果标签
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// 指标定义
var (
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bundleconsole_http_request_duration_seconds",
		Help:    "HTTP 请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "code"})

	// BundleActions 按操作名与结果统计 bundle 生命周期操作
	BundleActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bundleconsole_bundle_actions_total",
		Help: "bundle 生命周期操作次数",
	}, []string{"action", "outcome"})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(httpRequestDuration, BundleActions)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }

// ObserveAction 记录一次生命周期操作
func ObserveAction(action string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	BundleActions.WithLabelValues(action, outcome).Inc()
}

// PrometheusMiddleware 以路由模板为 path 标签记录请求耗时
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
