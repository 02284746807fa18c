// file: internal/transport/http/router/router_test.go
package router

import (
	"BundleConsole/internal/adapter/registry/sqlite"
	"BundleConsole/internal/aegmiddleware"
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/manifest"
	"BundleConsole/internal/service"
	"BundleConsole/internal/service/bundles"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type testEnv struct {
	handler http.Handler
	reg     *sqlite.Registry
	auth    *service.Authenticator
	token   string
	apiID   int64
}

func memDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestEnv 组装真实的 sqlite 注册表、控制台与鉴权服务
func newTestEnv(t *testing.T, withAdmin bool, tweak func(*Dependencies)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	parser := manifest.NewParser(64, time.Minute)
	reg, err := sqlite.New(ctx, memDB(t), parser, sqlite.Options{
		SystemPackages:    "org.osgi.framework;version=1.5",
		InitialStartLevel: 3,
	})
	require.NoError(t, err)

	apiID, err := reg.Install(ctx, &sqlite.Descriptor{
		Location:     "file:bundles/api.jar",
		SymbolicName: "com.example.api",
		Version:      "1.2.0",
		Name:         "Example API",
		Exports:      "com.example.api;version=1.2.0",
		Imports:      "org.osgi.framework;version=1.3",
	})
	require.NoError(t, err)

	authDB := memDB(t)
	require.NoError(t, service.InitConsoleTables(ctx, authDB))
	auth, err := service.NewAuthenticator(authDB, []byte("router-test-key"), time.Hour)
	require.NoError(t, err)

	env := &testEnv{reg: reg, auth: auth, apiID: apiID}
	if withAdmin {
		require.NoError(t, auth.CreateAdmin(ctx, "root", "pw"))
		id, _, ok := auth.CheckUser(ctx, "root", "pw")
		require.True(t, ok)
		env.token, err = auth.GenToken(id, service.RoleAdmin)
		require.NoError(t, err)
	}

	deps := Dependencies{
		Console:            bundles.NewConsole(reg, reg, reg, bundles.NewBootDelegation("sun.*"), parser),
		Auth:               auth,
		LoginLock:          aegmiddleware.NewLoginFailureLock(3, time.Minute),
		SetupToken:         "setup-123",
		SetupTokenDeadline: time.Now().Add(time.Hour),
		ServeMetrics:       true,
	}
	if tweak != nil {
		tweak(&deps)
	}
	env.handler = New(deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestSetupFlow(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rr := env.do(t, http.MethodGet, "/api/v1/system/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "needs_setup", decode[map[string]any](t, rr)["status"])

	rr = env.do(t, http.MethodGet, "/api/v1/system/setup", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "setup-123", decode[map[string]any](t, rr)["token"])

	rr = env.do(t, http.MethodPost, "/api/v1/system/setup", url.Values{"token": {"wrong"}, "user": {"root"}, "pass": {"pw"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/system/setup", url.Values{"token": {"setup-123"}, "user": {"root"}, "pass": {"pw"}})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.NotEmpty(t, body["token"])

	rr = env.do(t, http.MethodGet, "/api/v1/system/status", nil)
	assert.Equal(t, "ready_for_login", decode[map[string]any](t, rr)["status"])

	rr = env.do(t, http.MethodGet, "/api/v1/system/setup", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPost, "/api/v1/system/setup", url.Values{"token": {"setup-123"}, "user": {"x"}, "pass": {"y"}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.token = ""

	rr := env.do(t, http.MethodPost, "/api/v1/auth/login", url.Values{"user": {"root"}, "pass": {"pw"}})
	require.Equal(t, http.StatusOK, rr.Code)
	token, _ := decode[map[string]any](t, rr)["token"].(string)
	claims, err := env.auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, service.RoleAdmin, claims.Role)

	rr = env.do(t, http.MethodPost, "/api/v1/auth/login", url.Values{"user": {"root"}, "pass": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/auth/login", url.Values{"user": {"root"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBundles_RequireAdmin(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.token = ""
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/bundles", nil).Code)

	env.token = "garbage"
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/bundles", nil).Code)

	viewer, err := env.auth.GenToken(1, "viewer")
	require.NoError(t, err)
	env.token = viewer
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/v1/bundles", nil).Code)
}

func TestBundles_List(t *testing.T) {
	env := newTestEnv(t, true, nil)

	for _, path := range []string{"/api/v1/bundles", "/api/v1/bundles/", "/api/v1/bundles/.json"} {
		rr := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code, path)

		list := decode[domain.BundleList](t, rr)
		assert.Equal(t, 2, list.Summary.Total, path)
		assert.Equal(t, 3, list.StartLevel)
		assert.Equal(t, bundles.NumActions, list.NumActions)
		require.Len(t, list.Data, 2)
		for _, info := range list.Data {
			assert.Empty(t, info.Props, "列表不带详细属性")
		}
	}
}

func TestBundles_Report(t *testing.T) {
	env := newTestEnv(t, true, nil)

	paths := []string{
		fmt.Sprintf("/api/v1/bundles/%d", env.apiID),
		fmt.Sprintf("/api/v1/bundles/%d.json", env.apiID),
		"/api/v1/bundles/com.example.api",
		"/api/v1/bundles/com.example.api:1.2.0.json",
	}
	for _, path := range paths {
		rr := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code, path)

		list := decode[domain.BundleList](t, rr)
		assert.Equal(t, 2, list.Summary.Total, "统计仍覆盖全部 bundle")
		require.Len(t, list.Data, 1, path)
		assert.Equal(t, env.apiID, list.Data[0].ID)
		assert.Equal(t, "Example API", list.Data[0].Name)
		assert.NotEmpty(t, list.Data[0].Props)
	}
}

func TestBundles_ReportUnknownIsNoContent(t *testing.T) {
	env := newTestEnv(t, true, nil)
	for _, path := range []string{"/api/v1/bundles/999", "/api/v1/bundles/com.example.none", "/api/v1/bundles/com.example.api:9.9.9"} {
		rr := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code, path)
		assert.Zero(t, rr.Body.Len())
	}
}

func TestBundles_Actions(t *testing.T) {
	env := newTestEnv(t, true, nil)
	path := fmt.Sprintf("/api/v1/bundles/%d", env.apiID)

	rr := env.do(t, http.MethodPost, path, url.Values{"action": {"start"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	info := decode[domain.BundleInfo](t, rr)
	assert.Equal(t, "Active", info.State)
	assert.NotEmpty(t, info.Props)

	rr = env.do(t, http.MethodPost, path, url.Values{"action": {"stop"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Resolved", decode[domain.BundleInfo](t, rr).State)

	rr = env.do(t, http.MethodPost, "/api/v1/bundles/0", url.Values{"action": {"stop"}})
	require.Equal(t, http.StatusOK, rr.Code, "系统 bundle 的操作失败只记录，不中断")
	assert.Equal(t, "Active", decode[domain.BundleInfo](t, rr).State)

	rr = env.do(t, http.MethodPost, "/api/v1/bundles/0", url.Values{"action": {"refreshPackages"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode[map[string]any](t, rr)["reload"])

	rr = env.do(t, http.MethodPost, path, url.Values{"action": {"uninstall"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, env.apiID, decode[map[string]any](t, rr)["bundleId"])

	b, err := env.reg.Bundle(context.Background(), env.apiID)
	require.NoError(t, err)
	assert.Nil(t, b)

	rr = env.do(t, http.MethodGet, "/api/v1/actions?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	recs := decode[struct {
		Data []domain.ActionRecord `json:"data"`
	}](t, rr)
	require.Len(t, recs.Data, 5)
	var failed int
	for _, rec := range recs.Data {
		if !rec.Succeeded {
			failed++
		}
	}
	assert.Equal(t, 1, failed, "只有系统 bundle 的 stop 失败")
}

func TestBundles_ActionErrors(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rr := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bundles/%d", env.apiID), url.Values{"action": {"explode"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bundles/%d", env.apiID), url.Values{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/bundles/999", url.Values{"action": {"start"}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBundles_ActionRateLimited(t *testing.T) {
	limiter := aegmiddleware.NewActionRateLimiter(0.01, 1)
	t.Cleanup(limiter.Stop)
	env := newTestEnv(t, true, func(d *Dependencies) { d.ActionLimiter = limiter })
	path := fmt.Sprintf("/api/v1/bundles/%d", env.apiID)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path, url.Values{"action": {"start"}}).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, path, url.Values{"action": {"stop"}}).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path, nil).Code, "只读请求不受限流影响")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)
	rr := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	env = newTestEnv(t, true, func(d *Dependencies) { d.ServeMetrics = false })
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/metrics", nil).Code)
}
