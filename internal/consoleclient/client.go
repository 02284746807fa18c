// Package consoleclient 是控制台 HTTP API 的客户端，供 consolectl 使用
// file: internal/consoleclient/client.go
package consoleclient

import (
	"BundleConsole/internal/core/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNoContent 表示服务端返回 204，即找不到对应的 bundle
var ErrNoContent = errors.New("bundle 不存在")

// APIError 是服务端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("服务端返回 %d: %s", e.StatusCode, e.Message)
}

// LoginResult 是登录或安装成功后的响应
type LoginResult struct {
	Token string `json:"token"`
	User  struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
}

// ActionResponse 是 POST /bundles/* 的响应。
// 单个 bundle 的操作返回 bundle 信息，refreshPackages 只返回 reload 标记。
type ActionResponse struct {
	Reload   bool                  `json:"reload,omitempty"`
	BundleID *int64                `json:"bundleId,omitempty"`
	ID       *int64                `json:"id,omitempty"`
	Name     string                `json:"name,omitempty"`
	State    string                `json:"state,omitempty"`
	Actions  []domain.BundleAction `json:"actions,omitempty"`
}

// Client 访问控制台 HTTP API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New 创建客户端；httpClient 为 nil 时使用带超时的默认客户端
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Login 用用户名密码换取 JWT
func (c *Client) Login(ctx context.Context, user, pass string) (*LoginResult, error) {
	form := url.Values{"user": {user}, "pass": {pass}}
	var out LoginResult
	if err := c.doForm(ctx, "/api/v1/auth/login", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status 返回系统安装状态 (needs_setup / ready_for_login)
func (c *Client) Status(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/system/status", nil, "", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// List 获取 bundle 列表
func (c *Client) List(ctx context.Context) (*domain.BundleList, error) {
	var out domain.BundleList
	if err := c.do(ctx, http.MethodGet, "/api/v1/bundles", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Show 获取单个 bundle 的详细报告；bundle 不存在时返回 ErrNoContent
func (c *Client) Show(ctx context.Context, bundle string) (*domain.BundleList, error) {
	var out domain.BundleList
	if err := c.do(ctx, http.MethodGet, bundleURL(bundle), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Action 对 bundle 执行生命周期操作；refreshPackages 时 bundle 可以为空
func (c *Client) Action(ctx context.Context, bundle, action string) (*ActionResponse, error) {
	var out ActionResponse
	if err := c.doForm(ctx, bundleURL(bundle), url.Values{"action": {action}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentActions 获取最近的操作审计记录
func (c *Client) RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	var out struct {
		Data []domain.ActionRecord `json:"data"`
	}
	path := "/api/v1/actions?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func bundleURL(bundle string) string {
	if bundle == "" {
		return "/api/v1/bundles/"
	}
	return "/api/v1/bundles/" + url.PathEscape(bundle) + ".json"
}

func (c *Client) doForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s %s 失败: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return ErrNoContent
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
		if body.Details != "" {
			msg += ": " + body.Details
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
