// Package downloader 按 URL 协议获取 bundle 描述文件，供 consolectl deploy 使用
// file: internal/downloader/downloader.go
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// maxErrorBody 是错误信息中附带的响应体最大字节数
const maxErrorBody = 512

// Downloader 是所有下载器都必须实现的接口。
type Downloader interface {
	// SupportsScheme 支持的协议 (e.g., "http", "https", "file")
	SupportsScheme(scheme string) bool
	// Download 执行下载，返回一个可读取文件内容的对象
	Download(ctx context.Context, sourceURL *url.URL) (io.ReadCloser, error)
}

// HTTPDownloader 是 HTTP/HTTPS 下载器
type HTTPDownloader struct {
	Client *http.Client
}

func (d *HTTPDownloader) SupportsScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

func (d *HTTPDownloader) Download(ctx context.Context, sourceURL *url.URL) (io.ReadCloser, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("HTTP请求失败: 状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

// FileDownloader 是本地文件“下载”器
type FileDownloader struct{}

func (d *FileDownloader) SupportsScheme(scheme string) bool {
	return scheme == "file"
}

func (d *FileDownloader) Download(_ context.Context, sourceURL *url.URL) (io.ReadCloser, error) {
	f, err := os.Open(resolveLocalFilePath(sourceURL))
	if err != nil {
		return nil, fmt.Errorf("打开本地文件失败: %w", err)
	}
	return f, nil
}

// resolveLocalFilePath 把 file URL 转成本地路径；Windows 上去掉盘符前多余的 '/'
func resolveLocalFilePath(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// Fetcher 按协议选择下载器
type Fetcher struct {
	downloaders []Downloader
}

// NewFetcher 创建支持 http/https/file 的 Fetcher
func NewFetcher(client *http.Client) *Fetcher {
	return &Fetcher{downloaders: []Downloader{&HTTPDownloader{Client: client}, &FileDownloader{}}}
}

// Fetch 读取 source 的全部内容。没有协议的 source 视为本地路径。
// limit > 0 时超过 limit 字节返回错误。
func (f *Fetcher) Fetch(ctx context.Context, source string, limit int64) ([]byte, error) {
	u, err := parseSource(source)
	if err != nil {
		return nil, err
	}
	for _, d := range f.downloaders {
		if !d.SupportsScheme(u.Scheme) {
			continue
		}
		rc, err := d.Download(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("下载 '%s' 失败: %w", source, err)
		}
		defer rc.Close()

		r := io.Reader(rc)
		if limit > 0 {
			r = io.LimitReader(rc, limit+1)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("读取 '%s' 失败: %w", source, err)
		}
		if limit > 0 && int64(len(data)) > limit {
			return nil, fmt.Errorf("'%s' 超过大小上限 %d 字节", source, limit)
		}
		return data, nil
	}
	return nil, fmt.Errorf("不支持的协议 '%s'", u.Scheme)
}

func parseSource(source string) (*url.URL, error) {
	if !strings.Contains(source, "://") {
		abs, err := filepath.Abs(source)
		if err != nil {
			return nil, fmt.Errorf("无法获取 '%s' 的绝对路径: %w", source, err)
		}
		return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("非法的 URL '%s': %w", source, err)
	}
	return u, nil
}
