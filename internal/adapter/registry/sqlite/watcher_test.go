// file: internal/adapter/registry/sqlite/watcher_test.go
package sqlite

import (
	"BundleConsole/internal/core/domain"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webDescriptor = "location: file:deploy/web.jar\nsymbolic_name: com.example.web\nexport_package: com.example.web\nautostart: true\n"

func bundleByLocation(t *testing.T, r *Registry, location string) *domain.Bundle {
	t.Helper()
	bundles, err := r.Bundles(context.Background())
	require.NoError(t, err)
	for i := range bundles {
		if bundles[i].Location == location {
			return &bundles[i]
		}
	}
	return nil
}

func TestScanDeployDir(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()
	writeFile(t, dir, "web.yaml", webDescriptor)
	writeFile(t, dir, "broken.yaml", "symbolic_name: [")
	writeFile(t, dir, "readme.txt", "ignored")

	n, err := r.ScanDeployDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b := bundleByLocation(t, r, "file:deploy/web.jar")
	require.NotNil(t, b)
	assert.Equal(t, domain.StateActive, b.State)

	_, err = r.ScanDeployDir(context.Background(), dir+"/missing")
	assert.Error(t, err)
}

func TestWatcher_InstallUpdateRemove(t *testing.T) {
	r := newTestRegistry(t)
	r.debounce = 20 * time.Millisecond
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.StartWatcher(ctx, dir))

	path := writeFile(t, dir, "web.yaml", webDescriptor)
	require.Eventually(t, func() bool {
		return bundleByLocation(t, r, "file:deploy/web.jar") != nil
	}, 5*time.Second, 20*time.Millisecond, "新描述文件应被安装")

	writeFile(t, dir, "web.yaml", webDescriptor+"version: 1.1.0\n")
	require.Eventually(t, func() bool {
		b := bundleByLocation(t, r, "file:deploy/web.jar")
		return b != nil && b.Headers[domain.HeaderBundleVersion] == "1.1.0"
	}, 5*time.Second, 20*time.Millisecond, "修改后的描述文件应更新 bundle")

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return bundleByLocation(t, r, "file:deploy/web.jar") == nil
	}, 5*time.Second, 20*time.Millisecond, "删除描述文件应卸载 bundle")
}

func TestWatcher_MissingDirectory(t *testing.T) {
	r := newTestRegistry(t)
	err := r.StartWatcher(context.Background(), t.TempDir()+"/missing")
	assert.Error(t, err)
}
