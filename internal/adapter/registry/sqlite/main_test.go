// file: internal/adapter/registry/sqlite/main_test.go
package sqlite

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/manifest"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testSystemPackages = `org.osgi.framework;version=1.5, javax.servlet;version="3.1"`

// newTestRegistry 返回基于内存数据库的注册表
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	r, err := New(context.Background(), db, manifest.NewParser(64, time.Minute), Options{
		SystemPackages:    testSystemPackages,
		InitialStartLevel: 4,
	})
	require.NoError(t, err)
	return r
}

func apiDescriptor() *Descriptor {
	return &Descriptor{
		Location:     "file:bundles/api.jar",
		SymbolicName: "com.example.api",
		Version:      "1.2.0",
		Name:         "Example API",
		Exports:      `com.example.api;version=1.2.0`,
		Resources:    []string{"com/example/api/Greeter.class"},
	}
}

func implDescriptor() *Descriptor {
	return &Descriptor{
		Location:     "file:bundles/impl.jar",
		SymbolicName: "com.example.impl; singleton:=true",
		Version:      "1.0.0",
		Imports:      `com.example.api;version="[1.0,2.0)", org.osgi.framework;version=1.3, com.example.optional;resolution:=optional, com.example.impl.internal`,
		Resources:    []string{"com/example/impl/internal/Impl.class"},
		Services: []ServiceDescriptor{{
			ObjectClass: []string{"com.example.api.Greeter"},
			Properties:  map[string]any{"service.pid": "com.example.greeter", "service.vendor": "Example Corp"},
		}},
	}
}

func mustInstall(t *testing.T, r *Registry, d *Descriptor) int64 {
	t.Helper()
	id, err := r.Install(context.Background(), d)
	require.NoError(t, err)
	return id
}

func mustBundle(t *testing.T, r *Registry, id int64) *domain.Bundle {
	t.Helper()
	b, err := r.Bundle(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, b, "bundle %d 应存在", id)
	return b
}
