// file: internal/service/bundles/fake_registry_test.go
package bundles

import (
	"BundleConsole/internal/core/domain"
	"context"
	"slices"
	"time"
)

// fakeRegistry 是内存中的 port.BundleRegistry，错误字段非 nil 时对应方法直接返回该错误
type fakeRegistry struct {
	bundles    []domain.Bundle
	exports    []domain.ExportedPackage
	services   map[int64][]domain.ServiceReference
	resources  map[int64][]string
	startLevel int

	bundlesErr  error
	exportsErr  error
	servicesErr error

	bundlesCalls int
}

func (f *fakeRegistry) Bundles(_ context.Context) ([]domain.Bundle, error) {
	f.bundlesCalls++
	if f.bundlesErr != nil {
		return nil, f.bundlesErr
	}
	return slices.Clone(f.bundles), nil
}

func (f *fakeRegistry) Bundle(_ context.Context, id int64) (*domain.Bundle, error) {
	if f.bundlesErr != nil {
		return nil, f.bundlesErr
	}
	for i := range f.bundles {
		if f.bundles[i].ID == id {
			b := f.bundles[i]
			return &b, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) ExportedPackages(_ context.Context, bundleID int64) ([]domain.ExportedPackage, error) {
	if f.exportsErr != nil {
		return nil, f.exportsErr
	}
	var out []domain.ExportedPackage
	for _, ep := range f.exports {
		if ep.Exporter.ID == bundleID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeRegistry) AllExportedPackages(_ context.Context) ([]domain.ExportedPackage, error) {
	if f.exportsErr != nil {
		return nil, f.exportsErr
	}
	return slices.Clone(f.exports), nil
}

func (f *fakeRegistry) RegisteredServices(_ context.Context, bundleID int64) ([]domain.ServiceReference, error) {
	if f.servicesErr != nil {
		return nil, f.servicesErr
	}
	return f.services[bundleID], nil
}

func (f *fakeRegistry) HasResource(_ context.Context, bundleID int64, path string) (bool, error) {
	return slices.Contains(f.resources[bundleID], path), nil
}

func (f *fakeRegistry) InitialBundleStartLevel(_ context.Context) (int, error) {
	return f.startLevel, nil
}

func (f *fakeRegistry) setState(id int64, state domain.BundleState) {
	for i := range f.bundles {
		if f.bundles[i].ID == id {
			f.bundles[i].State = state
		}
	}
}

func (f *fakeRegistry) remove(id int64) {
	f.bundles = slices.DeleteFunc(f.bundles, func(b domain.Bundle) bool { return b.ID == id })
}

// mockLifecycle 以函数字段模拟生命周期操作，未设置的函数视为成功
type mockLifecycle struct {
	StartFunc     func(ctx context.Context, id int64) error
	StopFunc      func(ctx context.Context, id int64) error
	UninstallFunc func(ctx context.Context, id int64) error
	RefreshFunc   func(ctx context.Context, ids []int64) error

	calls []string
}

func (m *mockLifecycle) Start(ctx context.Context, id int64) error {
	m.calls = append(m.calls, "start")
	if m.StartFunc != nil {
		return m.StartFunc(ctx, id)
	}
	return nil
}

func (m *mockLifecycle) Stop(ctx context.Context, id int64) error {
	m.calls = append(m.calls, "stop")
	if m.StopFunc != nil {
		return m.StopFunc(ctx, id)
	}
	return nil
}

func (m *mockLifecycle) Uninstall(ctx context.Context, id int64) error {
	m.calls = append(m.calls, "uninstall")
	if m.UninstallFunc != nil {
		return m.UninstallFunc(ctx, id)
	}
	return nil
}

func (m *mockLifecycle) Refresh(ctx context.Context, ids []int64) error {
	m.calls = append(m.calls, "refresh")
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, ids)
	}
	return nil
}

// mockRecorder 收集审计记录
type mockRecorder struct {
	records []domain.ActionRecord
	err     error
}

func (m *mockRecorder) RecordAction(_ context.Context, rec domain.ActionRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockRecorder) RecentActions(_ context.Context, limit int) ([]domain.ActionRecord, error) {
	if limit > len(m.records) {
		limit = len(m.records)
	}
	return slices.Clone(m.records[:limit]), nil
}

func newBundle(id int64, symbolicName, version string, state domain.BundleState) domain.Bundle {
	headers := map[string]string{}
	if symbolicName != "" {
		headers[domain.HeaderBundleSymbolicName] = symbolicName
	}
	if version != "" {
		headers[domain.HeaderBundleVersion] = version
	}
	return domain.Bundle{
		ID:           id,
		SymbolicName: symbolicName,
		Location:     "file:bundles/" + symbolicName + ".jar",
		LastModified: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		State:        state,
		Headers:      headers,
	}
}

func ref(id int64, symbolicName string) domain.BundleRef {
	return domain.BundleRef{ID: id, SymbolicName: symbolicName}
}
