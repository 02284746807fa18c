// file: internal/service/bundles/console_test.go
package bundles

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/core/port"
	"BundleConsole/internal/manifest"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(reg *fakeRegistry, lc *mockLifecycle, rec *mockRecorder) *Console {
	var recorder port.ActionRecorder
	if rec != nil {
		recorder = rec
	}
	c := NewConsole(reg, lc, recorder, NewBootDelegation("com.sun.*"), manifest.NewParser(16, time.Minute))
	c.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	return c
}

func TestConsole_List(t *testing.T) {
	reg := newReporterFixture()
	reg.bundles[0].Headers[domain.HeaderBundleName] = "System Bundle"
	reg.setState(2, domain.StateResolved)
	reg.startLevel = 3

	list, err := newTestConsole(reg, &mockLifecycle{}, nil).List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.BundleSummary{Total: 5, Active: 3, Resolved: 1, Installed: 1}, list.Summary)
	assert.Equal(t, 3, list.StartLevel)
	assert.Equal(t, NumActions, list.NumActions)
	assert.Empty(t, list.Error)

	var names []string
	for _, info := range list.Data {
		names = append(names, info.Name)
		assert.Nil(t, info.Props, "列表页不应包含详细属性")
		assert.Len(t, info.Actions, NumActions)
	}
	assert.Equal(t, []string{"System Bundle", "com.example.api", "com.example.impl", "com.example.unres", "file:x"}, names)
	assert.Equal(t, "Resolved", list.Data[2].State)
}

func TestConsole_ListEmpty(t *testing.T) {
	list, err := newTestConsole(&fakeRegistry{startLevel: 1}, &mockLifecycle{}, nil).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No Bundles installed currently", list.Error)
	assert.Zero(t, list.Summary.Total)
	assert.Empty(t, list.Data)
}

func TestConsole_ListRegistryError(t *testing.T) {
	reg := &fakeRegistry{bundlesErr: errors.New("down")}
	_, err := newTestConsole(reg, &mockLifecycle{}, nil).List(context.Background())
	assert.ErrorIs(t, err, reg.bundlesErr)
}

func TestConsole_ListTieBrokenByID(t *testing.T) {
	reg := &fakeRegistry{bundles: []domain.Bundle{
		newBundle(9, "com.example.dup", "2.0.0", domain.StateActive),
		newBundle(4, "com.example.dup", "1.0.0", domain.StateActive),
	}}
	list, err := newTestConsole(reg, &mockLifecycle{}, nil).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Data, 2)
	assert.Equal(t, int64(4), list.Data[0].ID)
	assert.Equal(t, int64(9), list.Data[1].ID)
}

func TestActions(t *testing.T) {
	enabled := func(actions []domain.BundleAction) map[string]bool {
		out := make(map[string]bool, len(actions))
		for _, a := range actions {
			out[a.Link] = a.Enabled
		}
		return out
	}

	testCases := []struct {
		state     domain.BundleState
		start     bool
		stop      bool
		uninstall bool
	}{
		{domain.StateInstalled, true, false, true},
		{domain.StateResolved, true, false, true},
		{domain.StateActive, false, true, true},
		{domain.StateStarting, false, false, false},
		{domain.StateStopping, false, false, false},
		{domain.StateUninstalled, false, false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.state.String(), func(t *testing.T) {
			b := newBundle(5, "com.example.foo", "1.0.0", tc.state)
			got := enabled(Actions(&b))
			assert.Equal(t, map[string]bool{
				ActionStart:     tc.start,
				ActionStop:      tc.stop,
				ActionRefresh:   true,
				ActionUninstall: tc.uninstall,
			}, got)
		})
	}

	system := newBundle(domain.SystemBundleID, "system.bundle", "1.0.0", domain.StateActive)
	for _, a := range Actions(&system) {
		assert.False(t, a.Enabled, "系统 bundle 的 %s 应被禁用", a.Link)
	}
}

func TestConsole_Details(t *testing.T) {
	reg := newReporterFixture()
	b := &reg.bundles[1]
	b.Headers[domain.HeaderBundleDocURL] = "https://example.com/docs"
	b.Headers[domain.HeaderBundleVendor] = "Example Corp"
	b.Headers[domain.HeaderBundleClasspath] = ".,lib/dep.jar"
	level := 2
	b.StartLevel = &level
	reg.services = map[int64][]domain.ServiceReference{
		1: {{Properties: map[string]any{domain.ServiceID: int64(10), domain.ServiceObjectClass: []string{"com.example.Api"}}}},
	}

	props, err := newTestConsole(reg, &mockLifecycle{}, nil).Details(context.Background(), b)
	require.NoError(t, err)

	var keys []string
	values := map[string]string{}
	for _, kv := range props {
		keys = append(keys, kv.Key)
		values[kv.Key] = kv.Value
	}
	assert.Equal(t, []string{
		"Symbolic Name", "Version", "Location", "Last Modification", "Bundle Documentation",
		"Vendor", "Start Level", "Bundle Classpath",
		LabelExportedPackages, LabelImportedPackages, LabelImportingBundles,
		"Service ID 10",
	}, keys)
	assert.Equal(t, `<a href="https://example.com/docs" target="_blank">https://example.com/docs</a>`, values["Bundle Documentation"])
	assert.Equal(t, "2", values["Start Level"])
	assert.Equal(t, "1.2.0", values["Version"])
	assert.Equal(t, "Fri Mar  1 12:00:00 UTC 2024", values["Last Modification"])
}

func TestConsole_Report(t *testing.T) {
	reg := newReporterFixture()
	list, err := newTestConsole(reg, &mockLifecycle{}, nil).Report(context.Background(), &reg.bundles[2])
	require.NoError(t, err)

	assert.Equal(t, 5, list.Summary.Total)
	require.Len(t, list.Data, 1)
	assert.Equal(t, int64(2), list.Data[0].ID)
	assert.NotEmpty(t, list.Data[0].Props)
}

func TestConsole_PerformStart(t *testing.T) {
	reg := newReporterFixture()
	reg.setState(2, domain.StateResolved)
	lc := &mockLifecycle{StartFunc: func(_ context.Context, id int64) error {
		reg.setState(id, domain.StateActive)
		return nil
	}}
	rec := &mockRecorder{}

	res, err := newTestConsole(reg, lc, rec).PerformAction(context.Background(), "/bundles/2", ActionStart)
	require.NoError(t, err)
	require.NotNil(t, res.Bundle)
	assert.Equal(t, "Active", res.Bundle.State)
	assert.NotEmpty(t, res.Bundle.Props)
	assert.Same(t, res.Bundle, res.Payload())

	require.Len(t, rec.records, 1)
	assert.True(t, rec.records[0].Succeeded)
	assert.Equal(t, int64(2), rec.records[0].BundleID)
	assert.Equal(t, ActionStart, rec.records[0].Action)
	_, parseErr := uuid.Parse(rec.records[0].ActionID)
	assert.NoError(t, parseErr)
}

func TestConsole_PerformFailureStillReports(t *testing.T) {
	reg := newReporterFixture()
	lc := &mockLifecycle{StartFunc: func(context.Context, int64) error {
		return port.ErrUnresolvable
	}}
	rec := &mockRecorder{}

	res, err := newTestConsole(reg, lc, rec).PerformAction(context.Background(), "/bundles/com.example.unres", ActionStart)
	require.NoError(t, err)
	require.NotNil(t, res.Bundle)
	assert.Equal(t, "Installed", res.Bundle.State)

	require.Len(t, rec.records, 1)
	assert.False(t, rec.records[0].Succeeded)
	assert.Equal(t, port.ErrUnresolvable.Error(), rec.records[0].Message)
}

func TestConsole_PerformUninstall(t *testing.T) {
	reg := newReporterFixture()
	lc := &mockLifecycle{UninstallFunc: func(_ context.Context, id int64) error {
		reg.remove(id)
		return nil
	}}

	res, err := newTestConsole(reg, lc, nil).PerformAction(context.Background(), "/bundles/2", ActionUninstall)
	require.NoError(t, err)
	require.NotNil(t, res.BundleID)
	assert.Equal(t, int64(2), *res.BundleID)
	assert.Nil(t, res.Bundle)
	assert.Same(t, res, res.Payload())
}

func TestConsole_PerformRefreshPackages(t *testing.T) {
	var gotIDs []int64
	called := false
	lc := &mockLifecycle{RefreshFunc: func(_ context.Context, ids []int64) error {
		called = true
		gotIDs = ids
		return nil
	}}
	rec := &mockRecorder{}

	res, err := newTestConsole(newReporterFixture(), lc, rec).PerformAction(context.Background(), "/bundles", ActionRefreshPackages)
	require.NoError(t, err)
	assert.True(t, res.Reload)
	assert.True(t, called)
	assert.Nil(t, gotIDs)
	assert.Equal(t, []string{"refresh"}, lc.calls)
	require.Len(t, rec.records, 1)
}

func TestConsole_PerformRefreshSingle(t *testing.T) {
	var gotIDs []int64
	lc := &mockLifecycle{RefreshFunc: func(_ context.Context, ids []int64) error {
		gotIDs = ids
		return nil
	}}
	_, err := newTestConsole(newReporterFixture(), lc, nil).PerformAction(context.Background(), "/bundles/1", ActionRefresh)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, gotIDs)
}

func TestConsole_PerformOnSystemBundle(t *testing.T) {
	lc := &mockLifecycle{}
	rec := &mockRecorder{}

	res, err := newTestConsole(newReporterFixture(), lc, rec).PerformAction(context.Background(), "/bundles/0", ActionStop)
	require.NoError(t, err)
	require.NotNil(t, res.Bundle)
	assert.Empty(t, lc.calls)
	require.Len(t, rec.records, 1)
	assert.False(t, rec.records[0].Succeeded)
}

func TestConsole_PerformErrors(t *testing.T) {
	c := newTestConsole(newReporterFixture(), &mockLifecycle{}, nil)

	_, err := c.PerformAction(context.Background(), "/bundles/2", "restart")
	assert.ErrorIs(t, err, port.ErrUnknownAction)

	_, err = c.PerformAction(context.Background(), "/bundles/99", ActionStart)
	assert.ErrorIs(t, err, port.ErrBundleNotFound)
}

func TestConsole_RecorderFailureIgnored(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	res, err := newTestConsole(newReporterFixture(), &mockLifecycle{}, rec).PerformAction(context.Background(), "/bundles/2", ActionStop)
	require.NoError(t, err)
	assert.NotNil(t, res.Bundle)
}

func TestDisplayName(t *testing.T) {
	b := domain.Bundle{ID: 3, Headers: map[string]string{domain.HeaderBundleName: "Pretty"}, SymbolicName: "sym", Location: "loc"}
	assert.Equal(t, "Pretty", DisplayName(&b))
	b.Headers = nil
	assert.Equal(t, "sym", DisplayName(&b))
	b.SymbolicName = ""
	assert.Equal(t, "loc", DisplayName(&b))
	b.Location = ""
	assert.Equal(t, "3", DisplayName(&b))
}
