// file: internal/service/bundles/reporter_test.go
package bundles

import (
	"BundleConsole/internal/core/domain"
	"BundleConsole/internal/manifest"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReporterFixture() *fakeRegistry {
	unresolved := newBundle(4, "com.example.unres", "0.9.0", domain.StateInstalled)
	unresolved.Headers[domain.HeaderExportPackage] = `com.sun.tools, com.example.unres.api;version=0.9`
	unresolved.Headers[domain.HeaderImportPackage] = `com.example.api;version="[1.0,2.0)", ` +
		`com.example.missing;version=1.1;resolution:=optional, com.sun.nothing, com.example.self, ` +
		`com.example.api.old;version="[2.0,3.0)"`

	nameless := domain.Bundle{ID: 3, Location: "file:x", State: domain.StateActive}

	return &fakeRegistry{
		bundles: []domain.Bundle{
			newBundle(0, "system.bundle", "1.0.0", domain.StateActive),
			newBundle(1, "com.example.api", "1.2.0", domain.StateActive),
			newBundle(2, "com.example.impl", "1.0.0", domain.StateActive),
			nameless,
			unresolved,
		},
		// 故意不按包名排序
		exports: []domain.ExportedPackage{
			{
				Name:      "com.sun.misc.helper",
				Version:   domain.MustParseVersion("1.0"),
				Exporter:  ref(1, "com.example.api"),
				Importers: []domain.BundleRef{ref(2, "com.example.impl")},
			},
			{
				Name:      "com.example.api",
				Version:   domain.MustParseVersion("1.2.0"),
				Exporter:  ref(1, "com.example.api"),
				Importers: []domain.BundleRef{ref(2, "com.example.impl"), {ID: 3, Location: "file:x"}},
			},
		},
		resources: map[int64][]string{4: {"com/example/self"}},
	}
}

func newTestReporter(reg *fakeRegistry) *Reporter {
	return NewReporter(reg, NewBootDelegation("com.sun.*"), manifest.NewParser(16, time.Minute))
}

func TestReporter_ResolvedExporter(t *testing.T) {
	reg := newReporterFixture()
	before := append([]domain.ExportedPackage(nil), reg.exports...)

	rows, err := newTestReporter(reg).ImportExport(context.Background(), &reg.bundles[1])
	require.NoError(t, err)

	assert.Equal(t, []domain.KeyVal{
		{Key: LabelExportedPackages, Value: "com.example.api,version=1.2.0<br/>" +
			"!! com.sun.misc.helper,version=1.0.0 -- Overwritten by Boot Delegation<br/>"},
		{Key: LabelImportedPackages, Value: "None"},
		{Key: LabelImportingBundles, Value: "com.example.impl (2)<br/>file:x (3)<br/>"},
	}, rows)

	assert.Equal(t, before, reg.exports, "注册表数据不应被排序或修改")
}

func TestReporter_ResolvedImporter(t *testing.T) {
	reg := newReporterFixture()

	rows, err := newTestReporter(reg).ImportExport(context.Background(), &reg.bundles[2])
	require.NoError(t, err)

	assert.Equal(t, []domain.KeyVal{
		{Key: LabelExportedPackages, Value: "None"},
		{Key: LabelImportedPackages, Value: "com.example.api,version=1.2.0 from com.example.api (1)<br/>" +
			"!! com.sun.misc.helper,version=1.0.0 from com.example.api (1) -- Overwritten by Boot Delegation<br/>"},
	}, rows)
}

func TestReporter_ResolvedWithoutRuntimeExports(t *testing.T) {
	reg := &fakeRegistry{bundles: []domain.Bundle{newBundle(9, "com.example.lonely", "1.0.0", domain.StateResolved)}}

	rows, err := newTestReporter(reg).ImportExport(context.Background(), &reg.bundles[0])
	require.NoError(t, err)
	assert.Equal(t, []domain.KeyVal{{Key: LabelExportedPackages, Value: "None"}}, rows)
	for _, row := range rows {
		assert.NotEqual(t, LabelImportedPackages, row.Key, "运行时没有任何导出时不输出导入行")
	}
}

func TestReporter_Unresolved(t *testing.T) {
	reg := newReporterFixture()

	rows, err := newTestReporter(reg).ImportExport(context.Background(), &reg.bundles[4])
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, domain.KeyVal{
		Key: LabelExportedPackages,
		Value: "com.example.unres.api,version=0.9.0<br/>" +
			"!! com.sun.tools,version=0.0.0 -- Overwritten by Boot Delegation<br/>",
	}, rows[0])
	assert.Equal(t, domain.KeyVal{
		Key: LabelImportedPackages,
		Value: "com.example.api,version=1.0.0 from com.example.api (1)<br/>" +
			"!! com.example.api.old,version=2.0.0 -- Cannot be resolved<br/>" +
			"!! com.example.missing,version=1.1.0 -- Cannot be resolved but is not required<br/>" +
			"!! com.sun.nothing,version=0.0.0 -- Cannot be resolved and overwritten by Boot Delegation<br/>",
	}, rows[1])
}

func TestReporter_UnresolvedAllImportsSelfSatisfied(t *testing.T) {
	b := newBundle(11, "com.example.self", "1.0.0", domain.StateInstalled)
	b.Headers[domain.HeaderImportPackage] = "com.example.self.a, com.example.self.b"
	reg := &fakeRegistry{
		bundles:   []domain.Bundle{b},
		resources: map[int64][]string{11: {"com/example/self/a", "com/example/self/b"}},
	}

	rows, err := newTestReporter(reg).ImportExport(context.Background(), &b)
	require.NoError(t, err)
	assert.Equal(t, []domain.KeyVal{{Key: LabelImportedPackages, Value: "None"}}, rows)
}

func TestReporter_UnresolvedWithoutHeaders(t *testing.T) {
	b := newBundle(12, "com.example.bare", "", domain.StateInstalled)
	rows, err := newTestReporter(&fakeRegistry{}).ImportExport(context.Background(), &b)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReporter_UnresolvedMalformedHeader(t *testing.T) {
	b := newBundle(13, "com.example.bad", "", domain.StateInstalled)
	b.Headers[domain.HeaderExportPackage] = "a.pkg;version=one"

	_, err := newTestReporter(&fakeRegistry{}).ImportExport(context.Background(), &b)
	assert.Error(t, err)
}

func TestReporter_RegistryError(t *testing.T) {
	reg := newReporterFixture()
	reg.exportsErr = errors.New("wiring unavailable")

	_, err := newTestReporter(reg).ImportExport(context.Background(), &reg.bundles[1])
	assert.ErrorIs(t, err, reg.exportsErr)
}

func TestBundleDescriptor(t *testing.T) {
	assert.Equal(t, "com.example.api (1)", bundleDescriptor(domain.BundleRef{ID: 1, SymbolicName: "com.example.api", Location: "file:a"}))
	assert.Equal(t, "file:a (2)", bundleDescriptor(domain.BundleRef{ID: 2, Location: "file:a"}))
	assert.Equal(t, "(3)", bundleDescriptor(domain.BundleRef{ID: 3}))
}
