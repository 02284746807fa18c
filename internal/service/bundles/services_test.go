// file: internal/service/bundles/services_test.go
package bundles

import (
	"BundleConsole/internal/core/domain"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceRows(t *testing.T) {
	refs := []domain.ServiceReference{
		{Properties: map[string]any{
			domain.ServiceID:            int64(42),
			domain.ServiceObjectClass:   []string{"com.example.Greeter", "com.example.Admin"},
			domain.ServicePID:           "com.example.greeter",
			domain.ServiceComponentName: "greeter",
			domain.ServiceComponentID:   float64(7),
			domain.ServiceVendor:        "Example Corp",
			"unrelated.property":        "ignored",
		}},
		{Properties: map[string]any{
			domain.ServiceID:          float64(43),
			domain.ServiceObjectClass: []any{"com.example.Listener"},
			domain.ServiceFactoryPID:  "com.example.factory",
			domain.ServiceDescription: "listens",
		}},
	}

	assert.Equal(t, []domain.KeyVal{
		{
			Key: "Service ID 42",
			Value: "Types: com.example.Greeter, com.example.Admin<br/>" +
				"PID: com.example.greeter<br/>" +
				"Component Name: greeter<br/>" +
				"Component ID: 7<br/>" +
				"Vendor: Example Corp<br/>",
		},
		{
			Key: "Service ID 43",
			Value: "Types: com.example.Listener<br/>" +
				"Factory PID: com.example.factory<br/>" +
				"Description: listens<br/>",
		},
	}, ServiceRows(refs))
}

func TestServiceRows_Empty(t *testing.T) {
	assert.Empty(t, ServiceRows(nil))
}

func TestFormatProperty(t *testing.T) {
	assert.Equal(t, "", formatProperty(nil))
	assert.Equal(t, "1.5", formatProperty(1.5))
	assert.Equal(t, "3", formatProperty(3))
	assert.Equal(t, "true", formatProperty(true))
	assert.Equal(t, "a, 2", formatProperty([]any{"a", float64(2)}))
}
