package ontology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLabels(t *testing.T) {
	o := Default()

	for _, name := range []string{"Person", "Organization", "Location", "Document", "Event", "Service"} {
		_, ok := o.Lookup(name)
		assert.True(t, ok, name)
	}
	_, ok := o.Lookup("Spaceship")
	assert.False(t, ok)
}

func TestValidateEntityUnknownLabel(t *testing.T) {
	_, err := Default().ValidateEntity("Spaceship", nil)
	assert.Error(t, err)
}

func TestValidateEntityDropsUndeclaredAndMistyped(t *testing.T) {
	o := Default()

	cleaned, err := o.ValidateEntity("Person", map[string]interface{}{
		"role":      "CTO",
		"email":     42,           // wrong type, dropped
		"shoe_size": "undeclared", // not in schema, dropped
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"role": "CTO"}, cleaned)
}

func TestValidateEntityCoercesTypes(t *testing.T) {
	o := Default()
	require.NoError(t, o.Register(Label{
		Name: "Sensor",
		Attributes: []AttributeSchema{
			{Name: "channels", Type: TypeInt},
			{Name: "gain", Type: TypeFloat},
			{Name: "active", Type: TypeBool},
			{Name: "installed_at", Type: TypeTime},
		},
	}))

	cleaned, err := o.ValidateEntity("Sensor", map[string]interface{}{
		"channels":     float64(8), // JSON numbers decode as float64
		"gain":         1,
		"active":       true,
		"installed_at": "2024-05-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, cleaned["channels"])
	assert.Equal(t, float64(1), cleaned["gain"])
	assert.Equal(t, true, cleaned["active"])
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), cleaned["installed_at"])

	cleaned, err = o.ValidateEntity("Sensor", map[string]interface{}{
		"channels": 8.5, // fractional, not an int
	})
	require.NoError(t, err)
	assert.Nil(t, cleaned)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	assert.Error(t, Default().Register(Label{Name: "  "}))
}

func TestParseLayersOverDefaults(t *testing.T) {
	o, err := Parse([]byte(`
labels:
  - name: Project
    description: A tracked initiative.
    attributes:
      - name: status
        type: string
`))
	require.NoError(t, err)

	_, ok := o.Lookup("Project")
	assert.True(t, ok)
	_, ok = o.Lookup("Person")
	assert.True(t, ok)

	cleaned, err := o.ValidateEntity("Project", map[string]interface{}{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, "active", cleaned["status"])
}

func TestPromptDescription(t *testing.T) {
	desc := Default().PromptDescription()
	assert.Contains(t, desc, "- Person: An individual human being.")
	assert.Contains(t, desc, "role (string)")
	assert.Contains(t, desc, "- Location: A geographic place.")
}
