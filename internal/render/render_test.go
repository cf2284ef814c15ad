package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryHasIdentityAndJinja2(t *testing.T) {
	reg := DefaultRegistry()
	_, ok := reg.Get("identity")
	assert.True(t, ok)
	_, ok = reg.Get("jinja2")
	assert.True(t, ok)
	_, ok = reg.Get("unknown")
	assert.False(t, ok)
}

func TestIdentityRenderReturnsSourceUnchanged(t *testing.T) {
	out, err := Identity{}.Render("show interface ${iface}", map[string]interface{}{"iface": "eth0"})
	require.NoError(t, err)
	assert.Equal(t, "show interface ${iface}", out)
}

func TestJinja2RenderInterpolatesVariables(t *testing.T) {
	out, err := Jinja2{}.Render("show interface {{iface}} counters", map[string]interface{}{"iface": "eth0"})
	require.NoError(t, err)
	assert.Equal(t, "show interface eth0 counters", out)
}

func TestJinja2RenderMultipleVariables(t *testing.T) {
	out, err := Jinja2{}.Render("interface {{iface}}\n description {{desc}}", map[string]interface{}{
		"iface": "Gi0/1",
		"desc":  "uplink",
	})
	require.NoError(t, err)
	assert.Equal(t, "interface Gi0/1\n description uplink", out)
}

func TestJinja2RenderMissingVariableDoesNotError(t *testing.T) {
	out, err := Jinja2{}.Render("show interface {{iface}}", map[string]interface{}{})
	require.NoError(t, err)
	assert.Contains(t, out, "show interface")
}
