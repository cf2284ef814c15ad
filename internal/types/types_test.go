package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateExactlyOneOfCommandConfig(t *testing.T) {
	req := &ExecutionRequest{ConnectionArgs: ConnectionArgs{"host": "r1"}}
	assert.EqualError(t, req.Validate(), "exactly one of command or config must be set")

	req.Command = "show version"
	req.Config = "hostname r1"
	assert.EqualError(t, req.Validate(), "exactly one of command or config must be set")
}

func TestValidateDictPayloadRequiresRendering(t *testing.T) {
	req := &ExecutionRequest{
		ConnectionArgs: ConnectionArgs{"host": "r1"},
		Command:        map[string]interface{}{"iface": "eth0"},
	}
	assert.EqualError(t, req.Validate(), "dict payload requires a matching rendering spec")

	req.Rendering = &RenderSpec{Name: "jinja2", Template: "show interface {{iface}}"}
	assert.NoError(t, req.Validate())
}

func TestValidateHostRequired(t *testing.T) {
	req := &ExecutionRequest{Command: "show version"}
	assert.EqualError(t, req.Validate(), "connection_args.host is required")
}

func TestValidateTTLBounds(t *testing.T) {
	req := &ExecutionRequest{
		ConnectionArgs: ConnectionArgs{"host": "r1"},
		Command:        "show version",
		TTLSeconds:     -1,
	}
	assert.Error(t, req.Validate())

	req.TTLSeconds = maxTTLSeconds + 1
	assert.Error(t, req.Validate())

	req.TTLSeconds = maxTTLSeconds
	assert.NoError(t, req.Validate())
}

func TestConnectionArgsCredentialRef(t *testing.T) {
	c := ConnectionArgs{"host": "r1"}
	_, ok := c.CredentialRef()
	assert.False(t, ok)

	c["credential_ref"] = map[string]interface{}{"provider": "inline", "path": "routers/r1"}
	ref, ok := c.CredentialRef()
	require.True(t, ok)
	assert.Equal(t, "inline", ref.Provider)
	assert.Equal(t, "routers/r1", ref.Path)
}

func TestConnectionArgsMergeOverrideKeepsBaseFieldsNotOverridden(t *testing.T) {
	base := ConnectionArgs{"host": "template-host", "username": "u", "password": "p", "port": 22}
	override := ConnectionArgs{"host": "r1"}

	merged := base.MergeOverride(override)

	assert.Equal(t, "r1", merged["host"])
	assert.Equal(t, "u", merged["username"])
	assert.Equal(t, "p", merged["password"])
	assert.Equal(t, 22, merged["port"])

	// base must be left untouched
	assert.Equal(t, "template-host", base["host"])
}

func TestConnectionArgsMergeOverrideDeviceWins(t *testing.T) {
	base := ConnectionArgs{"host": "template-host", "username": "u"}
	override := ConnectionArgs{"host": "r1", "username": "override-user"}

	merged := base.MergeOverride(override)

	assert.Equal(t, "r1", merged["host"])
	assert.Equal(t, "override-user", merged["username"])
}

func TestNormalizeCommands(t *testing.T) {
	cmds, err := NormalizeCommands("show version")
	require.NoError(t, err)
	assert.Equal(t, []string{"show version"}, cmds)

	cmds, err = NormalizeCommands([]interface{}{"show version", "show clock"})
	require.NoError(t, err)
	assert.Equal(t, []string{"show version", "show clock"}, cmds)

	_, err = NormalizeCommands([]interface{}{"show version", 42})
	assert.Error(t, err)

	_, err = NormalizeCommands(42)
	assert.Error(t, err)
}

func TestJoinedTemplateSource(t *testing.T) {
	joined, ok := JoinedTemplateSource([]string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, "a\nb", joined)

	_, ok = JoinedTemplateSource(42)
	assert.False(t, ok)
}

func TestSetPayloadAndIsConfig(t *testing.T) {
	req := &ExecutionRequest{Config: "hostname r1"}
	assert.True(t, req.IsConfig())
	req.SetPayload("hostname r2")
	assert.Equal(t, "hostname r2", req.Config)

	req2 := &ExecutionRequest{Command: "show version"}
	assert.False(t, req2.IsConfig())
	req2.SetPayload("show clock")
	assert.Equal(t, "show clock", req2.Command)
}

func TestNodeInfoCapacity(t *testing.T) {
	n := NodeInfo{Hostname: "node-1", Count: 2, Capacity: 5}
	assert.Equal(t, 3, n.Remaining())
	assert.True(t, n.HasCapacity())

	n.Count = 5
	assert.False(t, n.HasCapacity())
	assert.Equal(t, 0, n.Remaining())
}
