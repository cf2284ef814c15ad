package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scitix/netpulse/internal/types"
)

func TestRegistryGetReturnsRegisteredFactory(t *testing.T) {
	reg := NewRegistry(MockFactory{Session: false})
	f, ok := reg.Get("mock")
	require.True(t, ok)
	assert.Equal(t, "mock", f.Name())
}

func TestRegistryGetUnknownNameIsMissing(t *testing.T) {
	reg := NewRegistry(MockFactory{Session: false})
	_, ok := reg.Get("does-not-exist")
	assert.False(t, ok)
}

func TestRegistryNamesListsEveryFactory(t *testing.T) {
	reg := NewRegistry(sshStubFactory{}, eapiStubFactory{})
	names := reg.Names()
	assert.ElementsMatch(t, []string{"ssh-stub", "eapi-stub"}, names)
}

func TestDefaultQueueStrategySessionOrientedDefaultsPinned(t *testing.T) {
	reg := NewRegistry(sshStubFactory{})
	assert.Equal(t, types.StrategyPinned, reg.DefaultQueueStrategy("ssh-stub"))
}

func TestDefaultQueueStrategyStatelessDefaultsFIFO(t *testing.T) {
	reg := NewRegistry(eapiStubFactory{})
	assert.Equal(t, types.StrategyFIFO, reg.DefaultQueueStrategy("eapi-stub"))
}

func TestDefaultQueueStrategyUnknownDriverDefaultsFIFO(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, types.StrategyFIFO, reg.DefaultQueueStrategy("unknown"))
}

// sshStubFactory/eapiStubFactory stand in for the session-oriented vs.
// stateless split without depending on MockFactory's shared "mock" name,
// so registry-level Names()/lookup behavior can be tested independently.
type sshStubFactory struct{}

func (sshStubFactory) Name() string                           { return "ssh-stub" }
func (sshStubFactory) SessionOriented() bool                   { return true }
func (sshStubFactory) New(req *types.ExecutionRequest) (Driver, error) { return nil, nil }

type eapiStubFactory struct{}

func (eapiStubFactory) Name() string                           { return "eapi-stub" }
func (eapiStubFactory) SessionOriented() bool                   { return false }
func (eapiStubFactory) New(req *types.ExecutionRequest) (Driver, error) { return nil, nil }
