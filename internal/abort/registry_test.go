package abort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SignalLazyCreate(t *testing.T) {
	r := NewRegistry()

	sig := r.Signal("auth")
	require.NotNil(t, sig)
	assert.NoError(t, sig.Err(), "fresh signal must be live")

	// Same group returns the same context until aborted.
	assert.Equal(t, sig, r.Signal("auth"))
}

func TestRegistry_AbortGroupInstallsFreshSignal(t *testing.T) {
	r := NewRegistry()

	old := r.Signal("auth")
	r.AbortGroup("auth")

	assert.Error(t, old.Err(), "old signal must be cancelled")

	fresh := r.Signal("auth")
	assert.NoError(t, fresh.Err(), "replacement signal must be live")
	assert.NotEqual(t, old, fresh)
}

func TestRegistry_AbortUnknownGroupIsNoop(t *testing.T) {
	r := NewRegistry()
	r.AbortGroup("never-created")
}

func TestRegistry_AbortAll(t *testing.T) {
	r := NewRegistry()

	auth := r.Signal("auth")
	tenant := r.Signal("tenant")
	r.AbortAll()

	assert.Error(t, auth.Err())
	assert.Error(t, tenant.Err())
	assert.NoError(t, r.Signal("auth").Err())
	assert.NoError(t, r.Signal("tenant").Err())
}

func TestRegistry_ActiveGroup(t *testing.T) {
	r := NewRegistry()

	assert.Nil(t, r.ActiveSignal(), "no active group yet")
	assert.Equal(t, "", r.ActiveGroup())

	r.SetActiveGroup("features")
	assert.Equal(t, "features", r.ActiveGroup())

	sig := r.ActiveSignal()
	require.NotNil(t, sig)
	assert.Equal(t, r.Signal("features"), sig)

	r.SetActiveGroup("")
	assert.Nil(t, r.ActiveSignal())
}
