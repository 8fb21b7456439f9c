package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriter struct{}

func (nopWriter) WriteJSON(any) error { return nil }

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	r.Attach("conn-1", nopWriter{})
	r.Register("conn-1", "alice")

	connID, ok := r.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-1", connID)

	name, ok := r.NameOf("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestResolveUnknownNameIsNegativeNotError(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("nobody")
	assert.False(t, ok)
}

func TestRegisterOverwritesPriorName(t *testing.T) {
	r := NewRegistry()
	r.Attach("conn-1", nopWriter{})
	r.Register("conn-1", "alice")
	r.Register("conn-1", "alicia")

	_, ok := r.Resolve("alice")
	assert.False(t, ok)

	connID, ok := r.Resolve("alicia")
	require.True(t, ok)
	assert.Equal(t, "conn-1", connID)
}

func TestRegisterStealsHeldName(t *testing.T) {
	r := NewRegistry()
	r.Attach("conn-1", nopWriter{})
	r.Attach("conn-2", nopWriter{})
	r.Register("conn-1", "alice")
	r.Register("conn-2", "alice")

	connID, ok := r.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", connID)
}

func TestRegisterWithoutAttachIsIgnored(t *testing.T) {
	r := NewRegistry()
	r.Register("ghost", "casper")
	_, ok := r.Resolve("casper")
	assert.False(t, ok)
}

func TestDetachRemovesBothDirections(t *testing.T) {
	r := NewRegistry()
	r.Attach("conn-1", nopWriter{})
	r.Register("conn-1", "alice")
	r.Detach("conn-1")

	_, ok := r.Resolve("alice")
	assert.False(t, ok)
	_, ok = r.NameOf("conn-1")
	assert.False(t, ok)
	_, ok = r.WriterOf("conn-1")
	assert.False(t, ok)
}

func TestDetachDoesNotBreakNameStolenByOther(t *testing.T) {
	r := NewRegistry()
	r.Attach("conn-1", nopWriter{})
	r.Attach("conn-2", nopWriter{})
	r.Register("conn-1", "alice")
	r.Register("conn-2", "alice")

	// conn-1 no longer owns the name; its detach must not evict conn-2.
	r.Detach("conn-1")

	connID, ok := r.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", connID)
}
