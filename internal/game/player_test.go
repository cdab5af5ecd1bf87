package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(capacity int) *Registry {
	return NewRegistry(capacity)
}

func addPlayer(t *testing.T, r *Registry, name string, host bool) *Player {
	t.Helper()
	p, err := r.Add(name, host, NewDike(1, 10, testMaterials()))
	require.NoError(t, err)
	return p
}

func TestRegistryAdd(t *testing.T) {
	r := newTestRegistry(2)

	host := addPlayer(t, r, "  Alice ", true)
	assert.Equal(t, 1, host.ID)
	assert.Equal(t, "Alice", host.Name)
	assert.True(t, host.IsHost)
	assert.True(t, host.IsLocal)
	assert.Equal(t, StatusConnected, host.Status)

	guest := addPlayer(t, r, "Bob", false)
	assert.Equal(t, 2, guest.ID)
	assert.False(t, guest.IsLocal)
	assert.True(t, r.Full())
}

func TestRegistryAddErrors(t *testing.T) {
	r := newTestRegistry(2)
	addPlayer(t, r, "Alice", true)

	_, err := r.Add("   ", false, nil)
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = r.Add("alice", false, nil)
	assert.ErrorIs(t, err, ErrNameInUse)

	addPlayer(t, r, "Bob", false)
	_, err = r.Add("Carol", false, nil)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRegistryReusesLowestFreeID(t *testing.T) {
	r := newTestRegistry(2)
	addPlayer(t, r, "Alice", true)
	addPlayer(t, r, "Bob", false)

	require.True(t, r.Remove(1))
	carol := addPlayer(t, r, "Carol", false)
	assert.Equal(t, 1, carol.ID)
}

func TestRegistryLookups(t *testing.T) {
	r := newTestRegistry(2)
	alice := addPlayer(t, r, "Alice", true)
	bob := addPlayer(t, r, "Bob", false)

	got, ok := r.ByName("BOB")
	require.True(t, ok)
	assert.Same(t, bob, got)

	opp, ok := r.Opponent(alice.ID)
	require.True(t, ok)
	assert.Same(t, bob, opp)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].ID)
	assert.Equal(t, 2, all[1].ID)

	bob.Status = StatusReconnecting
	assert.Equal(t, 1, r.ConnectedCount())
	assert.True(t, r.AnyReconnecting())
}

func TestRegistryAllReady(t *testing.T) {
	r := newTestRegistry(2)
	assert.False(t, r.AllReady())

	a := addPlayer(t, r, "Alice", true)
	b := addPlayer(t, r, "Bob", false)
	a.Ready = true
	assert.False(t, r.AllReady())
	b.Ready = true
	assert.True(t, r.AllReady())
}
