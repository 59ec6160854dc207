package partyline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatterRegistryUpsert(t *testing.T) {
	registry := NewChatterRegistry()

	c := registry.Upsert("1001", "general", nil)
	assert.Equal(t, "1001", c.Identity)
	assert.Equal(t, "general", c.Channel)
	assert.True(t, c.Active)
	assert.False(t, c.AddedToList)

	// Re-upserting must not clobber existing state
	require.NoError(t, registry.SetActive("1001", false))
	require.NoError(t, registry.SetChannel("1001", "vip"))
	c = registry.Upsert("1001", "general", nil)
	assert.Equal(t, "vip", c.Channel)
	assert.False(t, c.Active)

	assert.Equal(t, 1, registry.Len())
}

func TestChatterRegistryUpsertDefaultChannel(t *testing.T) {
	registry := NewChatterRegistry()
	c := registry.Upsert("1001", "", nil)
	assert.Equal(t, DefaultChannel, c.Channel)
}

func TestChatterRegistryToggle(t *testing.T) {
	registry := NewChatterRegistry()
	registry.Upsert("1001", "", nil)

	active, err := registry.Toggle("1001")
	require.NoError(t, err)
	assert.False(t, active)

	active, err = registry.Toggle("1001")
	require.NoError(t, err)
	assert.True(t, active)

	_, err = registry.Toggle("ghost")
	assert.ErrorIs(t, err, ErrChatterNotFound)
}

func TestChatterRegistrySetChannel(t *testing.T) {
	registry := NewChatterRegistry()
	registry.Upsert("1001", "", nil)

	require.NoError(t, registry.SetChannel("1001", "general"))
	c, err := registry.Get("1001")
	require.NoError(t, err)
	assert.Equal(t, "general", c.Channel)

	assert.Error(t, registry.SetChannel("1001", ""))
	assert.ErrorIs(t, registry.SetChannel("ghost", "general"), ErrChatterNotFound)
}

func TestChatterRegistryMarkAdded(t *testing.T) {
	registry := NewChatterRegistry()
	registry.Upsert("1001", "", nil)

	already, err := registry.MarkAdded("1001")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = registry.MarkAdded("1001")
	require.NoError(t, err)
	assert.True(t, already)

	_, err = registry.MarkAdded("ghost")
	assert.ErrorIs(t, err, ErrChatterNotFound)
}

func TestChatterRegistryRemove(t *testing.T) {
	registry := NewChatterRegistry()
	registry.Upsert("1001", "", nil)

	require.NoError(t, registry.Remove("1001"))
	_, err := registry.Get("1001")
	assert.ErrorIs(t, err, ErrChatterNotFound)
	assert.ErrorIs(t, registry.Remove("1001"), ErrChatterNotFound)
}

func TestChatterRegistryChannels(t *testing.T) {
	registry := NewChatterRegistry()
	registry.Upsert("1001", "general", nil)
	registry.Upsert("1002", "", nil)

	channels := registry.Channels()
	assert.Equal(
		t,
		map[string]string{"1001": "general", "1002": DefaultChannel},
		channels,
	)
}

func TestChatterRegistryGetReturnsCopy(t *testing.T) {
	registry := NewChatterRegistry()
	registry.Upsert("1001", "general", nil)

	c, err := registry.Get("1001")
	require.NoError(t, err)
	c.Channel = "mutated"

	fresh, err := registry.Get("1001")
	require.NoError(t, err)
	assert.Equal(t, "general", fresh.Channel)
}
