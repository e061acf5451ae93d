package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/capgate/runtime/capability"
	"goa.design/capgate/runtime/registry"
)

func newCap(name string) capability.Capability {
	return capability.Capability{
		Name:        name,
		Method:      "GET",
		URLTemplate: "https://api.example.com/" + name,
	}
}

func TestRegisterUnionsCapabilities(t *testing.T) {
	ctx := context.Background()
	r := registry.New()

	require.True(t, r.Active().Empty())
	assert.EqualValues(t, 0, r.Active().Version)

	replaced := r.Register(ctx, "users", "https://users.example.com", []capability.Capability{newCap("getUser"), newCap("listUsers")})
	assert.False(t, replaced)
	replaced = r.Register(ctx, "orders", "https://orders.example.com", []capability.Capability{newCap("getOrder")})
	assert.False(t, replaced)

	snap := r.Active()
	assert.EqualValues(t, 2, snap.Version)
	require.Len(t, snap.Capabilities, 3)

	_, ok := snap.Lookup("getUser")
	assert.True(t, ok)
	_, ok = snap.Lookup("getOrder")
	assert.True(t, ok)
	_, ok = snap.Lookup("missing")
	assert.False(t, ok)
}

func TestDeregisterDropsCapabilities(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	r.Register(ctx, "users", "https://users.example.com", []capability.Capability{newCap("getUser")})
	r.Register(ctx, "orders", "https://orders.example.com", []capability.Capability{newCap("getOrder")})

	require.NoError(t, r.Deregister(ctx, "users"))

	snap := r.Active()
	assert.EqualValues(t, 3, snap.Version)
	_, ok := snap.Lookup("getUser")
	assert.False(t, ok)
	_, ok = snap.Lookup("getOrder")
	assert.True(t, ok)

	assert.ErrorIs(t, r.Deregister(ctx, "users"), registry.ErrNotFound)
}

func TestRegisterReplacesExisting(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	r.Register(ctx, "users", "https://users.example.com", []capability.Capability{newCap("getUser")})

	replaced := r.Register(ctx, "users", "https://users.example.com", []capability.Capability{newCap("searchUsers")})
	assert.True(t, replaced)

	snap := r.Active()
	_, ok := snap.Lookup("getUser")
	assert.False(t, ok, "capabilities from the replaced registration must be gone")
	_, ok = snap.Lookup("searchUsers")
	assert.True(t, ok)
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	r.Register(ctx, "users", "https://users.example.com", []capability.Capability{newCap("getUser")})

	before := r.Active()
	r.Register(ctx, "orders", "https://orders.example.com", []capability.Capability{newCap("getOrder")})

	// The snapshot taken before the mutation is untouched.
	require.Len(t, before.Capabilities, 1)
	_, ok := before.Lookup("getOrder")
	assert.False(t, ok)

	after := r.Active()
	assert.Greater(t, after.Version, before.Version)
	require.Len(t, after.Capabilities, 2)
}

func TestNameCollisionLastSortedWins(t *testing.T) {
	ctx := context.Background()
	r := registry.New()

	a := newCap("shared")
	a.Description = "from alpha"
	z := newCap("shared")
	z.Description = "from zulu"

	r.Register(ctx, "zulu", "https://z.example.com", []capability.Capability{z})
	r.Register(ctx, "alpha", "https://a.example.com", []capability.Capability{a})

	snap := r.Active()
	require.Len(t, snap.Capabilities, 1)
	got, ok := snap.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "from zulu", got.Description)
}

func TestServicesSorted(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	r.Register(ctx, "zulu", "https://z.example.com", nil)
	r.Register(ctx, "alpha", "https://a.example.com", nil)

	services := r.Services()
	require.Len(t, services, 2)
	assert.Equal(t, "alpha", services[0].Name)
	assert.Equal(t, "zulu", services[1].Name)
	assert.False(t, services[0].RegisteredAt.IsZero())
}
