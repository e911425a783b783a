package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/nemocache/backend"
	"github.com/unkn0wn-root/nemocache/backend/memory"
)

func TestClientIsSharedPerIdentity(t *testing.T) {
	var built atomic.Int32
	r := New(func(Identity, ClusterSpec) (backend.Client, error) {
		built.Add(1)
		return memory.New(nil), nil
	})

	a := Identity{Name: "main", Credential: "alice"}
	b := Identity{Name: "main", Credential: "bob"}
	require.NoError(t, r.Register(a, ClusterSpec{Kind: KindMemory}))
	require.NoError(t, r.Register(b, ClusterSpec{Kind: KindMemory}))
	require.Zero(t, built.Load(), "clients must be created lazily")

	c1, err := r.Client(a)
	require.NoError(t, err)
	c2, err := r.Client(a)
	require.NoError(t, err)
	require.Same(t, c1, c2)

	c3, err := r.Client(b)
	require.NoError(t, err)
	require.NotSame(t, c1, c3)
	require.EqualValues(t, 2, built.Load())
	require.Len(t, r.Identities(), 2)

	require.NoError(t, r.Close())
	_, _, err = c1.Get(context.Background(), "k")
	require.ErrorIs(t, err, backend.ErrClosed)
}

func TestRegisterErrors(t *testing.T) {
	r := New(nil)
	id := Identity{Name: "main"}
	require.NoError(t, r.Register(id, ClusterSpec{Kind: KindMemory}))
	require.ErrorIs(t, r.Register(id, ClusterSpec{Kind: KindMemory}), ErrDuplicate)
	require.Error(t, r.Register(Identity{}, ClusterSpec{Kind: KindMemory}))

	_, err := r.Client(Identity{Name: "other"})
	require.ErrorIs(t, err, ErrUnknown)
}

func TestFactoryErrorSurfaces(t *testing.T) {
	boom := errors.New("boom")
	r := New(func(Identity, ClusterSpec) (backend.Client, error) { return nil, boom })
	require.NoError(t, r.Register(Identity{Name: "x"}, ClusterSpec{Kind: KindMemory}))
	_, err := r.Client(Identity{Name: "x"})
	require.ErrorIs(t, err, boom)
}

func TestDefaultFactory(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := DefaultFactory(Identity{Name: "r"}, ClusterSpec{Kind: KindRedis, Servers: []string{mr.Addr()}})
	require.NoError(t, err)
	require.True(t, c.Capabilities().CAS)
	require.NoError(t, c.Close())

	c, err = DefaultFactory(Identity{Name: "m"}, ClusterSpec{Kind: KindMemcache, Servers: []string{"127.0.0.1:11211"}})
	require.NoError(t, err)
	require.False(t, c.Capabilities().CAS)

	_, err = DefaultFactory(Identity{Name: "r"}, ClusterSpec{Kind: KindRedis})
	require.Error(t, err)
	_, err = DefaultFactory(Identity{Name: "?"}, ClusterSpec{Kind: "couchbase"})
	require.Error(t, err)
}

func TestIdentityString(t *testing.T) {
	require.Equal(t, "main", Identity{Name: "main"}.String())
	s := Identity{Name: "main", Credential: "secret"}.String()
	require.NotContains(t, s, "secret")
	require.Contains(t, s, "main@")
}
