package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/nemocache"
	"github.com/unkn0wn-root/nemocache/backend"
	c "github.com/unkn0wn-root/nemocache/codec"
	"github.com/unkn0wn-root/nemocache/provider/bigcache"
	"github.com/unkn0wn-root/nemocache/provider/ristretto"
	"github.com/unkn0wn-root/nemocache/registry"
	"github.com/unkn0wn-root/nemocache/revision"
)

const base = `
namespace: order
cluster: main
clusters:
  main:
    kind: memory
expiration:
  mode: sliding
  after: 10m
lock:
  timeout_seconds: 5
  verify: true
write:
  mode: async
  workers: 2
`

const override = `
stale_aware: true
stale_after: 30s
write:
  mode: sync
codec:
  compress: true
  max_value_bytes: 1048576
revisions: local
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadMergesInOrder(t *testing.T) {
	cfg, err := Load(writeFile(t, "base.yaml", base), writeFile(t, "override.yaml", override))
	require.NoError(t, err)

	require.Equal(t, "order", cfg.Namespace)
	require.Equal(t, "sliding", cfg.Expiration.Mode)
	require.Equal(t, 10*time.Minute, cfg.Expiration.After)
	require.Equal(t, "sync", cfg.Write.Mode)
	require.Equal(t, 2, cfg.Write.Workers)
	require.True(t, cfg.StaleAware)
	require.Equal(t, 30*time.Second, cfg.StaleAfter)
}

func TestLoadNoFiles(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing_namespace", "cluster: main\nclusters:\n  main:\n    kind: memory\n"},
		{"undefined_cluster", "namespace: x\ncluster: other\nclusters:\n  main:\n    kind: memory\n"},
		{"bad_kind", "namespace: x\ncluster: main\nclusters:\n  main:\n    kind: couchbase\n"},
		{"bad_write_mode", base + "write:\n  mode: later\n"},
		{"sliding_without_span", "namespace: x\ncluster: main\nclusters:\n  main:\n    kind: memory\nexpiration:\n  mode: sliding\n"},
		{"bad_time_of_day", "namespace: x\ncluster: main\nclusters:\n  main:\n    kind: memory\nexpiration:\n  mode: time_of_day\n  time_of_day: \"25:00\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tc.body))
			require.Error(t, err)
		})
	}
}

func TestValidationErrorForField(t *testing.T) {
	err := Config{Cluster: "main"}.Validate()
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	require.Error(t, ve.ErrForField("Namespace"))
	require.Contains(t, ve.Error(), "Namespace")
}

func TestOptionsBuildsWorkingCache(t *testing.T) {
	cfg, err := Load(writeFile(t, "base.yaml", base), writeFile(t, "override.yaml", override))
	require.NoError(t, err)

	reg := registry.New(nil)
	defer reg.Close()
	require.NoError(t, cfg.RegisterClusters(reg))
	require.NoError(t, cfg.RegisterClusters(reg), "re-registering must be a no-op")

	opts, err := Options[string](cfg, reg, c.String{})
	require.NoError(t, err)
	require.Equal(t, backend.After(10*time.Minute), opts.Expiration)
	require.True(t, opts.Sliding)
	require.Equal(t, nemocache.WriteSync, opts.WriteMode)
	require.Equal(t, 5*time.Second, opts.LockTimeout)
	require.True(t, opts.VerifyLocks)
	require.IsType(t, c.LZ4[string]{}, opts.Codec)
	require.IsType(t, &revision.Local{}, opts.Revisions)

	cache, err := nemocache.New(opts)
	require.NoError(t, err)
	defer cache.Close(context.Background())

	ctx := context.Background()
	ok, err := cache.Set(ctx, "k", "v")
	require.NoError(t, err)
	require.True(t, ok)
	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestOptionsUnknownCluster(t *testing.T) {
	cfg := Config{Namespace: "x", Cluster: "main"}
	_, err := Options[string](cfg, registry.New(nil), c.String{})
	require.ErrorIs(t, err, registry.ErrUnknown)
}

func TestExpirationPolicies(t *testing.T) {
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		in   ExpirationConfig
		want backend.Expiration
	}{
		{ExpirationConfig{}, backend.Never()},
		{ExpirationConfig{Mode: "absolute", At: at.Format(time.RFC3339)}, backend.At(at)},
		{ExpirationConfig{Mode: "time_of_day", TimeOfDay: "03:30:00"}, backend.TimeOfDay(3*time.Hour + 30*time.Minute)},
		{ExpirationConfig{Mode: "after", After: time.Minute}, backend.After(time.Minute)},
	}
	for _, tc := range cases {
		got, err := tc.in.policy()
		require.NoError(t, err)
		require.Equal(t, tc.want.Kind, got.Kind)
		require.Equal(t, tc.want.Span, got.Span)
		require.True(t, tc.want.At.Equal(got.At))
	}
}

func TestLocalTiers(t *testing.T) {
	p, err := LocalConfig{Kind: "ristretto", MaxCost: 1 << 20}.build()
	require.NoError(t, err)
	require.IsType(t, &ristretto.Provider{}, p)
	require.NoError(t, p.Close(context.Background()))

	p, err = LocalConfig{Kind: "bigcache", LifeWindow: time.Minute}.build()
	require.NoError(t, err)
	require.IsType(t, &bigcache.Provider{}, p)
	require.NoError(t, p.Close(context.Background()))

	_, err = LocalConfig{Kind: "disk"}.build()
	require.Error(t, err)
}
