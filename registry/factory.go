package registry

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/nemocache/backend"
	"github.com/unkn0wn-root/nemocache/backend/memcache"
	"github.com/unkn0wn-root/nemocache/backend/memory"
	"github.com/unkn0wn-root/nemocache/backend/redis"
)

const (
	KindMemcache = "memcache"
	KindRedis    = "redis"
	KindMemory   = "memory"
)

// DefaultFactory connects memcache and redis clusters and creates in-process
// memory backends. Credential is the redis password when ClusterSpec.Password
// is empty.
func DefaultFactory(id Identity, spec ClusterSpec) (backend.Client, error) {
	switch spec.Kind {
	case KindMemcache:
		return memcache.New(memcache.Config{
			Servers:      spec.Servers,
			Timeout:      spec.Timeout,
			MaxIdleConns: spec.MaxIdleConns,
		})
	case KindRedis:
		if len(spec.Servers) == 0 {
			return nil, fmt.Errorf("redis cluster %q has no servers", id.Name)
		}
		pw := spec.Password
		if pw == "" {
			pw = id.Credential
		}
		rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:        spec.Servers,
			Password:     pw,
			DB:           spec.DB,
			DialTimeout:  spec.Timeout,
			ReadTimeout:  spec.Timeout,
			WriteTimeout: spec.Timeout,
		})
		return redis.New(redis.Config{Client: rdb, CloseClient: true})
	case KindMemory:
		return memory.New(nil), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", spec.Kind)
	}
}
