// Package registry shares remote tier clients between caches.
//
// A client is created lazily the first time an identity is resolved and is
// reused by every cache that resolves the same identity afterwards. Close shuts
// all created clients down.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/do"

	"github.com/unkn0wn-root/nemocache/backend"
)

const iocPrefix = "_nemo_backend_:"

var (
	ErrDuplicate = errors.New("registry: identity already registered")
	ErrUnknown   = errors.New("registry: identity not registered")
)

// Identity names a cluster as seen by one set of credentials. Two identities
// with the same cluster name and different credentials get separate clients.
type Identity struct {
	Name       string
	Credential string
}

func (id Identity) String() string {
	if id.Credential == "" {
		return id.Name
	}
	sum := sha256.Sum256([]byte(id.Credential))
	return id.Name + "@" + hex.EncodeToString(sum[:4])
}

// ClusterSpec describes how to reach a cluster.
type ClusterSpec struct {
	Kind         string        `yaml:"kind" validate:"nonzero,regexp=^(memcache|redis|memory)$"`
	Servers      []string      `yaml:"servers"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxIdleConns int           `yaml:"max_idle_conns" validate:"min=0"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"min=0"`
}

// Factory builds the client of one identity.
type Factory func(id Identity, spec ClusterSpec) (backend.Client, error)

// shared adapts a backend.Client to do.Shutdownable.
type shared struct{ backend.Client }

func (s *shared) Shutdown() error { return s.Close() }

type Registry struct {
	inj     *do.Injector
	factory Factory

	mu    sync.Mutex
	specs map[string]ClusterSpec
}

// New returns an empty registry. A nil factory uses DefaultFactory.
func New(factory Factory) *Registry {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Registry{inj: do.New(), factory: factory, specs: make(map[string]ClusterSpec)}
}

// Register declares id. The client is not created until the first Client call.
func (r *Registry) Register(id Identity, spec ClusterSpec) error {
	if id.Name == "" {
		return fmt.Errorf("registry: empty cluster name")
	}
	name := id.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.specs[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.specs[name] = spec
	do.ProvideNamed(r.inj, iocPrefix+name, func(*do.Injector) (*shared, error) {
		c, err := r.factory(id, spec)
		if err != nil {
			return nil, fmt.Errorf("registry: connect %s (%s): %w", name, spec.Kind, err)
		}
		return &shared{Client: c}, nil
	})
	return nil
}

// Client returns the shared client of id, creating it on first use.
func (r *Registry) Client(id Identity) (backend.Client, error) {
	name := id.String()
	r.mu.Lock()
	_, ok := r.specs[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	s, err := do.InvokeNamed[*shared](r.inj, iocPrefix+name)
	if err != nil {
		return nil, err
	}
	return s.Client, nil
}

// Identities lists registered identities in name order.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close closes every client created so far.
func (r *Registry) Close() error {
	return r.inj.Shutdown()
}
