// Package registry implements the publisher registry of spec §4.B: a
// case-sensitive lookup backed by a bounded LRU cache that never caches a
// negative (inactive-publisher) result.
package registry

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pragma-node/oracle-node/internal/apierr"
)

// Publisher mirrors spec §3.
type Publisher struct {
	Name           string
	MasterKey      string
	ActiveKey      string
	AccountAddress string
	Active         bool
}

// Store is the read-through backing store for publishers, implemented
// elsewhere against the persistence engine (an external collaborator per
// spec §1). Tests use an in-memory fake.
type Store interface {
	GetPublisher(name string) (Publisher, error)
}

// ErrNotFound is returned by Store implementations when name is unknown.
var ErrNotFound = fmt.Errorf("registry: publisher not found")

// Registry resolves and validates publishers, caching positive results.
type Registry struct {
	store Store
	cache *lru.Cache[string, Publisher]
	mu    sync.Mutex
}

// New builds a Registry with an LRU cache of the given size.
func New(store Store, cacheSize int) (*Registry, error) {
	cache, err := lru.New[string, Publisher](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("registry: building cache: %w", err)
	}
	return &Registry{store: store, cache: cache}, nil
}

// Get looks up a publisher by name, case-sensitively, reading through the
// cache on miss.
func (r *Registry) Get(name string) (Publisher, error) {
	r.mu.Lock()
	if p, ok := r.cache.Get(name); ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	p, err := r.store.GetPublisher(name)
	if err != nil {
		return Publisher{}, err
	}

	// Negative results (inactive publishers) are never cached, per spec
	// §4.B, so an inactive publisher is re-read from the store on every
	// lookup. Cached active entries have no expiry: a publisher flipped
	// active->inactive in the store keeps being served from the cache
	// until its entry is evicted or Invalidate is called.
	if p.Active {
		r.mu.Lock()
		r.cache.Add(name, p)
		r.mu.Unlock()
	}
	return p, nil
}

// Validate resolves name and returns its verification key and account
// address, or the typed error that should surface at the HTTP/websocket
// boundary per spec §4.C.
func (r *Registry) Validate(name string) (publicKey, accountAddress string, err error) {
	p, err := r.Get(name)
	if err != nil {
		if err == ErrNotFound {
			return "", "", apierr.New(apierr.KindUnauthorized, fmt.Sprintf("publisher %q is unknown", name))
		}
		return "", "", apierr.Wrap(apierr.KindUpstream, "looking up publisher", err)
	}
	if !p.Active {
		return "", "", apierr.New(apierr.KindPublisherError, fmt.Sprintf("publisher %q is inactive", name))
	}
	if p.ActiveKey == "" {
		return "", "", apierr.New(apierr.KindPublisherError, fmt.Sprintf("publisher %q has no active key", name))
	}
	if p.AccountAddress == "" {
		return "", "", apierr.New(apierr.KindPublisherError, fmt.Sprintf("publisher %q has no account address", name))
	}
	return p.ActiveKey, p.AccountAddress, nil
}

// Invalidate drops a cached entry; used by admin flows that flip the
// active flag out of band (spec §3 lifecycles).
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(name)
}
