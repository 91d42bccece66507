package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	publishers map[string]Publisher
	calls      map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{publishers: map[string]Publisher{}, calls: map[string]int{}}
}

func (f *fakeStore) GetPublisher(name string) (Publisher, error) {
	f.calls[name]++
	p, ok := f.publishers[name]
	if !ok {
		return Publisher{}, ErrNotFound
	}
	return p, nil
}

func TestValidateCachesActivePublisher(t *testing.T) {
	store := newFakeStore()
	store.publishers["P"] = Publisher{Name: "P", ActiveKey: "key", AccountAddress: "addr", Active: true}
	reg, err := New(store, 16)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, addr, err := reg.Validate("P")
		require.NoError(t, err)
		assert.Equal(t, "key", key)
		assert.Equal(t, "addr", addr)
	}
	assert.Equal(t, 1, store.calls["P"], "expected a single store read-through")
}

func TestValidateDoesNotCacheInactivePublisher(t *testing.T) {
	store := newFakeStore()
	store.publishers["P"] = Publisher{Name: "P", ActiveKey: "key", AccountAddress: "addr", Active: false}
	reg, err := New(store, 16)
	require.NoError(t, err)

	_, _, err1 := reg.Validate("P")
	assert.Error(t, err1)
	_, _, err2 := reg.Validate("P")
	assert.Error(t, err2)
	assert.Equal(t, 2, store.calls["P"], "inactive lookups must never be served from cache")
}

func TestValidateUnknownPublisher(t *testing.T) {
	store := newFakeStore()
	reg, err := New(store, 16)
	require.NoError(t, err)

	_, _, err = reg.Validate("ghost")
	assert.Error(t, err)
}

func TestValidateCaseSensitive(t *testing.T) {
	store := newFakeStore()
	store.publishers["Pragma"] = Publisher{Name: "Pragma", ActiveKey: "k", AccountAddress: "a", Active: true}
	reg, err := New(store, 16)
	require.NoError(t, err)

	_, _, err = reg.Validate("pragma")
	assert.Error(t, err)
	_, _, err = reg.Validate("Pragma")
	assert.NoError(t, err)
}
