package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noopHandle() *CancelHandle {
	_, cancel := context.WithCancel(context.Background())
	return &CancelHandle{TurnCancel: cancel}
}

func TestCancelStoreReplaceReturnsPrevious(t *testing.T) {
	store := NewCancelStore()

	first := noopHandle()
	assert.Nil(t, store.Replace("conn-1", first))
	assert.Equal(t, 1, store.Len())

	second := noopHandle()
	assert.Same(t, first, store.Replace("conn-1", second))
	assert.Equal(t, 1, store.Len())
}

func TestCancelStoreTakeRemoves(t *testing.T) {
	store := NewCancelStore()
	h := noopHandle()
	store.Replace("conn-1", h)

	assert.Same(t, h, store.Take("conn-1"))
	assert.Zero(t, store.Len())
	assert.Nil(t, store.Take("conn-1"))
}

func TestCancelStoreReleaseOnlyMatchingHandle(t *testing.T) {
	store := NewCancelStore()
	old := noopHandle()
	store.Replace("conn-1", old)

	replacement := noopHandle()
	store.Replace("conn-1", replacement)

	// The finished old turn must not clear the replacement's slot.
	store.Release("conn-1", old)
	assert.Equal(t, 1, store.Len())

	store.Release("conn-1", replacement)
	assert.Zero(t, store.Len())
}

func TestCancelStoreIsPerConnection(t *testing.T) {
	store := NewCancelStore()
	store.Replace("conn-1", noopHandle())
	store.Replace("conn-2", noopHandle())

	store.Take("conn-1")
	assert.Equal(t, 1, store.Len())
}
