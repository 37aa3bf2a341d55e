package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbxark/linesrv/pkg/linesrv/slotpool"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry(slotpool.New(4))
	assert.NotNil(t, r)
	assert.Len(t, r.slots, 4)
}

func TestRegistry_BindGet(t *testing.T) {
	pool := slotpool.New(4)
	r := NewRegistry(pool)

	pos, ok := pool.Acquire()
	require.True(t, ok)
	conn := &Connection{pos: pos}

	require.NoError(t, r.Bind(conn))
	got, ok := r.Get(pos)
	require.True(t, ok)
	assert.Same(t, conn, got)

	// Rebinding the same connection is harmless.
	assert.NoError(t, r.Bind(conn))
}

func TestRegistry_BindSlotInUse(t *testing.T) {
	r := NewRegistry(slotpool.New(2))

	require.NoError(t, r.Bind(&Connection{pos: 1}))
	err := r.Bind(&Connection{pos: 1})
	assert.Error(t, err)
	assert.IsType(t, &SlotInUseError{}, err)
	assert.EqualError(t, err, "slot 1 already bound to a connection")
}

func TestRegistry_BindOutOfRange(t *testing.T) {
	r := NewRegistry(slotpool.New(2))

	for _, pos := range []int{-1, 2, 100} {
		err := r.Bind(&Connection{pos: pos})
		assert.IsType(t, &SlotOutOfRangeError{}, err, "slot %d", pos)
		assert.EqualError(t, err, fmt.Sprintf("slot %d out of range", pos))
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry(slotpool.New(2))

	_, ok := r.Get(0)
	assert.False(t, ok)
	_, ok = r.Get(-1)
	assert.False(t, ok)
	_, ok = r.Get(2)
	assert.False(t, ok)
}

func TestRegistry_Release(t *testing.T) {
	pool := slotpool.New(2)
	r := NewRegistry(pool)

	pos, ok := pool.Acquire()
	require.True(t, ok)
	conn := &Connection{pos: pos}
	require.NoError(t, r.Bind(conn))

	assert.True(t, r.Release(conn))
	assert.Equal(t, 0, pool.Count())
	_, ok = r.Get(pos)
	assert.False(t, ok)

	// The slot may already belong to someone else.
	pos2, ok := pool.Acquire()
	require.True(t, ok)
	require.Equal(t, pos, pos2)
	next := &Connection{pos: pos2}
	require.NoError(t, r.Bind(next))

	assert.False(t, r.Release(conn))
	assert.Equal(t, 1, pool.Count())
	got, ok := r.Get(pos2)
	require.True(t, ok)
	assert.Same(t, next, got)
}
