package fdata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRange(t *testing.T) {
	t.Run("valid range", func(t *testing.T) {
		r, err := NewRange(0, 100, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, int32(0), r.FileIndex())
		assert.Equal(t, int64(100), r.Offset())
		assert.Equal(t, uint64(50), r.Size())
	})

	t.Run("unset offset bypasses overflow check", func(t *testing.T) {
		_, err := NewRange(0, -1, ^uint64(0), 0)
		require.NoError(t, err)
	})

	t.Run("offset+size overflow", func(t *testing.T) {
		_, err := NewRange(0, 1<<62, 1<<62, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	})
}

func TestRangeSet(t *testing.T) {
	var r Range
	require.NoError(t, r.Set(2, 10, 20, 0x1))
	assert.Equal(t, int32(2), r.FileIndex())
	assert.Equal(t, uint32(0x1), r.Flags())

	err := r.Set(0, 1<<62, 1<<62, 0)
	require.Error(t, err)
	// failed Set must not mutate the receiver
	assert.Equal(t, int32(2), r.FileIndex())
}

func TestTreeRangeKeyValueLifecycle(t *testing.T) {
	t.Run("managed value is freed on reassignment", func(t *testing.T) {
		tr, err := NewTreeRange(0, 0, 10, 0)
		require.NoError(t, err)

		freedFirst := false
		require.NoError(t, tr.SetKeyValue("first", func(interface{}) error {
			freedFirst = true
			return nil
		}, true))

		require.NoError(t, tr.SetKeyValue("second", nil, false))
		assert.True(t, freedFirst)
		assert.Equal(t, "second", tr.KeyValue())
	})

	t.Run("managed value requires a destructor", func(t *testing.T) {
		tr, err := NewTreeRange(0, 0, 10, 0)
		require.NoError(t, err)

		err = tr.SetKeyValue("value", nil, true)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	})

	t.Run("borrowed value is never freed", func(t *testing.T) {
		tr, err := NewTreeRange(0, 0, 10, 0)
		require.NoError(t, err)

		freed := false
		require.NoError(t, tr.SetKeyValue("borrowed", func(interface{}) error {
			freed = true
			return nil
		}, false))
		require.NoError(t, tr.Release())
		assert.False(t, freed)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		tr, err := NewTreeRange(0, 0, 10, 0)
		require.NoError(t, err)

		calls := 0
		require.NoError(t, tr.SetKeyValue("owned", func(interface{}) error {
			calls++
			return nil
		}, true))

		require.NoError(t, tr.Release())
		require.NoError(t, tr.Release())
		assert.Equal(t, 1, calls)
		assert.Nil(t, tr.KeyValue())
	})
}
