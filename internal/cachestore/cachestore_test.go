package cachestore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/fdata/internal/cachestore"
)

func TestStoreGetSetRoundTrip(t *testing.T) {
	s, err := cachestore.New(4)
	require.NoError(t, err)

	require.NoError(t, s.SetValueByIdentifier(0, 100, 1, "payload", nil))

	v, ok := s.GetValueByIdentifier(0, 100, 1)
	require.True(t, ok)
	assert.Equal(t, "payload", v.Value())

	gotFile, gotOffset, gotTimestamp := v.Identifier()
	assert.Equal(t, int32(0), gotFile)
	assert.Equal(t, int64(100), gotOffset)
	assert.Equal(t, uint64(1), gotTimestamp)
}

func TestStoreMissOnUnknownKey(t *testing.T) {
	s, err := cachestore.New(4)
	require.NoError(t, err)

	_, ok := s.GetValueByIdentifier(0, 999, 1)
	assert.False(t, ok)
}

func TestStoreEvictsUnderCapacity(t *testing.T) {
	s, err := cachestore.New(2)
	require.NoError(t, err)

	var freedKeys []int64
	freeFor := func(offset int64) func(interface{}) error {
		return func(interface{}) error {
			freedKeys = append(freedKeys, offset)
			return nil
		}
	}

	require.NoError(t, s.SetValueByIdentifier(0, 1, 1, "a", freeFor(1)))
	require.NoError(t, s.SetValueByIdentifier(0, 2, 1, "b", freeFor(2)))
	require.NoError(t, s.SetValueByIdentifier(0, 3, 1, "c", freeFor(3)))

	assert.Equal(t, 2, s.Len())
	assert.Contains(t, freedKeys, int64(1))
}

func TestStoreOverwriteFreesPriorValue(t *testing.T) {
	s, err := cachestore.New(4)
	require.NoError(t, err)

	freed := false
	require.NoError(t, s.SetValueByIdentifier(0, 1, 1, "a", func(interface{}) error {
		freed = true
		return nil
	}))
	require.NoError(t, s.SetValueByIdentifier(0, 1, 2, "b", nil))

	assert.True(t, freed)
	v, ok := s.GetValueByIdentifier(0, 1, 2)
	require.True(t, ok)
	assert.Equal(t, "b", v.Value())
}

func TestStorePurge(t *testing.T) {
	s, err := cachestore.New(4)
	require.NoError(t, err)

	freed := false
	require.NoError(t, s.SetValueByIdentifier(0, 1, 1, "a", func(interface{}) error {
		freed = true
		return nil
	}))
	s.Purge()

	assert.True(t, freed)
	assert.Equal(t, 0, s.Len())
	_, ok := s.GetValueByIdentifier(0, 1, 1)
	assert.False(t, ok)
}
