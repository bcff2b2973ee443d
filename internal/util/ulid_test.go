package util

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		id := NewID()
		_, err := ulid.ParseStrict(id)
		require.NoError(t, err)

		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}

		assert.Greater(t, id, prev, "ids must be monotonic")
		prev = id
	}
}

func TestIDFrom(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	id := IDFrom(at, "city-mutations/0/42")
	parsed, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), parsed.Time())

	assert.Equal(t, id, IDFrom(at, "city-mutations/0/42"))
	assert.NotEqual(t, id, IDFrom(at, "city-mutations/0/43"))

	_, err = ulid.ParseStrict(IDFrom(time.Time{}, "k"))
	assert.NoError(t, err)
}
