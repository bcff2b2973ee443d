package kafka

import (
	"strconv"
	"testing"
	"time"

	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMutation(t *testing.T) {
	obj := `{"op":"UPDATED","triggered_by":"user-3","before":{"id":7,"name":"Lisbon"},"after":{"id":7,"name":"Lisboa"}}`

	t.Run("object", func(t *testing.T) {
		m, err := DecodeMutation(Message{Value: []byte(obj)})
		require.NoError(t, err)
		assert.Equal(t, model.EventUpdated, m.Op)
		assert.Equal(t, "user-3", m.TriggeredBy)
		require.NotNil(t, m.Before)
		assert.Equal(t, "Lisbon", m.Before.Name)
		assert.Equal(t, "Lisboa", m.After.Name)
	})

	t.Run("string encoded", func(t *testing.T) {
		m, err := DecodeMutation(Message{Value: []byte(strconv.Quote(obj))})
		require.NoError(t, err)
		assert.Equal(t, int64(7), m.After.ID)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := DecodeMutation(Message{Value: []byte("  ")})
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("bad op", func(t *testing.T) {
		_, err := DecodeMutation(Message{Value: []byte(`{"op":"MOVED","after":{"id":1}}`)})
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeMutation(Message{Value: []byte(`{not json`)})
		assert.Error(t, err)
	})
}

func TestEventID(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	m := Message{Topic: "city-mutations", Partition: 1, Offset: 7, Time: at}

	redelivered := m
	redelivered.Value = []byte(`{"op":"CREATED"}`)
	assert.Equal(t, EventID(m), EventID(redelivered))

	next := m
	next.Offset = 8
	assert.NotEqual(t, EventID(m), EventID(next))

	other := m
	other.Partition = 2
	assert.NotEqual(t, EventID(m), EventID(other))
}
