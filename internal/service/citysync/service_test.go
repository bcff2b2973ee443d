package citysync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/city-sync/internal/clock"
	"github.com/jmehdipour/city-sync/internal/dispatcher/dispatchertest"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/publisher"
	"github.com/jmehdipour/city-sync/internal/registry"
	"github.com/jmehdipour/city-sync/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenLog struct {
	repository.EventLogRepository
}

func (brokenLog) StoreEvent(context.Context, model.SyncEvent) error {
	return errors.New("connection refused")
}

type recorder struct {
	events []model.SyncEvent
}

func (r *recorder) Publish(_ context.Context, ev model.SyncEvent) model.EventPublishResult {
	r.events = append(r.events, ev)
	return model.EventPublishResult{EventID: ev.EventID, Success: true}
}

func lisbon() model.City {
	return model.City{ID: 7, Name: "Lisbon", Code: "LIS", Country: "PT", IsActive: true, Version: 2, Sequence: 4}
}

func newService(t *testing.T, log repository.EventLogRepository) (*Service, *recorder) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	return New(publisher.NewBuilder("city-service", clk), log, rec), rec
}

func TestHooksStoreBeforePublish(t *testing.T) {
	ctx := context.Background()
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	s, rec := newService(t, log)

	before := lisbon()
	after := lisbon()
	after.Name = "Lisboa"
	after.Version = 3

	_, err := s.OnCreated(ctx, before, "user-1")
	require.NoError(t, err)
	_, err = s.OnUpdated(ctx, before, after, "user-1")
	require.NoError(t, err)
	after.IsActive = false
	_, err = s.OnStatusChanged(ctx, after, "")
	require.NoError(t, err)
	_, err = s.OnDeleted(ctx, after, "user-2")
	require.NoError(t, err)

	entries, err := log.GetEventsForEntity(ctx, 7)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Len(t, rec.events, 4)

	types := []model.EventType{model.EventCreated, model.EventUpdated, model.EventDeactivated, model.EventDeleted}
	for i, e := range entries {
		assert.Equal(t, types[i], e.EventType)
		assert.Equal(t, rec.events[i].EventID, e.EventID)
		assert.False(t, e.Processed)
	}
	assert.Equal(t, model.TriggeredBySystem, rec.events[2].TriggeredBy)
	require.Len(t, rec.events[1].Payload.Changes, 1)
	assert.Equal(t, "name", rec.events[1].Payload.Changes[0].Field)
}

func TestStoreFailureIsSurfacedButDeliveryContinues(t *testing.T) {
	s, rec := newService(t, brokenLog{})

	_, err := s.OnCreated(context.Background(), lisbon(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, rec.events, 1)
}

func TestRepeatedEventIDIsPublishedOnce(t *testing.T) {
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	s, rec := newService(t, log)
	ctx := publisher.WithEventID(context.Background(), "01JTAX0000000000000000000A")
	m := model.Mutation{Op: model.EventCreated, After: lisbon(), TriggeredBy: "user-1"}

	first, err := s.Apply(ctx, m)
	require.NoError(t, err)
	again, err := s.Apply(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, first.EventID, again.EventID)
	assert.True(t, again.Success)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "01JTAX0000000000000000000A", rec.events[0].EventID)

	entries, err := log.GetEventsForEntity(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	s, rec := newService(t, log)
	before := lisbon()

	cases := []struct {
		name string
		m    model.Mutation
		want model.EventType
	}{
		{"created", model.Mutation{Op: model.EventCreated, After: lisbon()}, model.EventCreated},
		{"updated", model.Mutation{Op: model.EventUpdated, Before: &before, After: lisbon()}, model.EventUpdated},
		{"deleted", model.Mutation{Op: model.EventDeleted, After: lisbon()}, model.EventDeleted},
		{"activated", model.Mutation{Op: model.EventActivated, After: model.City{ID: 7}}, model.EventActivated},
		{"deactivated", model.Mutation{Op: model.EventDeactivated, After: lisbon()}, model.EventDeactivated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Apply(ctx, tc.m)
			require.NoError(t, err)
			assert.Equal(t, tc.want, rec.events[len(rec.events)-1].EventType)
		})
	}

	t.Run("update without before", func(t *testing.T) {
		_, err := s.Apply(ctx, model.Mutation{Op: model.EventUpdated, After: lisbon()})
		assert.ErrorIs(t, err, ErrInvalidMutation)
	})
	t.Run("unknown op", func(t *testing.T) {
		_, err := s.Apply(ctx, model.Mutation{Op: "RENAMED", After: lisbon()})
		assert.ErrorIs(t, err, ErrInvalidMutation)
	})
}

func TestEndToEndWithPublisher(t *testing.T) {
	ctx := context.Background()
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	reg, err := registry.New([]model.ServiceEndpoint{
		{Name: "vehicle-service", IsActive: true},
		{Name: "hub-service", IsActive: true},
	}, nil)
	require.NoError(t, err)
	client := dispatchertest.NewFakeClient().Fail("hub-service", errors.New("503"))
	pub := publisher.New(reg, client, log, publisher.Options{MarkProcessed: true})
	s := New(publisher.NewBuilder("city-service", nil), log, pub)

	res, err := s.OnCreated(ctx, lisbon(), "user-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"vehicle-service"}, res.PublishedTo)

	pending, err := log.GetUnprocessedOrRetriable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.EventID, pending[0].EventID)

	delivered, err := log.DeliveredTo(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicle-service"}, delivered)
}
