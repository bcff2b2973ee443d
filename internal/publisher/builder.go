package publisher

import (
	"context"
	"strings"

	"github.com/jmehdipour/city-sync/internal/clock"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/util"
)

// MetaResync marks events produced by an operator resync rather than a mutation.
const MetaResync = "resync"

type (
	correlationKey struct{}
	eventIDKey     struct{}
)

// WithCorrelationID makes events built from ctx carry id as their correlationId.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// WithEventID makes events built from ctx use id instead of a fresh one.
// The relay uses it so a redelivered Kafka message maps to the same event.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, id)
}

// Builder turns City snapshots into SyncEvents. Sequence and version are copied from
// the snapshot; the authoritative store owns them.
type Builder struct {
	source string
	clock  clock.Clock
	newID  func() string
}

func NewBuilder(source string, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Builder{source: source, clock: clk, newID: util.NewID}
}

func (b *Builder) Created(ctx context.Context, c model.City, triggeredBy string) model.SyncEvent {
	snap := c
	return b.build(ctx, model.EventCreated, c, triggeredBy, model.EventPayload{City: &snap})
}

// Updated carries the full after snapshot plus the field diff against before.
func (b *Builder) Updated(ctx context.Context, before, after model.City, triggeredBy string) model.SyncEvent {
	snap := after
	return b.build(ctx, model.EventUpdated, after, triggeredBy, model.EventPayload{
		City:    &snap,
		Changes: after.Diff(before),
	})
}

func (b *Builder) Deleted(ctx context.Context, c model.City, triggeredBy string) model.SyncEvent {
	key := c.Key()
	return b.build(ctx, model.EventDeleted, c, triggeredBy, model.EventPayload{Key: &key})
}

// Resync is an out-of-band UPDATED event built from the current snapshot. It has no diff
// and is marked with metadata resync=true.
func (b *Builder) Resync(ctx context.Context, c model.City, triggeredBy string) model.SyncEvent {
	snap := c
	ev := b.build(ctx, model.EventUpdated, c, triggeredBy, model.EventPayload{City: &snap})
	ev.Metadata[MetaResync] = "true"
	return ev
}

// StatusChanged emits ACTIVATED or DEACTIVATED from the snapshot's current flag.
func (b *Builder) StatusChanged(ctx context.Context, c model.City, triggeredBy string) model.SyncEvent {
	t := model.EventDeactivated
	if c.IsActive {
		t = model.EventActivated
	}
	key := c.Key()
	return b.build(ctx, t, c, triggeredBy, model.EventPayload{Key: &key})
}

func (b *Builder) build(ctx context.Context, t model.EventType, c model.City, triggeredBy string, p model.EventPayload) model.SyncEvent {
	actor := strings.TrimSpace(triggeredBy)
	if actor == "" {
		actor = model.TriggeredBySystem
	}
	corr := CorrelationID(ctx)
	if corr == "" {
		corr = b.newID()
	}
	id, _ := ctx.Value(eventIDKey{}).(string)
	if id == "" {
		id = b.newID()
	}

	return model.SyncEvent{
		EventID:       id,
		EventType:     t,
		EntityID:      c.ID,
		EventSequence: c.Sequence,
		Version:       c.Version,
		Timestamp:     b.clock.Now().UTC(),
		TriggeredBy:   actor,
		Metadata: map[string]string{
			model.MetaSource:        b.source,
			model.MetaCorrelationID: corr,
		},
		Payload: p,
	}
}
