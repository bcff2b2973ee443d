package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/util"
	"github.com/segmentio/kafka-go"
)

var ErrEmptyMessage = errors.New("empty message")

type Message = kafka.Message

// Consumer reads City mutation envelopes published from the outbox table.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(c config.KafkaConfig) *Consumer {
	minBytes := c.MinBytes
	if minBytes <= 0 {
		minBytes = 1 << 10
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	ci := time.Duration(c.CommitInterval) * time.Millisecond
	if ci <= 0 {
		ci = time.Second
	}
	groupID := c.GroupID
	if groupID == "" {
		groupID = "citysync-relay"
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        groupID,
		Topic:          c.Topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: ci,
		MaxWait:        50 * time.Millisecond,
	})

	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }

// EventID names the sync event built from m. A redelivery of the same
// topic, partition and offset gets the same id.
func EventID(m Message) string {
	return util.IDFrom(m.Time, fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset))
}

// DecodeMutation parses a message value. The outbox connector may deliver the
// payload column either as a JSON object or as a JSON string holding one.
func DecodeMutation(m Message) (model.Mutation, error) {
	raw := bytes.TrimSpace(m.Value)
	if len(raw) == 0 {
		return model.Mutation{}, ErrEmptyMessage
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return model.Mutation{}, fmt.Errorf("unquote payload: %w", err)
		}
		raw = []byte(inner)
	}

	var mut model.Mutation
	if err := json.Unmarshal(raw, &mut); err != nil {
		return model.Mutation{}, fmt.Errorf("decode mutation: %w", err)
	}
	if !mut.Op.Valid() {
		return model.Mutation{}, fmt.Errorf("decode mutation: invalid op %q", mut.Op)
	}
	return mut, nil
}
