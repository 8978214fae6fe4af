package stream

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/cocina/chat-app/internal/message"
	"github.com/cocina/chat-app/internal/metrics"
)

// DefaultFetchTimeout bounds the by-ID enrichment query issued for each
// live insert event.
const DefaultFetchTimeout = 5 * time.Second

// InsertSource delivers raw message-insert payloads. The returned handle
// unsubscribes and must be safe to call more than once.
type InsertSource interface {
	SubscribeMessageInserts(handler func(data []byte)) (func(), error)
}

// RecordFetcher re-fetches a fully-joined message record by ID.
type RecordFetcher interface {
	ByID(ctx context.Context, id string) (message.Message, error)
}

// LiveSubscriber turns raw insert events into fully-joined messages. Each
// event is enriched with the author join via a by-ID re-fetch; if that
// fails, a degraded record with the unknown-author placeholder is
// delivered instead. An event is never dropped once its payload parses.
type LiveSubscriber struct {
	source       InsertSource
	store        RecordFetcher
	fetchTimeout time.Duration
}

// NewLiveSubscriber creates a subscriber over the given event source and
// record store.
func NewLiveSubscriber(source InsertSource, store RecordFetcher) *LiveSubscriber {
	return &LiveSubscriber{
		source:       source,
		store:        store,
		fetchTimeout: DefaultFetchTimeout,
	}
}

// Subscribe opens one subscription and invokes onMessage exactly once per
// received insert event, in delivery order. The returned handle tears the
// subscription down idempotently.
func (s *LiveSubscriber) Subscribe(onMessage func(message.Message)) (func(), error) {
	return s.source.SubscribeMessageInserts(func(data []byte) {
		var raw message.RawInsert
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Printf("[live] unmarshal insert event: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		m, err := s.store.ByID(ctx, raw.ID)
		cancel()
		if err != nil {
			log.Printf("[live] enrich %s failed, delivering degraded record: %v", raw.ID, err)
			metrics.DegradedMessages.Inc()
			m = raw.Degraded()
		}

		metrics.MessagesReceived.Inc()
		onMessage(m)
	})
}
