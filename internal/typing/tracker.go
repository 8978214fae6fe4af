package typing

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cocina/chat-app/internal/metrics"
)

const (
	// DefaultStalenessWindow is how long a heartbeat counts as evidence
	// of active typing.
	DefaultStalenessWindow = 3 * time.Second

	// DefaultTickInterval is the period of the passive-expiry sweep that
	// catches heartbeats aging out without any store write occurring.
	DefaultTickInterval = 1 * time.Second

	// queryTimeout bounds each presence query.
	queryTimeout = 2 * time.Second
)

// PresenceQuerier returns the heartbeats newer than cutoff.
type PresenceQuerier interface {
	ActiveSince(ctx context.Context, cutoff time.Time) ([]Heartbeat, error)
}

// ChangeSource delivers heartbeat-change notifications. The returned
// handle unsubscribes and must be safe to call more than once.
type ChangeSource interface {
	SubscribeTypingChanges(handler func(data []byte)) (func(), error)
}

// Tracker derives the live set of typing handles. Recomputation runs on
// two triggers feeding one idempotent operation: heartbeat-change events
// from the bus, and a fixed-period tick for passive expiry. The local
// user's own fresh heartbeat is included; there is no self-exclusion.
type Tracker struct {
	store  PresenceQuerier
	source ChangeSource
	window time.Duration
	tick   time.Duration
}

// NewTracker creates a tracker with the default window and tick.
func NewTracker(store PresenceQuerier, source ChangeSource) *Tracker {
	return &Tracker{
		store:  store,
		source: source,
		window: DefaultStalenessWindow,
		tick:   DefaultTickInterval,
	}
}

// NewTrackerWithWindow creates a tracker with explicit timing, for callers
// tuning the staleness window and sweep period together.
func NewTrackerWithWindow(store PresenceQuerier, source ChangeSource, window, tick time.Duration) *Tracker {
	return &Tracker{store: store, source: source, window: window, tick: tick}
}

// Subscribe starts presence tracking and invokes onChange with the handle
// set after every recomputation. One recomputation runs immediately so the
// subscriber starts from current state rather than an empty set. The
// returned handle tears down both the change subscription and the tick,
// idempotently; after it returns, no new onChange call starts.
func (t *Tracker) Subscribe(onChange func(handles []string)) (func(), error) {
	var (
		mu     sync.Mutex
		closed bool
	)

	// recompute queries current heartbeats and delivers the handle set.
	// It holds mu for the whole pass: stopping waits out an in-flight
	// recomputation but guarantees none starts afterwards.
	recompute := func(trigger string) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}

		metrics.PresenceRecomputes.WithLabelValues(trigger).Inc()

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		beats, err := t.store.ActiveSince(ctx, time.Now().Add(-t.window))
		cancel()
		if err != nil {
			// Read failures degrade to nobody-typing rather than
			// propagate; the next trigger retries anyway.
			log.Printf("[typing] presence query: %v", err)
			metrics.TypingUsers.Set(0)
			onChange([]string{})
			return
		}

		handles := make([]string, 0, len(beats))
		seen := make(map[string]struct{}, len(beats))
		for _, b := range beats {
			if b.Handle == "" {
				continue
			}
			if _, dup := seen[b.Handle]; dup {
				continue
			}
			seen[b.Handle] = struct{}{}
			handles = append(handles, b.Handle)
		}

		metrics.TypingUsers.Set(float64(len(handles)))
		onChange(handles)
	}

	unsub, err := t.source.SubscribeTypingChanges(func([]byte) {
		recompute("change")
	})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(t.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				recompute("tick")
			case <-done:
				return
			}
		}
	}()

	// Initial computation so the caller sees current presence before the
	// first change or tick.
	recompute("change")

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mu.Lock()
			closed = true
			mu.Unlock()
			close(done)
			unsub()
		})
	}
	return unsubscribe, nil
}
