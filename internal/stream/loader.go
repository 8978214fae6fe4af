// Package stream assembles the reconciled message sequence for a chat
// session: a history loader for the initial snapshot, a live subscriber
// for insert events, and a reconciler that merges both into one ordered,
// de-duplicated sequence.
package stream

import (
	"context"
	"log"

	"github.com/cocina/chat-app/internal/message"
)

// DefaultHistoryLimit is the number of recent messages loaded at session
// start when the caller does not specify one.
const DefaultHistoryLimit = 50

// RecentFetcher fetches the most recent messages, newest-first.
type RecentFetcher interface {
	Recent(ctx context.Context, limit int) ([]message.Message, error)
}

// HistoryLoader fetches the initial message snapshot and normalizes it to
// display order.
type HistoryLoader struct {
	store RecentFetcher
}

// NewHistoryLoader creates a loader over the given store.
func NewHistoryLoader(store RecentFetcher) *HistoryLoader {
	return &HistoryLoader{store: store}
}

// Load fetches up to limit recent messages and returns them oldest-first.
// A limit <= 0 falls back to DefaultHistoryLimit. Store errors are absorbed:
// the loader logs and returns an empty snapshot so the session still comes
// up with a usable (if empty) view.
func (l *HistoryLoader) Load(ctx context.Context, limit int) []message.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	msgs, err := l.store.Recent(ctx, limit)
	if err != nil {
		log.Printf("[history] load failed: %v", err)
		return []message.Message{}
	}

	// The store yields newest-first; reverse into display order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	return msgs
}
