package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/cocina/chat-app/internal/message"
)

// fakeRecentFetcher returns a canned newest-first snapshot or an error.
type fakeRecentFetcher struct {
	msgs  []message.Message
	err   error
	limit int // records the limit it was called with
}

func (f *fakeRecentFetcher) Recent(_ context.Context, limit int) ([]message.Message, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

func TestLoadReversesToOldestFirst(t *testing.T) {
	// Store order is newest-first: id 2 (t=20) before id 1 (t=10).
	store := &fakeRecentFetcher{msgs: []message.Message{msg("2", 20), msg("1", 10)}}
	loader := NewHistoryLoader(store)

	got := loader.Load(context.Background(), 50)

	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("expected oldest-first [1 2], got [%s %s]", got[0].ID, got[1].ID)
	}
	if !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Error("expected strictly increasing timestamps")
	}
}

func TestLoadAbsorbsStoreError(t *testing.T) {
	store := &fakeRecentFetcher{err: errors.New("connection refused")}
	loader := NewHistoryLoader(store)

	got := loader.Load(context.Background(), 50)

	if got == nil {
		t.Fatal("expected non-nil empty snapshot, got nil")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty snapshot on store error, got %d messages", len(got))
	}
}

func TestLoadDefaultsLimit(t *testing.T) {
	store := &fakeRecentFetcher{}
	loader := NewHistoryLoader(store)

	loader.Load(context.Background(), 0)

	if store.limit != DefaultHistoryLimit {
		t.Errorf("expected default limit %d, got %d", DefaultHistoryLimit, store.limit)
	}
}

func TestLoadEmptyHistory(t *testing.T) {
	store := &fakeRecentFetcher{}
	loader := NewHistoryLoader(store)

	got := loader.Load(context.Background(), 50)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected non-nil empty snapshot, got %v", got)
	}
}
