package typing

import (
	"context"
	"log"
)

// HeartbeatWriter upserts a single author's heartbeat at now.
type HeartbeatWriter interface {
	Announce(ctx context.Context, authorID, handle string) error
}

// ChangePublisher signals heartbeat-set changes to remote trackers.
type ChangePublisher interface {
	PublishTypingChange() error
}

// Publisher announces that one local user is composing. Calls are not
// debounced here; the write is an idempotent upsert and safe to issue on
// every keystroke. There is no explicit "stopped typing" write; silence
// lets the heartbeat age out of the staleness window at the trackers.
type Publisher struct {
	store    HeartbeatWriter
	bus      ChangePublisher // may be nil
	authorID string
	handle   string
}

// NewPublisher creates a publisher for the given local identity.
func NewPublisher(store HeartbeatWriter, bus ChangePublisher, authorID, handle string) *Publisher {
	return &Publisher{store: store, bus: bus, authorID: authorID, handle: handle}
}

// Announce refreshes the local user's heartbeat and notifies trackers.
// Typing indication is best-effort, so failures are logged and absorbed
// rather than surfaced to the caller.
func (p *Publisher) Announce(ctx context.Context) {
	if p.authorID == "" {
		return
	}
	if err := p.store.Announce(ctx, p.authorID, p.handle); err != nil {
		log.Printf("[typing] announce: %v", err)
		return
	}
	if p.bus != nil {
		if err := p.bus.PublishTypingChange(); err != nil {
			log.Printf("[typing] publish change: %v", err)
		}
	}
}
