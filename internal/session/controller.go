// Package session owns the stateful facade over one chat session: the
// reconciled message sequence, the loading and send-in-flight flags, and
// the current typing presence set. The presentation layer drives it with
// commands (send, delete, notify-typing, start, stop) and observes it
// through read-only snapshots.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cocina/chat-app/internal/message"
	"github.com/cocina/chat-app/internal/metrics"
	"github.com/cocina/chat-app/internal/stream"
)

// Identity is the resolved local user. A zero AuthorID means the session
// is unauthenticated: it can observe but not send.
type Identity struct {
	AuthorID string
	Handle   string
	Role     string
}

// HistoryLoader fetches the initial snapshot, oldest-first. Load never
// fails; on store error it yields an empty snapshot.
type HistoryLoader interface {
	Load(ctx context.Context, limit int) []message.Message
}

// LiveFeed delivers fully-joined messages for each insert event.
type LiveFeed interface {
	Subscribe(onMessage func(message.Message)) (func(), error)
}

// PresenceFeed delivers the current typing handle set on every change.
type PresenceFeed interface {
	Subscribe(onChange func(handles []string)) (func(), error)
}

// MessageWriter performs the store-facing write operations.
type MessageWriter interface {
	Insert(ctx context.Context, content, authorID string) error
	Delete(ctx context.Context, id string) error
}

// TypingAnnouncer refreshes the local user's heartbeat. Best-effort; it
// absorbs its own failures.
type TypingAnnouncer interface {
	Announce(ctx context.Context)
}

// Snapshot is the read model handed to the presentation layer. Slices are
// copies; the caller may retain them.
type Snapshot struct {
	Messages []message.Message
	Loading  bool
	Sending  bool
	Typing   []string
}

// Controller orchestrates one chat session. Its state is guarded by a
// single mutex; commands and subscription callbacks serialize through it.
// The send-in-flight flag is the only double-send guard; interleaving
// Start/Stop from multiple goroutines needs external serialization.
type Controller struct {
	identity Identity
	history  HistoryLoader
	live     LiveFeed
	presence PresenceFeed
	writer   MessageWriter
	typist   TypingAnnouncer
	onUpdate func(Snapshot) // optional, invoked with the lock held

	mu            sync.Mutex
	reconciler    *stream.Reconciler
	loading       bool
	sending       bool
	typing        []string
	stopped       bool
	unsubLive     func()
	unsubPresence func()
}

// Config bundles the controller's collaborators. All fields except
// OnUpdate are required.
type Config struct {
	Identity Identity
	History  HistoryLoader
	Live     LiveFeed
	Presence PresenceFeed
	Writer   MessageWriter
	Typist   TypingAnnouncer

	// OnUpdate, if set, is called after every state change with a fresh
	// snapshot. It runs with the controller lock held and must not call
	// back into the controller.
	OnUpdate func(Snapshot)
}

// NewController creates a controller in the initializing state. Call Start
// to load history and open the subscriptions.
func NewController(cfg Config) *Controller {
	return &Controller{
		identity:   cfg.Identity,
		history:    cfg.History,
		live:       cfg.Live,
		presence:   cfg.Presence,
		writer:     cfg.Writer,
		typist:     cfg.Typist,
		onUpdate:   cfg.OnUpdate,
		reconciler: stream.NewReconciler(),
		loading:    true,
		typing:     []string{},
	}
}

// Start loads history into the sequence, then opens the live and presence
// subscriptions. Call it exactly once per session; re-entrant calls are
// undefined. Subscription failures are returned (the session still holds
// the loaded history); history failures never surface here.
func (c *Controller) Start(ctx context.Context) error {
	snapshot := c.history.Load(ctx, stream.DefaultHistoryLimit)

	c.mu.Lock()
	c.reconciler.Replace(snapshot)
	c.loading = false
	c.notifyLocked()
	c.mu.Unlock()

	unsubLive, err := c.live.Subscribe(c.onLiveMessage)
	if err != nil {
		return fmt.Errorf("session: live subscribe: %w", err)
	}

	unsubPresence, err := c.presence.Subscribe(c.onPresenceChange)
	if err != nil {
		unsubLive()
		return fmt.Errorf("session: presence subscribe: %w", err)
	}

	c.mu.Lock()
	if c.stopped {
		// Stop raced ahead of Start; tear the fresh subscriptions down.
		c.mu.Unlock()
		unsubLive()
		unsubPresence()
		return nil
	}
	c.unsubLive = unsubLive
	c.unsubPresence = unsubPresence
	c.mu.Unlock()
	return nil
}

// Send validates and writes a new message. The message itself appears in
// the sequence via the live channel (deduplicated there), not here:
// there is no optimistic append, and therefore nothing to roll back; on
// failure the caller keeps its input text.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.identity.AuthorID == "" {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	c.notifyLocked()
	c.mu.Unlock()

	start := time.Now()
	err := c.writer.Insert(ctx, text, c.identity.AuthorID)
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	c.sending = false
	c.notifyLocked()
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("session: send: %w", err)
	}
	metrics.MessagesSent.Inc()
	return nil
}

// Delete removes a message from the store and, on success, from the local
// sequence by ID. No re-fetch is performed.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.writer.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}

	c.mu.Lock()
	if c.reconciler.Remove(id) {
		c.notifyLocked()
	}
	c.mu.Unlock()
	return nil
}

// NotifyTyping refreshes the local user's heartbeat. Call it on every
// non-empty input change; the write is idempotent and failures are
// absorbed downstream.
func (c *Controller) NotifyTyping(ctx context.Context) {
	c.typist.Announce(ctx)
}

// Stop tears down both subscriptions. Idempotent. After Stop returns, no
// new callback mutates session state; a callback already inside the lock
// completes first.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsubLive := c.unsubLive
	unsubPresence := c.unsubPresence
	c.unsubLive = nil
	c.unsubPresence = nil
	c.mu.Unlock()

	if unsubLive != nil {
		unsubLive()
	}
	if unsubPresence != nil {
		unsubPresence()
	}
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	typing := make([]string, len(c.typing))
	copy(typing, c.typing)
	return Snapshot{
		Messages: c.reconciler.Messages(),
		Loading:  c.loading,
		Sending:  c.sending,
		Typing:   typing,
	}
}

func (c *Controller) notifyLocked() {
	if c.onUpdate != nil {
		c.onUpdate(c.snapshotLocked())
	}
}

// onLiveMessage merges one live message into the sequence, discarding
// duplicates (own echoes, subscription replay).
func (c *Controller) onLiveMessage(m message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if !c.reconciler.Merge(m) {
		metrics.MessagesDeduplicated.Inc()
		log.Printf("[session] duplicate live message %s discarded", m.ID)
		return
	}
	c.notifyLocked()
}

// onPresenceChange replaces the typing set with the latest computation.
func (c *Controller) onPresenceChange(handles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.typing = handles
	c.notifyLocked()
}
