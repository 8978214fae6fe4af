package stream

import "github.com/cocina/chat-app/internal/message"

// Reconciler maintains the de-duplicated, ordered message sequence merged
// from the history snapshot and the live event stream. It is not safe for
// concurrent use; the session controller serializes access.
//
// Live merges append without re-sorting. This relies on the event channel
// delivering inserts in non-decreasing creation order, which holds for a
// single ordered publisher per subject. An out-of-order transport would
// need a sort-on-insert here instead.
type Reconciler struct {
	msgs []message.Message
	seen map[string]struct{}
}

// NewReconciler returns an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{
		msgs: []message.Message{},
		seen: make(map[string]struct{}),
	}
}

// Replace swaps the sequence wholesale for a freshly-loaded history
// snapshot. Called once at session start.
func (r *Reconciler) Replace(snapshot []message.Message) {
	r.msgs = make([]message.Message, len(snapshot))
	copy(r.msgs, snapshot)
	r.seen = make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		r.seen[m.ID] = struct{}{}
	}
}

// Merge appends a live message unless its ID is already present, in which
// case the sequence is left untouched. Duplicates arise when a sender's
// own message echoes back over the live channel, or on subscription
// replay. Reports whether the message was appended.
func (r *Reconciler) Merge(m message.Message) bool {
	if _, dup := r.seen[m.ID]; dup {
		return false
	}
	r.msgs = append(r.msgs, m)
	r.seen[m.ID] = struct{}{}
	return true
}

// Remove drops the message with the given ID, if present. Reports whether
// anything was removed.
func (r *Reconciler) Remove(id string) bool {
	if _, ok := r.seen[id]; !ok {
		return false
	}
	delete(r.seen, id)
	for i, m := range r.msgs {
		if m.ID == id {
			r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
			break
		}
	}
	return true
}

// Messages returns a copy of the current sequence, safe to hand to
// consumers.
func (r *Reconciler) Messages() []message.Message {
	out := make([]message.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Len returns the current sequence length.
func (r *Reconciler) Len() int {
	return len(r.msgs)
}
