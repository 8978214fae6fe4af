// Package message defines the chat message model and its PostgreSQL-backed
// store. Messages are immutable once written: the store supports inserting,
// deleting, fetching recent history joined with author details, and
// re-fetching a single joined record by ID for live-event enrichment.
package message

import "time"

// Author attributes shown alongside a message. The handle is the user's
// email-like identifier; the role is a coarse permission tag ("user",
// "admin").
const (
	// UnknownHandle is the placeholder handle used when author enrichment
	// fails and a degraded record must be delivered instead.
	UnknownHandle = "unknown@user.com"

	// DefaultRole is the role assigned to degraded records and to authors
	// registered without an explicit role.
	DefaultRole = "user"
)

// Author holds the display attributes of a message's author, joined from
// the users table.
type Author struct {
	Handle string `json:"handle"`
	Role   string `json:"role"`
}

// Message is a single chat message with its author joined in.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// RawInsert is the wire payload published when a message row is inserted.
// It carries only the columns of the row itself; the author join is
// resolved by the receiver.
type RawInsert struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Degraded builds a Message from the raw payload alone, substituting the
// unknown-author placeholder. Used when the by-ID re-fetch fails so the
// event is delivered rather than dropped.
func (r RawInsert) Degraded() Message {
	return Message{
		ID:        r.ID,
		Content:   r.Content,
		AuthorID:  r.AuthorID,
		Author:    Author{Handle: UnknownHandle, Role: DefaultRole},
		CreatedAt: r.CreatedAt,
	}
}
