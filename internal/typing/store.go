// Package typing implements the typing-indicator presence system: a
// Redis-backed heartbeat store with upsert-per-author semantics, a
// best-effort publisher announcing the local user's composing activity,
// and a tracker deriving the live set of typing handles with a sliding
// staleness window.
//
// Heartbeats are stored as a sorted set scored by unix-millisecond
// timestamp plus an author-to-handle hash:
//
//	Key:   typing:heartbeats   ZSET member=<author_id> score=<unix_ms>
//	Key:   typing:handles      HASH <author_id> -> <handle>
//
// Expiry is purely query-time: a presence query filters by score lower
// bound and never deletes anything. Announce opportunistically trims
// entries old enough that no window could ever match them again.
package typing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// HeartbeatsKey is the sorted set holding one entry per author,
	// scored by the last-announced unix-millisecond timestamp.
	HeartbeatsKey = "typing:heartbeats"

	// HandlesKey maps author IDs to display handles for presence output.
	HandlesKey = "typing:handles"

	// trimAfter is how far behind now an entry must be before the
	// opportunistic trim removes it. Far larger than any staleness
	// window, so trimming never affects observable presence.
	trimAfter = 1 * time.Minute
)

// Heartbeat is one author's last-announced composing activity.
type Heartbeat struct {
	AuthorID string
	Handle   string
	At       time.Time
}

// Store manages typing heartbeats in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a heartbeat store using the provided Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Announce upserts the author's heartbeat at now. A repeated announce
// overwrites the previous timestamp for the same author; it never creates
// a second entry. Safe to call on every keystroke.
func (s *Store) Announce(ctx context.Context, authorID, handle string) error {
	now := time.Now()

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, HeartbeatsKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: authorID,
	})
	pipe.HSet(ctx, HandlesKey, authorID, handle)
	pipe.ZRemRangeByScore(ctx, HeartbeatsKey, "0",
		strconv.FormatInt(now.Add(-trimAfter).UnixMilli(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("typing: announce %s: %w", authorID, err)
	}
	return nil
}

// ActiveSince returns the heartbeats newer than cutoff, in score order.
// Authors with no recorded handle are returned with an empty Handle; the
// tracker filters those out.
func (s *Store) ActiveSince(ctx context.Context, cutoff time.Time) ([]Heartbeat, error) {
	entries, err := s.rdb.ZRangeByScoreWithScores(ctx, HeartbeatsKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("typing: query active: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i], _ = e.Member.(string)
	}

	handles, err := s.rdb.HMGet(ctx, HandlesKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("typing: resolve handles: %w", err)
	}

	beats := make([]Heartbeat, len(entries))
	for i, e := range entries {
		beats[i] = Heartbeat{
			AuthorID: ids[i],
			At:       time.UnixMilli(int64(e.Score)),
		}
		if i < len(handles) {
			if h, ok := handles[i].(string); ok {
				beats[i].Handle = h
			}
		}
	}
	return beats, nil
}
