package session

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrUnknown   = errors.New("unknown session")
	ErrExpired   = errors.New("session expired")
	errDuplicate = errors.New("session digest already present")
)

// Store keeps sessions keyed by the SHA-256 digest of their token.
type Store interface {
	Insert(ctx context.Context, digest []byte, s Session) error
	Get(ctx context.Context, digest []byte) (Session, error)
	Touch(ctx context.Context, digest []byte, expiresAt time.Time) error
	Delete(ctx context.Context, digest []byte) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

const shardCount = 32

type (
	memoryStore struct {
		shards [shardCount]*memoryShard
	}

	memoryShard struct {
		mu       sync.RWMutex
		sessions map[string]Session
		queue    expiryQueue
	}

	// expiryEntry records when a session was last known to expire. Touch does
	// not update it; the sweep re-queues entries whose session has slid.
	expiryEntry struct {
		key      string
		deadline time.Time
	}

	// expiryQueue is a min-heap on deadline.
	expiryQueue []expiryEntry
)

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].deadline.Before(q[j].deadline) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiryEntry)) }
func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// deadline is the first instant at which s counts as expired.
func (s Session) deadline() time.Time {
	return minTime(s.ExpiresAt, s.MaxExpiresAt)
}

// NewMemoryStore returns a process-local session table split into independently locked shards.
func NewMemoryStore() Store {
	s := &memoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{sessions: make(map[string]Session)}
	}
	return s
}

// digests are uniformly distributed, so the first byte picks the shard.
func (s *memoryStore) shardFor(digest []byte) *memoryShard {
	if len(digest) == 0 {
		return s.shards[0]
	}
	return s.shards[int(digest[0])%shardCount]
}

func (s *memoryStore) Insert(_ context.Context, digest []byte, sess Session) error {
	shard := s.shardFor(digest)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	key := string(digest)
	if _, exists := shard.sessions[key]; exists {
		return errDuplicate
	}
	shard.sessions[key] = sess
	heap.Push(&shard.queue, expiryEntry{key: key, deadline: sess.deadline()})
	return nil
}

func (s *memoryStore) Get(_ context.Context, digest []byte) (Session, error) {
	shard := s.shardFor(digest)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	sess, ok := shard.sessions[string(digest)]
	if !ok {
		return Session{}, ErrUnknown
	}
	return sess, nil
}

func (s *memoryStore) Touch(_ context.Context, digest []byte, expiresAt time.Time) error {
	shard := s.shardFor(digest)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	key := string(digest)
	sess, ok := shard.sessions[key]
	if !ok {
		return ErrUnknown
	}
	if expiresAt.After(sess.ExpiresAt) {
		sess.ExpiresAt = expiresAt
		shard.sessions[key] = sess
	}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, digest []byte) error {
	shard := s.shardFor(digest)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.sessions, string(digest))
	return nil
}

// DeleteExpired pops only the queue entries that are due, so each shard lock is
// held for the expired entries and nothing else.
func (s *memoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, shard := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		shard.mu.Lock()
		var slid []expiryEntry
		for shard.queue.Len() > 0 && !shard.queue[0].deadline.After(now) {
			entry := heap.Pop(&shard.queue).(expiryEntry)
			sess, ok := shard.sessions[entry.key]
			switch {
			case !ok:
				// Revoked or already purged.
			case sess.expiredAt(now):
				delete(shard.sessions, entry.key)
				removed++
			default:
				slid = append(slid, expiryEntry{key: entry.key, deadline: sess.deadline()})
			}
		}
		for _, entry := range slid {
			heap.Push(&shard.queue, entry)
		}
		shard.mu.Unlock()
	}
	return removed, nil
}
