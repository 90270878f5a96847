package credential

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore keeps users in a map keyed by the normalized username.
type memoryStore struct {
	mu    sync.RWMutex
	users map[string]UserRecord
	now   func() time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{
		users: make(map[string]UserRecord),
		now:   time.Now,
	}
}

func (s *memoryStore) Lookup(ctx context.Context, username string) (*UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[NormalizeUsername(username)]
	if !ok {
		return nil, ErrNotFound
	}
	user = user.clone()
	return &user, nil
}

func (s *memoryStore) Create(ctx context.Context, user UserRecord) (*UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	user, err := newRecord(user, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.UsernameKey]; exists {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
	}
	for _, existing := range s.users {
		if existing.ID == user.ID {
			return nil, fmt.Errorf("%w: id %s", ErrUserExists, user.ID)
		}
	}

	s.users[user.UsernameKey] = user.clone()
	return &user, nil
}

func (s *memoryStore) UpdatePassword(ctx context.Context, userID uuid.UUID, hash, salt []byte, algorithmTag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, user := range s.users {
		if user.ID != userID {
			continue
		}
		user.PasswordHash = append([]byte(nil), hash...)
		user.Salt = append([]byte(nil), salt...)
		user.AlgorithmTag = algorithmTag
		s.users[key] = user
		return nil
	}
	return ErrNotFound
}

func (s *memoryStore) List(ctx context.Context) ([]UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	users := make([]UserRecord, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user.clone())
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *memoryStore) Close() error {
	return nil
}
