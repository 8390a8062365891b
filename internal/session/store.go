package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrInvalidID = errors.New("conversation id is required")
)

// PromptSource supplies the system prompt for newly created conversations.
type PromptSource interface {
	Get() string
}

type PromptFunc func() string

func (f PromptFunc) Get() string { return f() }

type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store keeps conversation state in memory with a sliding expiry. The map
// lock only guards lookup and install; each conversation has its own mutex
// so that work on different ids never serializes.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	ttl      time.Duration
	prompts  PromptSource
	now      func() time.Time
	onCreate func(id string)
	onExpire func(id string)
}

type entry struct {
	mu    sync.Mutex
	state *State

	// guarded by Store.mu
	expiresAt time.Time
	removed   bool
}

func NewStore(ttl time.Duration, prompts PromptSource, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if prompts == nil {
		prompts = PromptFunc(func() string { return "" })
	}
	s := &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		prompts: prompts,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) SetCreateHook(hook func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate = hook
}

func (s *Store) SetExpireHook(hook func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = hook
}

// GetOrCreate returns the live conversation or a new one seeded with the
// current system prompt and an empty cart.
func (s *Store) GetOrCreate(id string) (*State, bool) {
	var out *State
	created, err := s.Update(id, true, func(st *State) error {
		out = st.Clone()
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, created
}

// Get returns a copy of the conversation and refreshes its expiry.
func (s *Store) Get(id string) (*State, bool) {
	var out *State
	_, err := s.Update(id, false, func(st *State) error {
		out = st.Clone()
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

// Put replaces the stored conversation with a copy of st.
func (s *Store) Put(id string, st *State) error {
	if st == nil {
		return errors.New("state is required")
	}
	_, err := s.Update(id, true, func(live *State) error {
		next := st.Clone()
		next.ID = live.ID
		if next.CreatedAt.IsZero() {
			next.CreatedAt = live.CreatedAt
		}
		*live = *next
		return nil
	})
	return err
}

// Delete removes the conversation. It reports whether anything was removed.
func (s *Store) Delete(id string) bool {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.removed = true
	delete(s.entries, id)
	return !s.now().After(e.expiresAt)
}

// Update runs fn on a working copy of the conversation while holding its
// lock, and stores the copy when fn returns nil. With create set, a missing
// or expired conversation is created first; otherwise ErrNotFound is
// returned. Every successful call extends the expiry.
func (s *Store) Update(id string, create bool, fn func(*State) error) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrInvalidID
	}
	for {
		e, created, err := s.acquire(id, create)
		if err != nil {
			return false, err
		}

		applied, err := s.apply(e, fn)
		if !applied {
			// Deleted or expired between lookup and lock; start over.
			continue
		}
		s.touch(e)

		if created {
			s.fireCreate(id)
		}
		return created, err
	}
}

func (s *Store) apply(e *entry, fn func(*State) error) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.RLock()
	removed := e.removed
	s.mu.RUnlock()
	if removed {
		return false, nil
	}

	work := e.state.Clone()
	if err := fn(work); err != nil {
		return true, err
	}
	e.state = work
	return true, nil
}

// Len reports the number of live conversations.
func (s *Store) Len() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// StartJanitor periodically evicts expired conversations until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep evicts every expired conversation and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	var expired []string

	s.mu.Lock()
	for id, e := range s.entries {
		if !now.After(e.expiresAt) {
			continue
		}
		e.removed = true
		delete(s.entries, id)
		expired = append(expired, id)
	}
	hook := s.onExpire
	s.mu.Unlock()

	if hook != nil {
		for _, id := range expired {
			hook(id)
		}
	}
	return len(expired)
}

func (s *Store) acquire(id string, create bool) (*entry, bool, error) {
	now := s.now()
	var expiredID string

	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && now.After(e.expiresAt) {
		e.removed = true
		delete(s.entries, id)
		expiredID = id
		ok = false
	}
	created := false
	if !ok && create {
		e = &entry{state: s.newState(id, now), expiresAt: now.Add(s.ttl)}
		s.entries[id] = e
		ok = true
		created = true
	}
	if ok {
		e.expiresAt = now.Add(s.ttl)
	}
	hook := s.onExpire
	s.mu.Unlock()

	if expiredID != "" && hook != nil {
		hook(expiredID)
	}
	if !ok {
		return nil, false, ErrNotFound
	}
	return e, created, nil
}

func (s *Store) touch(e *entry) {
	now := s.now()
	s.mu.Lock()
	if !e.removed {
		e.expiresAt = now.Add(s.ttl)
	}
	s.mu.Unlock()
}

func (s *Store) newState(id string, now time.Time) *State {
	return &State{
		ID:        id,
		History:   []*schema.Message{schema.SystemMessage(s.prompts.Get())},
		Cart:      &Cart{ConversationID: id, Items: []CartItem{}},
		CreatedAt: now.UTC(),
	}
}

func (s *Store) fireCreate(id string) {
	s.mu.RLock()
	hook := s.onCreate
	s.mu.RUnlock()
	if hook != nil {
		hook(id)
	}
}
