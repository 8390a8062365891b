package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(ttl time.Duration, clock *fakeClock) *Store {
	return NewStore(ttl, PromptFunc(func() string { return "be helpful" }), WithClock(clock.Now))
}

func TestGetOrCreateSeedsSystemPromptAndEmptyCart(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())

	st, created := s.GetOrCreate("c1")
	if !created {
		t.Fatalf("created = false, want true")
	}
	if len(st.History) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(st.History))
	}
	if st.History[0].Role != schema.System || st.History[0].Content != "be helpful" {
		t.Fatalf("unexpected leading message: %+v", st.History[0])
	}
	if st.Cart == nil || len(st.Cart.Items) != 0 {
		t.Fatalf("Cart = %+v, want empty cart", st.Cart)
	}

	again, created := s.GetOrCreate("c1")
	if created {
		t.Fatalf("second GetOrCreate created a new conversation")
	}
	if len(again.History) != 1 {
		t.Fatalf("len(History) = %d after reuse, want 1", len(again.History))
	}
}

func TestSlidingExpiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(30*time.Minute, clock)
	s.GetOrCreate("c1")

	clock.Advance(30*time.Minute - time.Second)
	if _, ok := s.Get("c1"); !ok {
		t.Fatalf("conversation missing just before expiry")
	}

	// The access above restarted the window.
	clock.Advance(30*time.Minute - time.Second)
	if _, ok := s.Get("c1"); !ok {
		t.Fatalf("conversation missing after refreshed window")
	}

	clock.Advance(30*time.Minute + time.Second)
	if _, ok := s.Get("c1"); ok {
		t.Fatalf("conversation still present after TTL")
	}

	st, created := s.GetOrCreate("c1")
	if !created || len(st.History) != 1 {
		t.Fatalf("expected a fresh conversation, created=%v history=%d", created, len(st.History))
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())
	s.GetOrCreate("c1")

	if !s.Delete("c1") {
		t.Fatalf("first Delete() = false, want true")
	}
	if s.Delete("c1") {
		t.Fatalf("second Delete() = true, want false")
	}
	if s.Delete("never-existed") {
		t.Fatalf("Delete() of unknown id = true")
	}
	if _, ok := s.Get("c1"); ok {
		t.Fatalf("deleted conversation still readable")
	}
}

func TestUpdateWithoutCreateDoesNotResurrect(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())
	s.GetOrCreate("c1")
	s.Delete("c1")

	_, err := s.Update("c1", false, func(st *State) error {
		st.History = append(st.History, schema.AssistantMessage("late", nil))
		return nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestUpdateDiscardsChangesOnError(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())
	s.GetOrCreate("c1")

	boom := errors.New("boom")
	_, err := s.Update("c1", false, func(st *State) error {
		st.Cart = nil
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}
	st, _ := s.Get("c1")
	if st.Cart == nil {
		t.Fatalf("failed update leaked its changes")
	}
}

func TestReturnedStateIsACopy(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())
	st, _ := s.GetOrCreate("c1")
	st.History[0].Content = "tampered"
	st.Cart.Items = append(st.Cart.Items, CartItem{ProductID: 1, Quantity: 1})

	fresh, _ := s.Get("c1")
	if fresh.History[0].Content != "be helpful" {
		t.Fatalf("stored history mutated through a copy")
	}
	if len(fresh.Cart.Items) != 0 {
		t.Fatalf("stored cart mutated through a copy")
	}
}

func TestPutReplacesStateAndKeepsID(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())
	err := s.Put("c1", &State{
		ID:      "other",
		History: []*schema.Message{schema.SystemMessage("x"), schema.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	st, ok := s.Get("c1")
	if !ok {
		t.Fatalf("Get() after Put() missing")
	}
	if st.ID != "c1" || len(st.History) != 2 {
		t.Fatalf("unexpected state after Put(): %+v", st)
	}
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, _ = s.Update("c1", true, func(st *State) error {
				st.History = append(st.History, schema.UserMessage(fmt.Sprintf("m%d", i)))
				return nil
			})
		}(i)
	}
	wg.Wait()

	st, ok := s.Get("c1")
	if !ok {
		t.Fatalf("conversation missing")
	}
	if len(st.History) != writers+1 {
		t.Fatalf("len(History) = %d, want %d", len(st.History), writers+1)
	}
}

func TestSweepEvictsExpiredAndFiresHook(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(time.Minute, clock)

	var mu sync.Mutex
	var expired []string
	s.SetExpireHook(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, id)
	})

	s.GetOrCreate("old")
	clock.Advance(45 * time.Second)
	s.GetOrCreate("young")
	clock.Advance(30 * time.Second)

	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "old" {
		t.Fatalf("expired = %v, want [old]", expired)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestJanitorExpiresInactive(t *testing.T) {
	s := NewStore(30*time.Millisecond, nil)
	s.GetOrCreate("c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	s.mu.RLock()
	_, present := s.entries["c1"]
	s.mu.RUnlock()
	if present {
		t.Fatalf("janitor did not evict the expired conversation")
	}
}

func TestCreateHookFiresOnce(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())
	count := 0
	s.SetCreateHook(func(string) { count++ })

	s.GetOrCreate("c1")
	s.GetOrCreate("c1")
	s.Get("c1")
	if count != 1 {
		t.Fatalf("create hook fired %d times, want 1", count)
	}
}

func TestBlankIDIsRejected(t *testing.T) {
	s := newTestStore(time.Minute, newFakeClock())
	if _, err := s.Update("  ", true, func(*State) error { return nil }); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("Update() error = %v, want ErrInvalidID", err)
	}
}
