// Package socialtest holds the behavior tests every social.Store
// implementation must pass.
package socialtest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/yawon3/pocali-backend/internal/social"
)

// Run exercises a store. newStore must return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) social.Store) {
	t.Run("RegisterDefaults", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		id, err := s.Register(ctx)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if id == "" {
			t.Fatal("Register returned an empty id")
		}
		c, err := s.Collection(ctx, id)
		if err != nil {
			t.Fatalf("Collection: %v", err)
		}
		if c.UserID != id || string(c.Data) != "{}" || c.Locked {
			t.Errorf("new user collection: %+v", c)
		}

		other, _ := s.Register(ctx)
		if other == id {
			t.Error("Register returned the same id twice")
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		c, err := s.Collection(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("Collection: %v", err)
		}
		if c.UserID != "nobody" || string(c.Data) != "{}" || c.Locked {
			t.Errorf("unknown user collection: %+v", c)
		}
	})

	t.Run("SaveCollectionUpserts", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		if err := s.SaveCollection(ctx, "u1", json.RawMessage(`{"cards":["000001"]}`)); err != nil {
			t.Fatalf("SaveCollection: %v", err)
		}
		if err := s.SaveCollection(ctx, "u1", json.RawMessage(`{"cards":["000001","000002"]}`)); err != nil {
			t.Fatalf("SaveCollection (update): %v", err)
		}
		c, _ := s.Collection(ctx, "u1")
		assertJSON(t, c.Data, `{"cards":["000001","000002"]}`)
	})

	t.Run("LockIsIndependentOfData", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		if err := s.SetLocked(ctx, "u1", true); err != nil {
			t.Fatalf("SetLocked: %v", err)
		}
		c, _ := s.Collection(ctx, "u1")
		if !c.Locked || string(c.Data) != "{}" {
			t.Errorf("after lock of new user: %+v", c)
		}

		_ = s.SaveCollection(ctx, "u1", json.RawMessage(`{"a":1}`))
		c, _ = s.Collection(ctx, "u1")
		if !c.Locked {
			t.Error("saving data must not clear the lock")
		}

		_ = s.SetLocked(ctx, "u1", false)
		c, _ = s.Collection(ctx, "u1")
		if c.Locked {
			t.Error("unlock did not persist")
		}
		assertJSON(t, c.Data, `{"a":1}`)
	})

	t.Run("FriendsAreSymmetric", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		if err := s.AddFriend(ctx, "alice", "bob"); err != nil {
			t.Fatalf("AddFriend: %v", err)
		}
		if err := s.AddFriend(ctx, "alice", "carol"); err != nil {
			t.Fatalf("AddFriend: %v", err)
		}
		// Duplicates in either direction are ignored.
		if err := s.AddFriend(ctx, "bob", "alice"); err != nil {
			t.Fatalf("AddFriend (reverse duplicate): %v", err)
		}

		assertFriends(t, s, "alice", "bob", "carol")
		assertFriends(t, s, "bob", "alice")
		assertFriends(t, s, "carol", "alice")
		assertFriends(t, s, "dave")
	})

	t.Run("ConcurrentWrites", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Register(ctx); err != nil {
					t.Errorf("Register: %v", err)
				}
				if err := s.SaveCollection(ctx, "shared", json.RawMessage(`{"n":1}`)); err != nil {
					t.Errorf("SaveCollection: %v", err)
				}
			}()
		}
		wg.Wait()
	})
}

func assertJSON(t *testing.T, got json.RawMessage, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("stored data is not JSON: %q", got)
	}
	_ = json.Unmarshal([]byte(want), &w)
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("data: got %s, want %s", got, want)
	}
}

func assertFriends(t *testing.T, s social.Store, user string, want ...string) {
	t.Helper()
	got, err := s.Friends(context.Background(), user)
	if err != nil {
		t.Fatalf("Friends(%q): %v", user, err)
	}
	if got == nil {
		t.Errorf("Friends(%q) returned nil, want empty slice", user)
	}
	if len(got) != len(want) {
		t.Fatalf("Friends(%q): got %v, want %v", user, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Friends(%q)[%d]: got %q, want %q", user, i, got[i], want[i])
		}
	}
}
