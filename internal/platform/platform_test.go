package platform

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestSlice_CurrentIsCopy(t *testing.T) {
	// Current returns a copy; mutating it does not change the collection
	s := NewSlice([]User{{ID: "u1", Points: 10}}, nil)
	cur := s.Current()
	cur[0].Points = 999
	if got := s.Current()[0].Points; got != 10 {
		t.Errorf("points = %d, want 10", got)
	}
}

func TestSlice_UpdateCommits(t *testing.T) {
	// Update commits the returned slice when fn returns nil
	s := NewSlice([]User{{ID: "u1", Points: 10}}, nil)
	err := s.Update(func(cur []User) ([]User, error) {
		cur[0].Points += 5
		return cur, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Current()[0].Points; got != 15 {
		t.Errorf("points = %d, want 15", got)
	}
}

func TestSlice_UpdateErrorLeavesStateUntouched(t *testing.T) {
	// Update leaves the collection untouched when fn returns an error
	s := NewSlice([]User{{ID: "u1", Points: 10}, {ID: "u2", Points: 20}}, nil)
	err := s.Update(func(cur []User) ([]User, error) {
		cur[0].Points = 0
		return nil, errors.New("halfway")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := s.Current()[0].Points; got != 10 {
		t.Errorf("points = %d, want 10 (no partial write)", got)
	}
}

func TestSlice_UpdatePanicLeavesStateUntouched(t *testing.T) {
	// Update leaves the collection untouched when fn panics
	s := NewSlice([]User{{ID: "u1", Points: 10}}, nil)
	func() {
		defer func() { _ = recover() }()
		_ = s.Update(func(cur []User) ([]User, error) {
			cur[0].Points = 0
			panic("boom")
		})
	}()
	if got := s.Current()[0].Points; got != 10 {
		t.Errorf("points = %d, want 10", got)
	}
}

func TestSlice_ConcurrentUpdatesSerialized(t *testing.T) {
	// Concurrent Updates are serialized (no lost updates)
	s := NewSlice([]User{{ID: "u1"}}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(func(cur []User) ([]User, error) {
				cur[0].Points++
				return cur, nil
			})
		}()
	}
	wg.Wait()
	if got := s.Current()[0].Points; got != 50 {
		t.Errorf("points = %d, want 50", got)
	}
}

func TestNavigation_CloneIsolatesEntries(t *testing.T) {
	st := NewState(Seed{Navigation: []NavCategory{{Name: "Learn", Entries: make([]NavEntry, 0, 4)}}})
	cur := st.Navigation.Current()
	cur[0].Entries = append(cur[0].Entries, NavEntry{Title: "leak"})
	if n := len(st.Navigation.Current()[0].Entries); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestInSegment(t *testing.T) {
	u := User{Segment: "VIP"}
	for seg, want := range map[string]bool{"": true, "all": true, "ALL": true, "vip": true, "new": false} {
		if got := InSegment(u, seg); got != want {
			t.Errorf("InSegment(%q) = %v, want %v", seg, got, want)
		}
	}
}

func TestSummary_MentionsEverySurface(t *testing.T) {
	st := NewState(Seed{
		Users:      []User{{ID: "a", Points: 3, Segment: "new"}, {ID: "b", Points: 4, Segment: "vip"}},
		Navigation: []NavCategory{{Name: "Community"}},
	})
	got := st.Summary()
	for _, want := range []string{"Users: 2", "new=1", "vip=1", "total points 7", "Community (0 entries)", "Posts: 0", "Campaigns: 0"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}
