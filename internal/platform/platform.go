// Package platform holds the collaborator state surfaces the orchestrator reads
// and mutates: users, navigation, broadcast posts and campaigns.
//
// Each surface is a read-current/write-current collection. Writes to one
// collection are serialized and all-or-nothing: the update function works on a
// private copy which is committed only when it returns without error.
package platform

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// User is a platform member with a point balance.
type User struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Points  int    `json:"points" yaml:"points"`
	Segment string `json:"segment" yaml:"segment"`
}

// NavEntry is one link in the site navigation.
type NavEntry struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	ViewName    string `json:"viewName" yaml:"view_name"`
	IconName    string `json:"iconName" yaml:"icon_name"`
}

// NavCategory groups navigation entries under a heading.
type NavCategory struct {
	Name    string     `json:"name" yaml:"name"`
	Entries []NavEntry `json:"entries" yaml:"entries"`
}

// Post is one broadcast post in the community feed.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Campaign is a time-boxed fundraising or engagement campaign.
type Campaign struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	GoalAmount int       `json:"goal_amount"`
	Raised     int       `json:"raised"`
	CreatedAt  time.Time `json:"created_at"`
}

// Collection is a read-current/write-current state surface.
type Collection[T any] interface {
	// Current returns a copy of the current items.
	Current() []T
	// Update applies fn to a copy of the items and commits its result only when
	// fn returns nil.
	Update(fn func(cur []T) ([]T, error)) error
}

// Slice is an in-memory Collection guarded by a mutex.
//
// Expectations:
//   - Current returns a copy; mutating it does not change the collection
//   - Update commits the returned slice when fn returns nil
//   - Update leaves the collection untouched when fn returns an error or panics
//   - Concurrent Updates are serialized (no lost updates)
type Slice[T any] struct {
	mu    sync.Mutex
	items []T
	clone func(T) T
}

// NewSlice creates a collection seeded with items. clone deep-copies one item
// and may be nil for plain value types.
func NewSlice[T any](items []T, clone func(T) T) *Slice[T] {
	s := &Slice[T]{clone: clone}
	s.items = s.copyOf(items)
	return s
}

func (s *Slice[T]) copyOf(items []T) []T {
	out := make([]T, len(items))
	for i, it := range items {
		if s.clone != nil {
			it = s.clone(it)
		}
		out[i] = it
	}
	return out
}

func (s *Slice[T]) Current() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.items)
}

func (s *Slice[T]) Update(fn func(cur []T) ([]T, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.copyOf(s.items))
	if err != nil {
		return err
	}
	s.items = next
	return nil
}

func cloneCategory(c NavCategory) NavCategory {
	c.Entries = append([]NavEntry(nil), c.Entries...)
	return c
}

// Seed is the initial platform state.
type Seed struct {
	Users      []User        `yaml:"users"`
	Navigation []NavCategory `yaml:"navigation"`
}

// State bundles the four collaborator surfaces.
type State struct {
	Users      Collection[User]
	Navigation Collection[NavCategory]
	Posts      Collection[Post]
	Campaigns  Collection[Campaign]
}

// NewState builds in-memory surfaces from seed.
func NewState(seed Seed) *State {
	return &State{
		Users:      NewSlice(seed.Users, nil),
		Navigation: NewSlice(seed.Navigation, cloneCategory),
		Posts:      NewSlice[Post](nil, nil),
		Campaigns:  NewSlice[Campaign](nil, nil),
	}
}

// SegmentAll targets every user regardless of segment.
const SegmentAll = "all"

// InSegment reports whether u belongs to segment. Empty and "all" match everyone.
func InSegment(u User, segment string) bool {
	seg := strings.TrimSpace(segment)
	if seg == "" || strings.EqualFold(seg, SegmentAll) {
		return true
	}
	return strings.EqualFold(u.Segment, seg)
}

// Summary renders a compact description of the current state for a planning prompt.
func (s *State) Summary() string {
	var sb strings.Builder

	users := s.Users.Current()
	total := 0
	segs := map[string]int{}
	for _, u := range users {
		total += u.Points
		seg := u.Segment
		if seg == "" {
			seg = "none"
		}
		segs[seg]++
	}
	names := make([]string, 0, len(segs))
	for k := range segs {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", k, segs[k]))
	}
	fmt.Fprintf(&sb, "Users: %d (segments: %s), total points %d\n", len(users), strings.Join(parts, ", "), total)

	nav := s.Navigation.Current()
	cats := make([]string, 0, len(nav))
	for _, c := range nav {
		cats = append(cats, fmt.Sprintf("%s (%d entries)", c.Name, len(c.Entries)))
	}
	fmt.Fprintf(&sb, "Navigation: %s\n", strings.Join(cats, "; "))

	posts := s.Posts.Current()
	fmt.Fprintf(&sb, "Posts: %d", len(posts))
	if n := len(posts); n > 0 {
		fmt.Fprintf(&sb, " (latest: %q)", posts[0].Title)
	}
	sb.WriteString("\n")

	camps := s.Campaigns.Current()
	fmt.Fprintf(&sb, "Campaigns: %d", len(camps))
	for _, c := range camps {
		fmt.Fprintf(&sb, "\n  - %s: %d/%d", c.Name, c.Raised, c.GoalAmount)
	}
	return sb.String()
}
