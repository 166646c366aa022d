// Package autoroletest provides in-memory implementations of the autorole
// ports for tests.
package autoroletest

import (
	"context"
	"sort"
	"sync"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

type communityState struct {
	enabled bool
	seq     int64
	links   map[autorole.InviteKey]autorole.LinkEntry
}

// Store is an in-memory autorole.Store.
type Store struct {
	mu          sync.Mutex
	communities map[string]*communityState
	// Err, when set, is returned by every call.
	Err error
}

func NewStore() *Store {
	return &Store{communities: make(map[string]*communityState)}
}

func (s *Store) community(id string) *communityState {
	c, ok := s.communities[id]
	if !ok {
		c = &communityState{links: make(map[autorole.InviteKey]autorole.LinkEntry)}
		s.communities[id] = c
	}
	return c
}

func (s *Store) Get(_ context.Context, community string) (*autorole.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	state := &autorole.State{}
	c, ok := s.communities[community]
	if !ok {
		return state, nil
	}
	state.Enabled = c.enabled
	for key, entry := range c.links {
		state.Links = append(state.Links, autorole.Link{Key: key, Entry: entry.Clone()})
	}
	autorole.SortLinks(state.Links)
	return state, nil
}

func (s *Store) SetEnabled(_ context.Context, community string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.community(community).enabled = enabled
	return nil
}

func (s *Store) PutLink(_ context.Context, community string, key autorole.InviteKey, entry autorole.LinkEntry) (autorole.LinkEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return autorole.LinkEntry{}, s.Err
	}
	c := s.community(community)
	if entry.Seq == 0 {
		c.seq++
		entry.Seq = c.seq
	}
	entry = entry.Clone()
	c.links[key] = entry
	return entry.Clone(), nil
}

func (s *Store) UpdateLink(_ context.Context, community string, key autorole.InviteKey, fn func(*autorole.LinkEntry) error) (autorole.LinkEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return autorole.LinkEntry{}, false, s.Err
	}
	c := s.community(community)
	entry, ok := c.links[key]
	if !ok {
		return autorole.LinkEntry{}, false, autorole.ErrLinkNotFound
	}
	entry = entry.Clone()
	if err := fn(&entry); err != nil {
		return autorole.LinkEntry{}, false, err
	}
	if entry.Empty() {
		delete(c.links, key)
		return entry, false, nil
	}
	c.links[key] = entry.Clone()
	return entry, true, nil
}

func (s *Store) DeleteLinks(_ context.Context, community string, keys ...autorole.InviteKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c := s.community(community)
	for _, key := range keys {
		delete(c.links, key)
	}
	return nil
}

func (s *Store) Communities(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	ids := make([]string, 0, len(s.communities))
	for id := range s.communities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// UsageCache is an in-memory autorole.UsageCache.
type UsageCache struct {
	mu   sync.Mutex
	uses map[string]map[string]int
}

func NewUsageCache() *UsageCache {
	return &UsageCache{uses: make(map[string]map[string]int)}
}

func (c *UsageCache) Uses(_ context.Context, community string) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.uses[community]))
	for code, n := range c.uses[community] {
		out[code] = n
	}
	return out, nil
}

func (c *UsageCache) Put(_ context.Context, community string, uses map[string]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]int, len(uses))
	for code, n := range uses {
		snapshot[code] = n
	}
	c.uses[community] = snapshot
	return nil
}
