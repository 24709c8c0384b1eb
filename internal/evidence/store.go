package evidence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an entry does not exist in the store.
var ErrNotFound = errors.New("evidence entry not found")

// Store is the persistence interface for evidence entries. Entries are
// create-only: no update or delete operations exist, by legal requirement.
type Store interface {
	// AppendEntry persists a fully-computed entry atomically.
	AppendEntry(ctx context.Context, entry *Entry) error

	// ChainTail returns the most recent entry for a campaign, or nil if the
	// campaign has no evidence yet.
	ChainTail(ctx context.Context, campaignID string) (*Entry, error)

	// LoadChain returns all entries for a campaign in creation order.
	LoadChain(ctx context.Context, campaignID string) ([]*Entry, error)

	// LoadEntry returns a single entry by id.
	LoadEntry(ctx context.Context, id string) (*Entry, error)

	// QueryEntries returns entries matching the query filters.
	QueryEntries(ctx context.Context, query Query) ([]*Entry, error)
}

// Query defines filters for evidence lookups.
type Query struct {
	CampaignID string
	Type       Type
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// InMemoryStore keeps entries in process memory. Used in tests and as a
// fallback when Postgres is not configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Entry
	byChain map[string][]*Entry // campaignID -> entries in creation order
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*Entry),
		byChain: make(map[string][]*Entry),
	}
}

// AppendEntry stores the entry.
func (s *InMemoryStore) AppendEntry(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.byID[cp.ID] = &cp
	s.byChain[cp.CampaignID] = append(s.byChain[cp.CampaignID], &cp)
	return nil
}

// ChainTail returns the last entry of the campaign's chain.
func (s *InMemoryStore) ChainTail(_ context.Context, campaignID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.byChain[campaignID]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

// LoadChain returns the campaign's entries in creation order.
func (s *InMemoryStore) LoadChain(_ context.Context, campaignID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.byChain[campaignID]
	out := make([]*Entry, 0, len(chain))
	for _, e := range chain {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// LoadEntry returns an entry by id.
func (s *InMemoryStore) LoadEntry(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// QueryEntries filters stored entries.
func (s *InMemoryStore) QueryEntries(_ context.Context, query Query) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	for _, e := range s.byID {
		if query.CampaignID != "" && e.CampaignID != query.CampaignID {
			continue
		}
		if query.Type != "" && e.Type != query.Type {
			continue
		}
		if !query.StartTime.IsZero() && e.CollectedAt.Before(query.StartTime) {
			continue
		}
		if !query.EndTime.IsZero() && e.CollectedAt.After(query.EndTime) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CollectedAt.Before(matched[j].CollectedAt)
	})

	if query.Offset > 0 {
		if query.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[query.Offset:]
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// TamperEntry overwrites a stored entry in place. Test helper: production
// code has no mutation path, but tamper-detection tests need one.
func (s *InMemoryStore) TamperEntry(id string, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return false
	}
	mutate(e)
	return true
}
