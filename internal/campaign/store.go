package campaign

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a campaign does not exist.
var ErrNotFound = errors.New("campaign not found")

// Store is the persistence interface for campaign records.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	SaveCampaign(ctx context.Context, c *Campaign) error
	ListDue(ctx context.Context, now time.Time) ([]*Campaign, error)
}

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// InMemoryStore keeps campaigns in process memory. Tests and local runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{campaigns: make(map[string]*Campaign)}
}

// GetCampaign returns a copy of the campaign.
func (s *InMemoryStore) GetCampaign(_ context.Context, id string) (*Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Milestones = append(MilestoneLog(nil), c.Milestones...)
	return &cp, nil
}

// SaveCampaign upserts the campaign.
func (s *InMemoryStore) SaveCampaign(_ context.Context, c *Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	cp.Milestones = append(MilestoneLog(nil), c.Milestones...)
	s.campaigns[c.ID] = &cp
	return nil
}

// ListDue returns non-terminal campaigns whose NextActionAt has passed,
// oldest first.
func (s *InMemoryStore) ListDue(_ context.Context, now time.Time) ([]*Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Campaign
	for _, c := range s.campaigns {
		if c.Status.Terminal() {
			continue
		}
		if c.NextActionAt.After(now) {
			continue
		}
		cp := *c
		cp.Milestones = append(MilestoneLog(nil), c.Milestones...)
		due = append(due, &cp)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextActionAt.Before(due[j].NextActionAt)
	})
	return due, nil
}
