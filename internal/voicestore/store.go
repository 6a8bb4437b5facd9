package voicestore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Store persists character voice profiles. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the profile for characterID, or (nil, nil) if none exists.
	Get(ctx context.Context, characterID string) (*Profile, error)

	// Create inserts a new profile. It fails with [ErrExists] when a profile
	// for the same character is already stored.
	Create(ctx context.Context, p *Profile) error

	// Update replaces an existing profile. It fails with [ErrNotFound] when
	// no profile exists for the character.
	Update(ctx context.Context, p *Profile) error

	// Upsert creates or replaces a profile.
	Upsert(ctx context.Context, p *Profile) error

	// List returns all profiles ordered by character id.
	List(ctx context.Context) ([]Profile, error)
}

// MemStore is an in-memory [Store].
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	now      func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[string]*Profile), now: time.Now}
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, characterID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[characterID]
	if !ok {
		return nil, nil
	}
	return p.clone(), nil
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.CharacterID]; ok {
		return fmt.Errorf("%w: %q", ErrExists, p.CharacterID)
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.profiles[p.CharacterID] = p.clone()
	return nil
}

// Update implements [Store].
func (s *MemStore) Update(_ context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.profiles[p.CharacterID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, p.CharacterID)
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.now()
	s.profiles[p.CharacterID] = p.clone()
	return nil
}

// Upsert implements [Store].
func (s *MemStore) Upsert(_ context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p.CreatedAt = now
	if old, ok := s.profiles[p.CharacterID]; ok {
		p.CreatedAt = old.CreatedAt
	}
	p.UpdatedAt = now
	s.profiles[p.CharacterID] = p.clone()
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Profile, error) {
	s.mu.RLock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *p.clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Profile) int { return cmp.Compare(a.CharacterID, b.CharacterID) })
	return out, nil
}
