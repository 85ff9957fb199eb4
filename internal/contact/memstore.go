package contact

import (
	"context"
	"slices"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	contacts []Contact
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) index(id string) int {
	return slices.IndexFunc(s.contacts, func(c Contact) bool { return c.ID == id })
}

// Add implements [Store.Add].
func (s *MemStore) Add(_ context.Context, c Contact) (Contact, error) {
	if err := c.Validate(); err != nil {
		return Contact{}, err
	}
	if c.ID == "" {
		c.ID = newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index(c.ID) >= 0 {
		return Contact{}, ErrDuplicateID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.contacts = append(s.contacts, c)
	return c, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.index(id)
	if i < 0 {
		return Contact{}, ErrNotFound
	}
	return s.contacts[i], nil
}

// List implements [Store.List]. The returned slice is a copy.
func (s *MemStore) List(_ context.Context) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.contacts), nil
}

// Update implements [Store.Update]. The contact keeps its position.
func (s *MemStore) Update(_ context.Context, c Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(c.ID)
	if i < 0 {
		return ErrNotFound
	}
	c.CreatedAt = s.contacts[i].CreatedAt
	s.contacts[i] = c
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	s.contacts = slices.Delete(s.contacts, i, i+1)
	return nil
}
