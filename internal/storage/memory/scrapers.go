// Package memory provides single-process implementations of the storage
// contracts, intended for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/storage"
)

// ScraperStore is an in-memory implementation of storage.ScraperStore.
type ScraperStore struct {
	mu       sync.RWMutex
	scrapers map[string]domain.Scraper
	readOnly bool
}

// NewScraperStore creates an empty in-memory scraper store.
func NewScraperStore() *ScraperStore {
	return &ScraperStore{scrapers: make(map[string]domain.Scraper)}
}

// NewReadOnlyScraperStore creates a store pre-seeded with scrapers that
// rejects all mutations.
func NewReadOnlyScraperStore(scrapers []domain.Scraper) *ScraperStore {
	s := NewScraperStore()
	for _, scraper := range scrapers {
		if scraper.ID == "" {
			scraper.ID = uuid.New().String()
		}
		s.scrapers[scraper.ID] = scraper
	}
	s.readOnly = true
	return s
}

// ReadOnly reports whether mutations are allowed.
func (s *ScraperStore) ReadOnly() bool {
	return s.readOnly
}

// List returns all scrapers ordered by name.
func (s *ScraperStore) List(_ context.Context) ([]domain.Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Scraper, 0, len(s.scrapers))
	for _, scraper := range s.scrapers {
		out = append(out, scraper)
	}
	storage.SortScrapers(out)
	return out, nil
}

// Get returns the scraper or storage.ErrNotFound.
func (s *ScraperStore) Get(_ context.Context, id string) (domain.Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scraper, ok := s.scrapers[id]
	if !ok {
		return domain.Scraper{}, fmt.Errorf("scraper %s: %w", id, storage.ErrNotFound)
	}
	return scraper, nil
}

// MaybeGet returns nil without error when the scraper is absent.
func (s *ScraperStore) MaybeGet(_ context.Context, id string) (*domain.Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scraper, ok := s.scrapers[id]
	if !ok {
		return nil, nil
	}
	return &scraper, nil
}

// Search returns scrapers matching the filters, ordered by name.
func (s *ScraperStore) Search(_ context.Context, filters storage.ScraperFilters) ([]domain.Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Scraper, 0)
	for _, scraper := range s.scrapers {
		if filters.Match(scraper) {
			out = append(out, scraper)
		}
	}
	storage.SortScrapers(out)
	return out, nil
}

// Create assigns an ID and persists the scraper.
func (s *ScraperStore) Create(_ context.Context, scraper domain.Scraper) (domain.Scraper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return domain.Scraper{}, storage.ErrReadOnly
	}

	scraper.ID = uuid.New().String()
	now := time.Now().UTC()
	scraper.CreatedAt = now
	scraper.UpdatedAt = now
	s.scrapers[scraper.ID] = scraper
	return scraper, nil
}

// Update overwrites an existing scraper.
func (s *ScraperStore) Update(_ context.Context, scraper domain.Scraper) (domain.Scraper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return domain.Scraper{}, storage.ErrReadOnly
	}
	existing, ok := s.scrapers[scraper.ID]
	if !ok {
		return domain.Scraper{}, fmt.Errorf("scraper %s: %w", scraper.ID, storage.ErrNotFound)
	}

	scraper.CreatedAt = existing.CreatedAt
	scraper.UpdatedAt = time.Now().UTC()
	s.scrapers[scraper.ID] = scraper
	return scraper, nil
}

// Delete removes the scraper and returns its last value.
func (s *ScraperStore) Delete(_ context.Context, id string) (domain.Scraper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return domain.Scraper{}, storage.ErrReadOnly
	}
	scraper, ok := s.scrapers[id]
	if !ok {
		return domain.Scraper{}, fmt.Errorf("scraper %s: %w", id, storage.ErrNotFound)
	}
	delete(s.scrapers, id)
	return scraper, nil
}
