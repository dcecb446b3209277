package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/storage"
)

// ScraperStore is a Redis-backed implementation of storage.ScraperStore.
// Scrapers live as JSON blobs under scrapers:{id}, with the id set kept in
// scraper_ids.
type ScraperStore struct {
	client *redis.Client
}

// NewScraperStore creates a Redis-backed scraper store.
func NewScraperStore(client *redis.Client) *ScraperStore {
	return &ScraperStore{client: client}
}

// ReadOnly reports whether mutations are allowed. Redis storage is always
// writable.
func (s *ScraperStore) ReadOnly() bool {
	return false
}

// List returns all scrapers ordered by name.
func (s *ScraperStore) List(ctx context.Context) ([]domain.Scraper, error) {
	ids, err := s.client.SMembers(ctx, scraperIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list scraper ids: %w", err)
	}
	scrapers, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	storage.SortScrapers(scrapers)
	return scrapers, nil
}

// Get returns the scraper or storage.ErrNotFound.
func (s *ScraperStore) Get(ctx context.Context, id string) (domain.Scraper, error) {
	raw, err := s.client.Get(ctx, scraperKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Scraper{}, fmt.Errorf("scraper %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return domain.Scraper{}, fmt.Errorf("get scraper %s: %w", id, err)
	}

	var scraper domain.Scraper
	if err := json.Unmarshal([]byte(raw), &scraper); err != nil {
		return domain.Scraper{}, fmt.Errorf("decode scraper %s: %w", id, err)
	}
	return scraper, nil
}

// MaybeGet returns nil without error when the scraper is absent.
func (s *ScraperStore) MaybeGet(ctx context.Context, id string) (*domain.Scraper, error) {
	scraper, err := s.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &scraper, nil
}

// Search returns scrapers matching the filters, ordered by name.
func (s *ScraperStore) Search(ctx context.Context, filters storage.ScraperFilters) ([]domain.Scraper, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, scraper := range all {
		if filters.Match(scraper) {
			out = append(out, scraper)
		}
	}
	return out, nil
}

// Create assigns an ID and persists the scraper.
func (s *ScraperStore) Create(ctx context.Context, scraper domain.Scraper) (domain.Scraper, error) {
	scraper.ID = uuid.New().String()
	now := time.Now().UTC()
	scraper.CreatedAt = now
	scraper.UpdatedAt = now

	if err := s.write(ctx, scraper); err != nil {
		return domain.Scraper{}, err
	}
	return scraper, nil
}

// Update overwrites an existing scraper, preserving its creation time.
func (s *ScraperStore) Update(ctx context.Context, scraper domain.Scraper) (domain.Scraper, error) {
	existing, err := s.Get(ctx, scraper.ID)
	if err != nil {
		return domain.Scraper{}, err
	}

	scraper.CreatedAt = existing.CreatedAt
	scraper.UpdatedAt = time.Now().UTC()
	if err := s.write(ctx, scraper); err != nil {
		return domain.Scraper{}, err
	}
	return scraper, nil
}

// Delete removes the scraper and returns its last value.
func (s *ScraperStore) Delete(ctx context.Context, id string) (domain.Scraper, error) {
	scraper, err := s.Get(ctx, id)
	if err != nil {
		return domain.Scraper{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, scraperKey(id))
		pipe.SRem(ctx, scraperIDsKey, id)
		return nil
	})
	if err != nil {
		return domain.Scraper{}, fmt.Errorf("delete scraper %s: %w", id, err)
	}
	return scraper, nil
}

func (s *ScraperStore) write(ctx context.Context, scraper domain.Scraper) error {
	blob, err := json.Marshal(scraper)
	if err != nil {
		return fmt.Errorf("encode scraper %s: %w", scraper.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, scraperKey(scraper.ID), blob, 0)
		pipe.SAdd(ctx, scraperIDsKey, scraper.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write scraper %s: %w", scraper.ID, err)
	}
	return nil
}

func (s *ScraperStore) fetch(ctx context.Context, ids []string) ([]domain.Scraper, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = scraperKey(id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch scrapers: %w", err)
	}

	scrapers := make([]domain.Scraper, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// The id set and the blob were removed in separate steps.
			continue
		}
		var scraper domain.Scraper
		if err := json.Unmarshal([]byte(str), &scraper); err != nil {
			return nil, fmt.Errorf("decode scraper %s: %w", ids[i], err)
		}
		scrapers = append(scrapers, scraper)
	}
	return scrapers, nil
}
