// Package memory provides an in-process link store implementing the same
// contracts as the PostgreSQL repository. It backs local development runs
// without a database and the hermetic store-contract tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vadimbarashkov/snip/internal/database"
	"github.com/vadimbarashkov/snip/internal/models"
)

// LinkStore keeps all link records in a map keyed by short code. The map
// holds soft-deleted links too, so code uniqueness stays global.
type LinkStore struct {
	mu    sync.RWMutex
	seq   int64
	links map[string]*models.Link

	now func() time.Time
}

func NewLinkStore() *LinkStore {
	return &LinkStore{
		links: make(map[string]*models.Link),
		now:   time.Now,
	}
}

// clone returns a copy detached from the store's internal state so callers
// can't mutate records behind the lock.
func clone(link *models.Link) *models.Link {
	cp := *link

	if link.ExpiresAt != nil {
		t := *link.ExpiresAt
		cp.ExpiresAt = &t
	}
	if link.ClickEvents != nil {
		cp.ClickEvents = make([]models.ClickEvent, len(link.ClickEvents))
		copy(cp.ClickEvents, link.ClickEvents)
	}

	return &cp
}

func (s *LinkStore) Create(_ context.Context, code, originalURL string, expiresAt *time.Time, owner string) (*models.Link, error) {
	const op = "database.memory.LinkStore.Create"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.links[code]; exists {
		return nil, fmt.Errorf("%s: %w", op, database.ErrCodeExists)
	}

	s.seq++
	now := s.now()

	link := &models.Link{
		ID:          s.seq,
		Code:        code,
		OriginalURL: originalURL,
		IsActive:    true,
		CreatedBy:   owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if expiresAt != nil {
		t := *expiresAt
		link.ExpiresAt = &t
	}

	s.links[code] = link

	return clone(link), nil
}

func (s *LinkStore) FindByCode(_ context.Context, code string) (*models.Link, error) {
	const op = "database.memory.LinkStore.FindByCode"

	s.mu.RLock()
	defer s.mu.RUnlock()

	link, exists := s.links[code]
	if !exists || !link.IsActive {
		return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	return clone(link), nil
}

func (s *LinkStore) FindByOriginalURL(_ context.Context, originalURL, owner string) (*models.Link, error) {
	const op = "database.memory.LinkStore.FindByOriginalURL"

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, link := range s.links {
		if link.IsActive && link.ExpiresAt == nil && link.OriginalURL == originalURL && link.CreatedBy == owner {
			return clone(link), nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
}

func (s *LinkStore) ExistsByCode(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.links[code]
	return exists, nil
}

// RecordClick increments the counter and appends one event under a single
// lock acquisition, evicting the oldest events past models.MaxClickEvents.
func (s *LinkStore) RecordClick(_ context.Context, code string, meta models.ClickMeta) (*models.Link, error) {
	const op = "database.memory.LinkStore.RecordClick"

	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.links[code]
	if !exists || !link.IsActive {
		return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	meta = meta.WithDefaults()
	now := s.now()

	link.Clicks++
	link.ClickEvents = append(link.ClickEvents, models.ClickEvent{
		Timestamp: now,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Referer:   meta.Referer,
	})
	if overflow := len(link.ClickEvents) - models.MaxClickEvents; overflow > 0 {
		link.ClickEvents = append(link.ClickEvents[:0], link.ClickEvents[overflow:]...)
	}
	link.UpdatedAt = now

	cp := clone(link)
	cp.ClickEvents = nil

	return cp, nil
}

func (s *LinkStore) FindAll(_ context.Context, page, limit int, sortBy models.SortBy, order models.Order, owner string) ([]*models.Link, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Link
	for _, link := range s.links {
		if link.IsActive && link.CreatedBy == owner {
			matched = append(matched, link)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if order == models.OrderDesc {
			a, b = b, a
		}

		switch sortBy {
		case models.SortByCreatedAt:
			return a.CreatedAt.Before(b.CreatedAt)
		case models.SortByCode:
			return a.Code < b.Code
		default:
			return a.Clicks < b.Clicks
		}
	})

	total := int64(len(matched))

	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	links := make([]*models.Link, 0, end-start)
	for _, link := range matched[start:end] {
		cp := clone(link)
		cp.ClickEvents = nil
		links = append(links, cp)
	}

	return links, total, nil
}

func (s *LinkStore) FindWithAnalytics(_ context.Context, code, owner string) (*models.Link, error) {
	const op = "database.memory.LinkStore.FindWithAnalytics"

	s.mu.RLock()
	defer s.mu.RUnlock()

	link, exists := s.links[code]
	if !exists || link.CreatedBy != owner {
		return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	return clone(link), nil
}

func (s *LinkStore) SoftDelete(_ context.Context, code, owner string) (*models.Link, error) {
	const op = "database.memory.LinkStore.SoftDelete"

	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.links[code]
	if !exists || !link.IsActive || link.CreatedBy != owner {
		return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	link.IsActive = false
	link.UpdatedAt = s.now()

	return clone(link), nil
}

func (s *LinkStore) HardDelete(_ context.Context, code string) error {
	const op = "database.memory.LinkStore.HardDelete"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.links[code]; !exists {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	delete(s.links, code)

	return nil
}

func (s *LinkStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, link := range s.links {
		if link.IsActive {
			total++
		}
	}

	return total, nil
}
