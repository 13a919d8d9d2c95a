package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/vadimbarashkov/snip/internal/database"
	"github.com/vadimbarashkov/snip/internal/metrics"
	"github.com/vadimbarashkov/snip/internal/models"
)

var (
	// ErrInvalidURL is returned when the original URL is empty or not an
	// absolute http(s) URL.
	ErrInvalidURL = errors.New("original url must start with http:// or https://")
	// ErrInvalidCode is returned when a custom code doesn't match the
	// 2-30 character [A-Za-z0-9_-] pattern.
	ErrInvalidCode = errors.New("custom code must be 2-30 alphanumeric chars (- _ allowed)")
	// ErrInvalidExpiry is returned when the expiry date can't be parsed.
	ErrInvalidExpiry = errors.New("invalid expiry date")
	// ErrPastExpiry is returned when the expiry date isn't in the future.
	ErrPastExpiry = errors.New("expiry date must be in the future")
	// ErrCodeTaken is returned when a custom code is already occupied.
	ErrCodeTaken = errors.New("custom code is already taken")
	// ErrLinkNotFound is returned when no link matches the code for the caller.
	ErrLinkNotFound = errors.New("link not found")
	// ErrLinkExpired is returned when a link exists but is past its expiry.
	// Distinct from ErrLinkNotFound so callers can render a different message.
	ErrLinkExpired = errors.New("link has expired")
	// ErrMaxRetriesExceeded is returned when the maximum number of retries
	// for generating a short code is exceeded.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")
)

// LinkRepository defines the interface for working with links at the
// business logic layer.
type LinkRepository interface {
	// Create inserts a new link. Returns database.ErrCodeExists if the
	// code is already taken, active or not.
	Create(ctx context.Context, code, originalURL string, expiresAt *time.Time, owner string) (*models.Link, error)

	// FindByCode retrieves an active link by its short code.
	FindByCode(ctx context.Context, code string) (*models.Link, error)

	// FindByOriginalURL retrieves an active, never-expiring link for the
	// given URL and owner.
	FindByOriginalURL(ctx context.Context, originalURL, owner string) (*models.Link, error)

	// ExistsByCode reports whether the code is taken by any link,
	// regardless of the active flag.
	ExistsByCode(ctx context.Context, code string) (bool, error)

	// RecordClick atomically increments the click counter and appends one
	// click event, capping the event log.
	RecordClick(ctx context.Context, code string, meta models.ClickMeta) (*models.Link, error)

	// FindAll returns one page of active links for the owner and the
	// total count.
	FindAll(ctx context.Context, page, limit int, sortBy models.SortBy, order models.Order, owner string) ([]*models.Link, int64, error)

	// FindWithAnalytics retrieves a link with its full click event log,
	// owner-scoped, including soft-deleted links.
	FindWithAnalytics(ctx context.Context, code, owner string) (*models.Link, error)

	// SoftDelete marks an active link inactive.
	SoftDelete(ctx context.Context, code, owner string) (*models.Link, error)
}

const (
	defaultPage  = 1
	defaultLimit = 50
	maxLimit     = 100

	// maxCreateAttempts bounds retries when a generated code loses the
	// create race. One retry is enough in practice given the keyspace.
	maxCreateAttempts = 2
	// maxGenerateAttempts bounds the generate-and-check loop.
	maxGenerateAttempts = 5

	defaultClickTimeout = 5 * time.Second
)

// LinkService orchestrates code generation, dedup, expiry validation,
// click recording and analytics assembly. All business rules live here.
type LinkService struct {
	repo         LinkRepository
	gen          *CodeGenerator
	logger       *slog.Logger
	baseURL      string
	clickTimeout time.Duration
	now          func() time.Time
}

// NewLinkService creates a LinkService with its collaborators passed
// explicitly. baseURL is used to assemble the public short URL.
func NewLinkService(repo LinkRepository, gen *CodeGenerator, logger *slog.Logger, baseURL string) *LinkService {
	return &LinkService{
		repo:         repo,
		gen:          gen,
		logger:       logger,
		baseURL:      strings.TrimRight(baseURL, "/"),
		clickTimeout: defaultClickTimeout,
		now:          time.Now,
	}
}

// ShortenRequest carries the caller-supplied shorten parameters.
// CustomCode and ExpiresAt are optional; ExpiresAt is an RFC 3339 timestamp.
type ShortenRequest struct {
	OriginalURL string
	CustomCode  string
	ExpiresAt   string
}

// LinkResult is the formatted link representation returned to callers.
type LinkResult struct {
	ShortCode   string     `json:"short_code"`
	ShortURL    string     `json:"short_url"`
	OriginalURL string     `json:"original_url"`
	Clicks      int64      `json:"clicks"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsExpired   bool       `json:"is_expired"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	// Existing is true when a plain shorten request matched a previously
	// created link instead of creating a new one.
	Existing bool `json:"existing,omitempty"`
}

// LinkPage is one page of formatted links.
type LinkPage struct {
	Links []LinkResult `json:"links"`
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// ClickEventView is one click event as exposed by analytics.
type ClickEventView struct {
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer,omitempty"`
}

// Analytics is the analytics view for a single link. TotalClicks comes from
// the counter and may exceed len(ClickEvents) due to the event log cap.
type Analytics struct {
	LinkResult
	TotalClicks int64            `json:"total_clicks"`
	ClickEvents []ClickEventView `json:"click_events"`
}

// DeleteResult confirms a soft delete.
type DeleteResult struct {
	Message string `json:"message"`
}

func (s *LinkService) formatLink(link *models.Link) *LinkResult {
	return &LinkResult{
		ShortCode:   link.Code,
		ShortURL:    s.baseURL + "/" + link.Code,
		OriginalURL: link.OriginalURL,
		Clicks:      link.Clicks,
		ExpiresAt:   link.ExpiresAt,
		IsExpired:   link.IsExpired(s.now()),
		CreatedAt:   link.CreatedAt,
		UpdatedAt:   link.UpdatedAt,
	}
}

func validateOriginalURL(raw string) error {
	if raw == "" {
		return ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	return nil
}

func (s *LinkService) parseExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, ErrInvalidExpiry
	}
	if !t.After(s.now()) {
		return nil, ErrPastExpiry
	}

	return &t, nil
}

// ShortenURL validates the request, deduplicates plain requests, resolves
// a short code and persists the link. All validation happens before any
// write. A plain request matching an existing link returns it with
// Existing set instead of creating a duplicate.
func (s *LinkService) ShortenURL(ctx context.Context, req ShortenRequest, owner string) (*LinkResult, error) {
	const op = "service.LinkService.ShortenURL"

	originalURL := strings.TrimSpace(req.OriginalURL)
	if err := validateOriginalURL(originalURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	expiresAt, err := s.parseExpiry(req.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Dedup is reserved for plain requests: a custom code or expiry always
	// produces a fresh link.
	if req.CustomCode == "" && expiresAt == nil {
		link, err := s.repo.FindByOriginalURL(ctx, originalURL, owner)
		switch {
		case err == nil:
			res := s.formatLink(link)
			res.Existing = true
			return res, nil
		case !errors.Is(err, database.ErrLinkNotFound):
			return nil, fmt.Errorf("%s: failed to check for existing link: %w", op, err)
		}
	}

	if req.CustomCode != "" {
		return s.createWithCustomCode(ctx, strings.TrimSpace(req.CustomCode), originalURL, expiresAt, owner)
	}

	return s.createWithGeneratedCode(ctx, originalURL, expiresAt, owner)
}

func (s *LinkService) createWithCustomCode(ctx context.Context, code, originalURL string, expiresAt *time.Time, owner string) (*LinkResult, error) {
	const op = "service.LinkService.createWithCustomCode"

	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCode)
	}

	taken, err := s.repo.ExistsByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to check code availability: %w", op, err)
	}
	if taken {
		return nil, fmt.Errorf("%s: %w", op, ErrCodeTaken)
	}

	link, err := s.repo.Create(ctx, code, originalURL, expiresAt, owner)
	if err != nil {
		// Lost a race against a concurrent create with the same code.
		// For custom codes that is a legitimate conflict, not a retry.
		if errors.Is(err, database.ErrCodeExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrCodeTaken)
		}

		return nil, fmt.Errorf("%s: failed to create link: %w", op, err)
	}

	s.logger.Info("link created",
		slog.String("code", link.Code),
		slog.String("owner", owner),
	)

	return s.formatLink(link), nil
}

func (s *LinkService) createWithGeneratedCode(ctx context.Context, originalURL string, expiresAt *time.Time, owner string) (*LinkResult, error) {
	const op = "service.LinkService.createWithGeneratedCode"

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		code, err := s.nextFreeCode(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		link, err := s.repo.Create(ctx, code, originalURL, expiresAt, owner)
		if err != nil {
			// Concurrent create won the race for this code. Retryable for
			// generated codes; the unique constraint is the backstop.
			if errors.Is(err, database.ErrCodeExists) {
				continue
			}

			return nil, fmt.Errorf("%s: failed to create link: %w", op, err)
		}

		s.logger.Info("link created",
			slog.String("code", link.Code),
			slog.String("owner", owner),
		)

		return s.formatLink(link), nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

func (s *LinkService) nextFreeCode(ctx context.Context) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		code, err := s.gen.Generate()
		if err != nil {
			return "", err
		}

		taken, err := s.repo.ExistsByCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code availability: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", ErrMaxRetriesExceeded
}

// ResolveCode returns the destination URL for an active, unexpired link
// and records the click in the background. The redirect never waits on the
// click write and never observes its failure.
func (s *LinkService) ResolveCode(ctx context.Context, code string, meta models.ClickMeta) (string, error) {
	const op = "service.LinkService.ResolveCode"

	link, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return "", fmt.Errorf("%s: %w", op, ErrLinkNotFound)
		}

		return "", fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	if link.IsExpired(s.now()) {
		return "", fmt.Errorf("%s: %w", op, ErrLinkExpired)
	}

	s.recordClickAsync(code, meta)

	return link.OriginalURL, nil
}

// recordClickAsync fires the click write on a detached context so it
// survives the request returning. Failures are logged and counted only.
func (s *LinkService) recordClickAsync(code string, meta models.ClickMeta) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.clickTimeout)
		defer cancel()

		if _, err := s.repo.RecordClick(ctx, code, meta); err != nil {
			metrics.ClickRecordFailures.Inc()
			s.logger.Error("failed to record click",
				slog.String("code", code),
				slog.Any("err", err),
			)
		}
	}()
}

// ListLinks returns one page of the owner's active links. Out-of-range
// paging and unknown sort parameters fall back to defaults.
func (s *LinkService) ListLinks(ctx context.Context, page, limit int, sortBy, order, owner string) (*LinkPage, error) {
	const op = "service.LinkService.ListLinks"

	if page < 1 {
		page = defaultPage
	}
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}

	sortField := models.SortBy(sortBy)
	if !sortField.Valid() {
		sortField = models.SortByClicks
	}

	sortOrder := models.OrderDesc
	if models.Order(order) == models.OrderAsc {
		sortOrder = models.OrderAsc
	}

	links, total, err := s.repo.FindAll(ctx, page, limit, sortField, sortOrder, owner)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list links: %w", op, err)
	}

	result := &LinkPage{
		Links: make([]LinkResult, 0, len(links)),
		Total: total,
		Page:  page,
		Limit: limit,
	}
	for _, link := range links {
		result.Links = append(result.Links, *s.formatLink(link))
	}

	return result, nil
}

// GetAnalytics returns the formatted link summary with its click events in
// reverse chronological order. The counter is authoritative for the total;
// the event log may have been truncated.
func (s *LinkService) GetAnalytics(ctx context.Context, code, owner string) (*Analytics, error) {
	const op = "service.LinkService.GetAnalytics"

	link, err := s.repo.FindWithAnalytics(ctx, code, owner)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link analytics: %w", op, err)
	}

	events := make([]ClickEventView, 0, len(link.ClickEvents))
	for i := len(link.ClickEvents) - 1; i >= 0; i-- {
		e := link.ClickEvents[i]
		events = append(events, ClickEventView{
			Timestamp: e.Timestamp,
			IP:        e.IP,
			UserAgent: e.UserAgent,
			Referer:   e.Referer,
		})
	}

	return &Analytics{
		LinkResult:  *s.formatLink(link),
		TotalClicks: link.Clicks,
		ClickEvents: events,
	}, nil
}

// DeleteLink soft-deletes the owner's link. The code stays reserved.
func (s *LinkService) DeleteLink(ctx context.Context, code, owner string) (*DeleteResult, error) {
	const op = "service.LinkService.DeleteLink"

	link, err := s.repo.SoftDelete(ctx, code, owner)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to delete link: %w", op, err)
	}

	s.logger.Info("link deleted",
		slog.String("code", link.Code),
		slog.String("owner", owner),
	)

	return &DeleteResult{
		Message: fmt.Sprintf("Link %q deleted successfully.", link.Code),
	}, nil
}
