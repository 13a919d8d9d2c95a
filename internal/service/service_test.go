package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/vadimbarashkov/snip/internal/database"
	"github.com/vadimbarashkov/snip/internal/models"
)

type MockLinkRepository struct {
	mock.Mock
}

func (r *MockLinkRepository) Create(ctx context.Context, code, originalURL string, expiresAt *time.Time, owner string) (*models.Link, error) {
	args := r.Called(ctx, code, originalURL, expiresAt, owner)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) FindByCode(ctx context.Context, code string) (*models.Link, error) {
	args := r.Called(ctx, code)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) FindByOriginalURL(ctx context.Context, originalURL, owner string) (*models.Link, error) {
	args := r.Called(ctx, originalURL, owner)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	args := r.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (r *MockLinkRepository) RecordClick(ctx context.Context, code string, meta models.ClickMeta) (*models.Link, error) {
	args := r.Called(ctx, code, meta)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) FindAll(ctx context.Context, page, limit int, sortBy models.SortBy, order models.Order, owner string) ([]*models.Link, int64, error) {
	args := r.Called(ctx, page, limit, sortBy, order, owner)
	links, _ := args.Get(0).([]*models.Link)
	return links, args.Get(1).(int64), args.Error(2)
}

func (r *MockLinkRepository) FindWithAnalytics(ctx context.Context, code, owner string) (*models.Link, error) {
	args := r.Called(ctx, code, owner)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) SoftDelete(ctx context.Context, code, owner string) (*models.Link, error) {
	args := r.Called(ctx, code, owner)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

type LinkServiceTestSuite struct {
	suite.Suite
	repoMock   *MockLinkRepository
	svc        *LinkService
	now        time.Time
	errUnknown error
}

func (suite *LinkServiceTestSuite) SetupTest() {
	suite.repoMock = new(MockLinkRepository)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	suite.svc = NewLinkService(suite.repoMock, NewCodeGenerator(DefaultCodeLength), logger, "http://sho.rt")

	suite.now = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	suite.svc.now = func() time.Time { return suite.now }

	suite.errUnknown = errors.New("unknown error")
}

// SetupSubTest gives each subtest a fresh mock so recorded calls from one
// subtest cannot leak into another's AssertNotCalled checks.
func (suite *LinkServiceTestSuite) SetupSubTest() {
	suite.SetupTest()
}

func (suite *LinkServiceTestSuite) activeLink(code string) *models.Link {
	return &models.Link{
		ID:          1,
		Code:        code,
		OriginalURL: "https://example.com",
		IsActive:    true,
		CreatedBy:   "owner1",
		CreatedAt:   suite.now,
		UpdatedAt:   suite.now,
	}
}

func (suite *LinkServiceTestSuite) TestShortenURL() {
	suite.Run("empty url", func() {
		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: "   "}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrInvalidURL)
		suite.Nil(result)
	})

	suite.Run("url without scheme", func() {
		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: "not-a-url"}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrInvalidURL)
		suite.Nil(result)
	})

	suite.Run("url with unsupported scheme", func() {
		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: "ftp://example.com"}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrInvalidURL)
		suite.Nil(result)
	})

	suite.Run("unparseable expiry", func() {
		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
			OriginalURL: "https://example.com",
			ExpiresAt:   "not-a-date",
		}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrInvalidExpiry)
		suite.Nil(result)
	})

	suite.Run("past expiry", func() {
		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
			OriginalURL: "https://example.com",
			ExpiresAt:   suite.now.Add(-time.Second).Format(time.RFC3339),
		}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrPastExpiry)
		suite.Nil(result)
	})

	suite.Run("expiry equal to now", func() {
		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
			OriginalURL: "https://example.com",
			ExpiresAt:   suite.now.Format(time.RFC3339),
		}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrPastExpiry)
		suite.Nil(result)
	})

	suite.Run("plain request returns existing link", func() {
		suite.repoMock.
			On("FindByOriginalURL", context.Background(), "https://example.com", "owner1").
			Once().
			Return(suite.activeLink("abc1234"), nil)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: " https://example.com "}, "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.True(result.Existing)
		suite.Equal("abc1234", result.ShortCode)
		suite.Equal("http://sho.rt/abc1234", result.ShortURL)
		suite.repoMock.AssertNotCalled(suite.T(), "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	suite.Run("plain request creates when no match", func() {
		suite.repoMock.
			On("FindByOriginalURL", context.Background(), "https://example.com", "owner1").
			Once().
			Return(nil, database.ErrLinkNotFound)
		suite.repoMock.
			On("ExistsByCode", context.Background(), mock.AnythingOfType("string")).
			Once().
			Return(false, nil)
		suite.repoMock.
			On("Create", context.Background(), mock.AnythingOfType("string"), "https://example.com", (*time.Time)(nil), "owner1").
			Once().
			Return(suite.activeLink("gen1234"), nil)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: "https://example.com"}, "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.False(result.Existing)
		suite.Equal("gen1234", result.ShortCode)
		suite.Zero(result.Clicks)
	})

	suite.Run("expiry skips dedup", func() {
		expiresAt := suite.now.Add(time.Hour)

		suite.repoMock.
			On("ExistsByCode", context.Background(), mock.AnythingOfType("string")).
			Once().
			Return(false, nil)
		suite.repoMock.
			On("Create", context.Background(), mock.AnythingOfType("string"), "https://example.com", mock.AnythingOfType("*time.Time"), "owner1").
			Once().
			Return(suite.activeLink("exp1234"), nil)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
			OriginalURL: "https://example.com",
			ExpiresAt:   expiresAt.Format(time.RFC3339),
		}, "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.repoMock.AssertNotCalled(suite.T(), "FindByOriginalURL", mock.Anything, mock.Anything, mock.Anything)
	})

	suite.Run("invalid custom code", func() {
		for _, code := range []string{"a", "has space", "bad!code", "waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay-too-long"} {
			result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
				OriginalURL: "https://example.com",
				CustomCode:  code,
			}, "owner1")

			suite.Error(err)
			suite.ErrorIs(err, ErrInvalidCode)
			suite.Nil(result)
		}
	})

	suite.Run("custom code taken", func() {
		suite.repoMock.
			On("ExistsByCode", context.Background(), "dupetest").
			Once().
			Return(true, nil)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
			OriginalURL: "https://example.com",
			CustomCode:  "dupetest",
		}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrCodeTaken)
		suite.Nil(result)
	})

	suite.Run("custom code success", func() {
		suite.repoMock.
			On("ExistsByCode", context.Background(), "my-code").
			Once().
			Return(false, nil)
		suite.repoMock.
			On("Create", context.Background(), "my-code", "https://example.com", (*time.Time)(nil), "owner1").
			Once().
			Return(suite.activeLink("my-code"), nil)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
			OriginalURL: "https://example.com",
			CustomCode:  "my-code",
		}, "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.Equal("my-code", result.ShortCode)
	})

	suite.Run("custom code lost create race", func() {
		suite.repoMock.
			On("ExistsByCode", context.Background(), "raced").
			Once().
			Return(false, nil)
		suite.repoMock.
			On("Create", context.Background(), "raced", "https://example.com", (*time.Time)(nil), "owner1").
			Once().
			Return(nil, database.ErrCodeExists)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{
			OriginalURL: "https://example.com",
			CustomCode:  "raced",
		}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrCodeTaken)
		suite.Nil(result)
	})

	suite.Run("generated code lost create race is retried", func() {
		suite.repoMock.
			On("FindByOriginalURL", context.Background(), "https://example.com", "owner1").
			Once().
			Return(nil, database.ErrLinkNotFound)
		suite.repoMock.
			On("ExistsByCode", context.Background(), mock.AnythingOfType("string")).
			Twice().
			Return(false, nil)
		suite.repoMock.
			On("Create", context.Background(), mock.AnythingOfType("string"), "https://example.com", (*time.Time)(nil), "owner1").
			Once().
			Return(nil, database.ErrCodeExists)
		suite.repoMock.
			On("Create", context.Background(), mock.AnythingOfType("string"), "https://example.com", (*time.Time)(nil), "owner1").
			Once().
			Return(suite.activeLink("retried"), nil)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: "https://example.com"}, "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.Equal("retried", result.ShortCode)
	})

	suite.Run("generated code retries exhausted", func() {
		suite.repoMock.
			On("FindByOriginalURL", context.Background(), "https://example.com", "owner1").
			Once().
			Return(nil, database.ErrLinkNotFound)
		suite.repoMock.
			On("ExistsByCode", context.Background(), mock.AnythingOfType("string")).
			Twice().
			Return(false, nil)
		suite.repoMock.
			On("Create", context.Background(), mock.AnythingOfType("string"), "https://example.com", (*time.Time)(nil), "owner1").
			Twice().
			Return(nil, database.ErrCodeExists)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: "https://example.com"}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrMaxRetriesExceeded)
		suite.Nil(result)
	})

	suite.Run("unknown store error", func() {
		suite.repoMock.
			On("FindByOriginalURL", context.Background(), "https://example.com", "owner1").
			Once().
			Return(nil, suite.errUnknown)

		result, err := suite.svc.ShortenURL(context.Background(), ShortenRequest{OriginalURL: "https://example.com"}, "owner1")

		suite.Error(err)
		suite.ErrorIs(err, suite.errUnknown)
		suite.Nil(result)
	})
}

func (suite *LinkServiceTestSuite) TestResolveCode() {
	meta := models.ClickMeta{IP: "203.0.113.7", UserAgent: "curl/8.0", Referer: "https://ref.example"}

	suite.Run("not found", func() {
		suite.repoMock.
			On("FindByCode", context.Background(), "missing").
			Once().
			Return(nil, database.ErrLinkNotFound)

		originalURL, err := suite.svc.ResolveCode(context.Background(), "missing", meta)

		suite.Error(err)
		suite.ErrorIs(err, ErrLinkNotFound)
		suite.Empty(originalURL)
	})

	suite.Run("expired is distinct from not found", func() {
		link := suite.activeLink("expired1")
		expiresAt := suite.now.Add(-time.Hour)
		link.ExpiresAt = &expiresAt

		suite.repoMock.
			On("FindByCode", context.Background(), "expired1").
			Once().
			Return(link, nil)

		originalURL, err := suite.svc.ResolveCode(context.Background(), "expired1", meta)

		suite.Error(err)
		suite.ErrorIs(err, ErrLinkExpired)
		suite.NotErrorIs(err, ErrLinkNotFound)
		suite.Empty(originalURL)
		suite.repoMock.AssertNotCalled(suite.T(), "RecordClick", mock.Anything, mock.Anything, mock.Anything)
	})

	suite.Run("success records click in background", func() {
		recorded := make(chan struct{})

		suite.repoMock.
			On("FindByCode", context.Background(), "abc1234").
			Once().
			Return(suite.activeLink("abc1234"), nil)
		suite.repoMock.
			On("RecordClick", mock.Anything, "abc1234", meta).
			Once().
			Run(func(mock.Arguments) { close(recorded) }).
			Return(suite.activeLink("abc1234"), nil)

		originalURL, err := suite.svc.ResolveCode(context.Background(), "abc1234", meta)

		suite.NoError(err)
		suite.Equal("https://example.com", originalURL)

		select {
		case <-recorded:
		case <-time.After(2 * time.Second):
			suite.Fail("click was never recorded")
		}
	})

	suite.Run("click recording failure never reaches the caller", func() {
		recorded := make(chan struct{})

		suite.repoMock.
			On("FindByCode", context.Background(), "abc1234").
			Once().
			Return(suite.activeLink("abc1234"), nil)
		suite.repoMock.
			On("RecordClick", mock.Anything, "abc1234", meta).
			Once().
			Run(func(mock.Arguments) { close(recorded) }).
			Return(nil, suite.errUnknown)

		originalURL, err := suite.svc.ResolveCode(context.Background(), "abc1234", meta)

		suite.NoError(err)
		suite.Equal("https://example.com", originalURL)

		select {
		case <-recorded:
		case <-time.After(2 * time.Second):
			suite.Fail("click was never recorded")
		}
	})
}

func (suite *LinkServiceTestSuite) TestListLinks() {
	suite.Run("normalizes paging and sorting", func() {
		suite.repoMock.
			On("FindAll", context.Background(), 1, 50, models.SortByClicks, models.OrderDesc, "owner1").
			Once().
			Return([]*models.Link{}, int64(0), nil)

		result, err := suite.svc.ListLinks(context.Background(), -3, 0, "bogus", "sideways", "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.Equal(1, result.Page)
		suite.Equal(50, result.Limit)
		suite.Zero(result.Total)
	})

	suite.Run("formats links with expiry flag", func() {
		expired := suite.activeLink("old1234")
		expiresAt := suite.now.Add(-time.Minute)
		expired.ExpiresAt = &expiresAt

		suite.repoMock.
			On("FindAll", context.Background(), 2, 10, models.SortByCreatedAt, models.OrderAsc, "owner1").
			Once().
			Return([]*models.Link{expired, suite.activeLink("new1234")}, int64(12), nil)

		result, err := suite.svc.ListLinks(context.Background(), 2, 10, "created_at", "asc", "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.Len(result.Links, 2)
		suite.True(result.Links[0].IsExpired)
		suite.False(result.Links[1].IsExpired)
		suite.Equal("http://sho.rt/old1234", result.Links[0].ShortURL)
		suite.Equal(int64(12), result.Total)
	})

	suite.Run("unknown store error", func() {
		suite.repoMock.
			On("FindAll", context.Background(), 1, 50, models.SortByClicks, models.OrderDesc, "owner1").
			Once().
			Return(nil, int64(0), suite.errUnknown)

		result, err := suite.svc.ListLinks(context.Background(), 1, 50, "clicks", "desc", "owner1")

		suite.Error(err)
		suite.ErrorIs(err, suite.errUnknown)
		suite.Nil(result)
	})
}

func (suite *LinkServiceTestSuite) TestGetAnalytics() {
	suite.Run("not found", func() {
		suite.repoMock.
			On("FindWithAnalytics", context.Background(), "missing", "owner1").
			Once().
			Return(nil, database.ErrLinkNotFound)

		result, err := suite.svc.GetAnalytics(context.Background(), "missing", "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrLinkNotFound)
		suite.Nil(result)
	})

	suite.Run("events come back most recent first", func() {
		link := suite.activeLink("abc1234")
		link.Clicks = 1500
		link.ClickEvents = []models.ClickEvent{
			{Timestamp: suite.now.Add(-3 * time.Minute), IP: "ip1", UserAgent: "ua1"},
			{Timestamp: suite.now.Add(-2 * time.Minute), IP: "ip2", UserAgent: "ua2"},
			{Timestamp: suite.now.Add(-time.Minute), IP: "ip3", UserAgent: "ua3", Referer: "https://ref.example"},
		}

		suite.repoMock.
			On("FindWithAnalytics", context.Background(), "abc1234", "owner1").
			Once().
			Return(link, nil)

		result, err := suite.svc.GetAnalytics(context.Background(), "abc1234", "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.Equal(int64(1500), result.TotalClicks)
		suite.Len(result.ClickEvents, 3)
		suite.Equal("ip3", result.ClickEvents[0].IP)
		suite.Equal("ip2", result.ClickEvents[1].IP)
		suite.Equal("ip1", result.ClickEvents[2].IP)
		suite.True(result.ClickEvents[0].Timestamp.After(result.ClickEvents[2].Timestamp))
	})
}

func (suite *LinkServiceTestSuite) TestDeleteLink() {
	suite.Run("not found", func() {
		suite.repoMock.
			On("SoftDelete", context.Background(), "missing", "owner1").
			Once().
			Return(nil, database.ErrLinkNotFound)

		result, err := suite.svc.DeleteLink(context.Background(), "missing", "owner1")

		suite.Error(err)
		suite.ErrorIs(err, ErrLinkNotFound)
		suite.Nil(result)
	})

	suite.Run("success confirms the deleted code", func() {
		suite.repoMock.
			On("SoftDelete", context.Background(), "abc1234", "owner1").
			Once().
			Return(suite.activeLink("abc1234"), nil)

		result, err := suite.svc.DeleteLink(context.Background(), "abc1234", "owner1")

		suite.NoError(err)
		suite.NotNil(result)
		suite.Contains(result.Message, "abc1234")
	})
}

func TestLinkServiceTestSuite(t *testing.T) {
	suite.Run(t, new(LinkServiceTestSuite))
}
