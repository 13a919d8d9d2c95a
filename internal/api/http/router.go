package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/snip/internal/config"
	"github.com/vadimbarashkov/snip/internal/metrics"
	"github.com/vadimbarashkov/snip/internal/models"
	"github.com/vadimbarashkov/snip/internal/service"
)

// LinkService is the resolution core consumed by the HTTP layer.
type LinkService interface {
	ShortenURL(ctx context.Context, req service.ShortenRequest, owner string) (*service.LinkResult, error)
	ResolveCode(ctx context.Context, code string, meta models.ClickMeta) (string, error)
	ListLinks(ctx context.Context, page, limit int, sortBy, order, owner string) (*service.LinkPage, error)
	GetAnalytics(ctx context.Context, code, owner string) (*service.Analytics, error)
	DeleteLink(ctx context.Context, code, owner string) (*service.DeleteResult, error)
}

func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

func NewRouter(logger *httplog.Logger, linkSvc LinkService, auth *service.Auth, rl config.RateLimit) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"POST", "GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		validate := getValidate()

		r.Get("/ping", handlePing)

		r.Route("/links", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Use(withOwner(auth))

			r.With(rateLimitByIP(newRateLimiter(rl.RPS, rl.Burst))).
				Post("/", handleShortenURL(linkSvc, validate))
			r.Get("/", handleListLinks(linkSvc))

			r.Route("/{code}", func(r chi.Router) {
				r.Delete("/", handleDeleteLink(linkSvc))
				r.Get("/analytics", handleGetAnalytics(linkSvc))
			})
		})
	})

	r.Get("/{code}", handleRedirect(linkSvc))

	return r
}
