package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/snip/internal/metrics"
	"github.com/vadimbarashkov/snip/internal/models"
	"github.com/vadimbarashkov/snip/internal/service"
	"github.com/vadimbarashkov/snip/pkg/response"
)

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

type shortenRequest struct {
	URL        string `json:"url" validate:"required"`
	CustomCode string `json:"custom_code,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

func handleShortenURL(svc LinkService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleShortenURL"
	const createdMsg = "The URL has been shortened successfully."
	const existingMsg = "The URL was already shortened."

	return func(w http.ResponseWriter, r *http.Request) {
		var req shortenRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			if errors.Is(err, io.EOF) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.EmptyRequestBodyResponse)
				return
			}

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.BadRequestResponse)
			return
		}

		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		metrics.Shortens.Inc()

		result, err := svc.ShortenURL(r.Context(), service.ShortenRequest{
			OriginalURL: req.URL,
			CustomCode:  req.CustomCode,
			ExpiresAt:   req.ExpiresAt,
		}, ownerFromContext(r.Context()))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidURL):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Bad Request", service.ErrInvalidURL.Error()))
			case errors.Is(err, service.ErrInvalidCode):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Bad Request", service.ErrInvalidCode.Error()))
			case errors.Is(err, service.ErrInvalidExpiry):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Bad Request", service.ErrInvalidExpiry.Error()))
			case errors.Is(err, service.ErrPastExpiry):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Bad Request", service.ErrPastExpiry.Error()))
			case errors.Is(err, service.ErrCodeTaken):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, response.ErrorResponse("Conflict", service.ErrCodeTaken.Error()))
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		// Dedup hits return the previously created link instead of a
		// fresh one, distinguished by the status code.
		if result.Existing {
			render.Status(r, http.StatusOK)
			render.JSON(w, r, response.SuccessResponse(existingMsg, result))
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.SuccessResponse(createdMsg, result))
	}
}

func handleRedirect(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleRedirect"

	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		meta := models.ClickMeta{
			IP:        r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Referer:   r.Referer(),
		}

		metrics.Redirects.Inc()

		originalURL, err := svc.ResolveCode(r.Context(), code, meta)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrLinkNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			case errors.Is(err, service.ErrLinkExpired):
				render.Status(r, http.StatusGone)
				render.JSON(w, r, response.LinkExpiredResponse)
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		http.Redirect(w, r, originalURL, http.StatusFound)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func handleListLinks(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleListLinks"
	const successMsg = "The links were retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 50)
		sortBy := r.URL.Query().Get("sort_by")
		order := r.URL.Query().Get("order")

		result, err := svc.ListLinks(r.Context(), page, limit, sortBy, order, ownerFromContext(r.Context()))
		if err != nil {
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, result))
	}
}

func handleGetAnalytics(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleGetAnalytics"
	const successMsg = "The link analytics were retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		result, err := svc.GetAnalytics(r.Context(), code, ownerFromContext(r.Context()))
		if err != nil {
			if errors.Is(err, service.ErrLinkNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, result))
	}
}

func handleDeleteLink(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleDeleteLink"

	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		result, err := svc.DeleteLink(r.Context(), code, ownerFromContext(r.Context()))
		if err != nil {
			if errors.Is(err, service.ErrLinkNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(result.Message))
	}
}
