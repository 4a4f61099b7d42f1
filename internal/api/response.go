package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// Response is the JSON envelope of every API response.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, Response{Data: data})
}

// respondError renders err through the error mapping. Unexpected errors are
// logged and their message is not exposed.
func respondError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	he, expected := classify(err)
	detail := &ErrorDetail{Code: he.Key, Message: err.Error()}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		detail.Message = "request validation failed"
		detail.Details = make(map[string][]string, len(ve))
		for _, fe := range ve {
			detail.Details[fe.Field()] = append(detail.Details[fe.Field()], fe.Tag())
		}
	}
	if !expected {
		if log == nil {
			log = slog.Default()
		}
		log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Error(err))
		detail.Message = http.StatusText(he.Code)
	}
	if errors.Is(err, subscription.ErrTransient) {
		w.Header().Set("Retry-After", "1")
	}

	render.Status(r, he.Code)
	render.JSON(w, r, Response{Error: detail})
}
