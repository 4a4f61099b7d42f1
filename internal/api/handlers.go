package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/entitlements/internal/jobs"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

type handlers struct {
	ctrl     *subscription.Controller
	history  subscription.HistoryReader
	gate     *entitlement.Gate
	webhooks subscription.WebhookParser
	enqueuer jobs.Enqueuer
	validate *validator.Validate
	maxBody  int64
	log      *slog.Logger
}

func (h *handlers) getEntitlement(w http.ResponseWriter, r *http.Request) {
	d, err := h.gate.Entitlement(r.Context(), entitlement.SubjectFromContext(r.Context()))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, d)
}

func (h *handlers) getSurfaceEntitlement(w http.ResponseWriter, r *http.Request) {
	surface := entitlement.Surface(chi.URLParam(r, "surface"))
	if !surface.Valid() {
		respondError(w, r, h.log, ErrUnknownSurface)
		return
	}

	d, err := h.gate.Check(r.Context(), surface, entitlement.SubjectFromContext(r.Context()))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, SurfaceDecision{Surface: surface, CanAccess: d.CanAccessPremium, Reason: d.Reason})
}

func (h *handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ctrl.Current(r.Context(), userID(r))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, newSubscriptionView(rec))
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.history.History(r.Context(), userID(r))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	views := make([]SubscriptionView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newSubscriptionView(rec))
	}
	respond(w, r, http.StatusOK, views)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	h.respondRecord(w, r)(h.ctrl.Cancel(r.Context(), userID(r), req.Immediate))
}

func (h *handlers) reactivate(w http.ResponseWriter, r *http.Request) {
	h.respondRecord(w, r)(h.ctrl.Reactivate(r.Context(), userID(r)))
}

func (h *handlers) changePlan(w http.ResponseWriter, r *http.Request) {
	var req changePlanRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	h.respondRecord(w, r)(h.ctrl.ChangePlan(r.Context(), userID(r), req.Plan))
}

func (h *handlers) respondRecord(w http.ResponseWriter, r *http.Request) func(*subscription.Record, error) {
	return func(rec *subscription.Record, err error) {
		if err != nil {
			respondError(w, r, h.log, err)
			return
		}
		respond(w, r, http.StatusOK, newSubscriptionView(rec))
	}
}

// receiveWebhook acknowledges a verified delivery once it is durably queued.
// Processing happens in the queue worker.
func (h *handlers) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, r, h.log, ErrEntityTooLarge)
			return
		}
		respondError(w, r, h.log, ErrBadRequest)
		return
	}

	ev, err := h.webhooks.ParseWebhook(r.Context(), payload, r.Header.Get(h.webhooks.SignatureHeader()))
	if err != nil {
		if errors.Is(err, subscription.ErrWebhookVerificationFailed) {
			h.log.WarnContext(r.Context(), "rejected webhook delivery", logger.Error(err))
		}
		respondError(w, r, h.log, err)
		return
	}

	if !ev.Type.Known() {
		h.log.InfoContext(r.Context(), "acknowledging unrecognized webhook event",
			logger.EventID(ev.ID),
			slog.String("provider_type", ev.ProviderType))
		render.JSON(w, r, webhookAck{Received: true})
		return
	}

	if err := jobs.EnqueueWebhookEvent(r.Context(), h.enqueuer, ev); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	render.JSON(w, r, webhookAck{Received: true})
}

func (h *handlers) ping(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads an optional JSON body into v and validates it.
// An empty body leaves v at its zero value.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) error {
	err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, h.maxBody), v)
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return ErrEntityTooLarge
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return h.validate.Struct(v)
}

func userID(r *http.Request) string {
	return entitlement.SubjectFromContext(r.Context()).UserID
}
