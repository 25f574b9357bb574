package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/kiosk-backend/api/middleware"
	"github.com/angelmondragon/kiosk-backend/api/responses"
	"github.com/angelmondragon/kiosk-backend/api/validators"
	"github.com/angelmondragon/kiosk-backend/internal/alerts"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

const (
	defaultDispatchBatch = 50
	maxDispatchBatch     = 500
	statusQueryMaxLen    = 32
)

// AlertsService is the outbox surface exposed to operators.
type AlertsService interface {
	Enqueue(ctx context.Context, in alerts.EnqueueInput) (*models.AlertMessage, bool, error)
	DispatchPending(ctx context.Context, limit int) (alerts.DispatchSummary, error)
	List(ctx context.Context, status string, limit int) ([]models.AlertMessage, error)
	History(ctx context.Context, messageID uuid.UUID) ([]models.AlertDispatchLog, error)
	ListDLQ(ctx context.Context, status string, limit int) ([]models.AlertDLQEntry, error)
	Replay(ctx context.Context, dlqID uuid.UUID) (*models.AlertDLQEntry, error)
	Resolve(ctx context.Context, dlqID uuid.UUID, operator string) (*models.AlertDLQEntry, error)
	ReplayDue(ctx context.Context, limit int) (alerts.ReplaySummary, error)
}

func alertsUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "alerts service unavailable"))
}

// ListAlerts filters by a case-insensitive status and a clamped limit.
func ListAlerts(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		limit, err := validators.ParseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := svc.List(r.Context(), validators.ParseQueryString(r, "status", statusQueryMaxLen), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteItems(w, items)
	}
}

// Severity and channel casing is normalised by the service.
type enqueueAlertBody struct {
	EventCode   string `json:"event_code" validate:"required,max=64"`
	Severity    string `json:"severity" validate:"required"`
	Fingerprint string `json:"fingerprint" validate:"required,max=255"`
	Channel     string `json:"channel" validate:"required"`
	Target      string `json:"target" validate:"required,max=255"`
	Text        string `json:"text" validate:"required"`
}

// EnqueueAlert lets an operator raise a manual alert through the outbox.
func EnqueueAlert(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		var body enqueueAlertBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		msg, created, err := svc.Enqueue(r.Context(), alerts.EnqueueInput{
			EventCode:   body.EventCode,
			Severity:    enums.AlertSeverity(body.Severity),
			Fingerprint: body.Fingerprint,
			Channel:     enums.AlertChannel(body.Channel),
			Target:      body.Target,
			Text:        body.Text,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"alert":   msg,
			"created": created,
		})
	}
}

func DispatchAlerts(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		batch, err := validators.ParseQueryInt(r, "batch", defaultDispatchBatch, 1, maxDispatchBatch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.DispatchPending(r.Context(), batch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func AlertHistory(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		id, err := parseUUIDParam(r, "alertID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := svc.History(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteItems(w, items)
	}
}

func ListDLQ(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		limit, err := validators.ParseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := svc.ListDLQ(r.Context(), validators.ParseQueryString(r, "status", statusQueryMaxLen), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteItems(w, items)
	}
}

func ReplayDLQ(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		id, err := parseUUIDParam(r, "dlqID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Replay(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entry)
	}
}

// ResolveDLQ closes an entry on behalf of the authenticated operator.
func ResolveDLQ(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		id, err := parseUUIDParam(r, "dlqID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Resolve(r.Context(), id, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entry)
	}
}

func ReplayDueDLQ(svc AlertsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			alertsUnavailable(w, r, logg)
			return
		}
		limit, err := validators.ParseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.ReplayDue(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
