package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/kiosk-backend/api/responses"
	"github.com/angelmondragon/kiosk-backend/api/validators"
	"github.com/angelmondragon/kiosk-backend/internal/compensation"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

type CompensationService interface {
	ScanUndeliveredPaid(ctx context.Context) (compensation.ScanSummary, error)
	ExecuteExpiredCompensation(ctx context.Context) (compensation.ExecuteSummary, error)
	CompensationAlert(ctx context.Context) (compensation.AlertSnapshot, error)
	CompensationStatus(ctx context.Context) (compensation.StatusReport, error)
	Records(ctx context.Context, outcome string, limit int) ([]models.CompensationRecord, error)
}

func compensationUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "compensation service unavailable"))
}

func CompensationAlert(svc CompensationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			compensationUnavailable(w, r, logg)
			return
		}
		snap, err := svc.CompensationAlert(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func CompensationStatus(svc CompensationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			compensationUnavailable(w, r, logg)
			return
		}
		report, err := svc.CompensationStatus(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func ListCompensationRecords(svc CompensationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			compensationUnavailable(w, r, logg)
			return
		}
		limit, err := validators.ParseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := svc.Records(r.Context(), validators.ParseQueryString(r, "outcome", statusQueryMaxLen), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteItems(w, items)
	}
}

func RunCompensationScan(svc CompensationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			compensationUnavailable(w, r, logg)
			return
		}
		summary, err := svc.ScanUndeliveredPaid(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func RunCompensationExecute(svc CompensationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			compensationUnavailable(w, r, logg)
			return
		}
		summary, err := svc.ExecuteExpiredCompensation(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
