package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/kiosk-backend/api/responses"
	"github.com/angelmondragon/kiosk-backend/api/validators"
	"github.com/angelmondragon/kiosk-backend/internal/gateways"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

// GatewayService is the inbound gateway surface used by the API.
type GatewayService interface {
	Heartbeat(ctx context.Context, req gateways.Request, now time.Time) (gateways.Result, error)
	List(ctx context.Context, limit int) ([]gateways.GatewayView, error)
}

// GatewayHeartbeat authenticates a gateway call over the exact request bytes
// and records liveness when it is accepted.
func GatewayHeartbeat(svc GatewayService, maxBody int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway service unavailable"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
					WithDetails(map[string]any{"max_bytes": maxBody}))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		req := gateways.Request{
			Serial:    r.Header.Get(gateways.HeaderSerial),
			Timestamp: r.Header.Get(gateways.HeaderTimestamp),
			Signature: r.Header.Get(gateways.HeaderSignature),
			Body:      body,
		}
		res, err := svc.Heartbeat(r.Context(), req, time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !res.Accepted {
			responses.WriteError(r.Context(), logg, w, res.Err())
			return
		}
		responses.WriteSuccess(w, res)
	}
}

func ListGateways(svc GatewayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway service unavailable"))
			return
		}
		limit, err := validators.ParseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := svc.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteItems(w, items)
	}
}
