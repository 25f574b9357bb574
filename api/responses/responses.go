package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{OK: true, Data: data})
}

// WriteItems renders a listing as {"ok": true, "items": [...]}. A nil slice is
// rendered as an empty array.
func WriteItems[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, types.SuccessEnvelope{OK: true, Items: items})
}

// callerMessages lists the codes whose own message is safe to show. Every
// other code answers with the public message from its metadata.
var callerMessages = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation: true,
	pkgerrors.CodeForbidden:  true,
	pkgerrors.CodeDB:         true,
}

// WriteError renders err as the error envelope. Untyped errors become
// internal_error; the full chain only goes to the log.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	payload := errorPayload(typed, meta)
	if retry := payload.ErrorV1.RetryAfterSec; retry != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*retry))
	}
	logFailure(ctx, logg, err, meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, payload)
}

func errorPayload(typed *pkgerrors.Error, meta pkgerrors.Metadata) types.ErrorEnvelope {
	msg := meta.PublicMessage
	if callerMessages[typed.Code()] && typed.Message() != "" {
		msg = typed.Message()
	}
	apiErr := types.APIError{Code: string(typed.Code()), Message: msg}
	if meta.RetryAfterSec > 0 {
		retry := meta.RetryAfterSec
		apiErr.RetryAfterSec = &retry
	}
	if meta.DetailsAllowed && typed.Details() != nil {
		apiErr.Details = typed.Details()
	}
	return types.ErrorEnvelope{Error: msg, ErrorV1: apiErr}
}

func logFailure(ctx context.Context, logg *logger.Logger, err error, status int) {
	if logg == nil {
		return
	}
	ctx = logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("responses: encode %T: %v", payload, err)
	}
}
