package middleware

import (
	"net/http"

	"github.com/angelmondragon/kiosk-backend/api/responses"
	"github.com/angelmondragon/kiosk-backend/internal/permissions"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

// RequirePermission gates the wrapped handler on checker granting code to the
// authenticated user. It must run after Auth.
func RequirePermission(checker permissions.Checker, code permissions.Code, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if checker == nil || !checker.HasPermission(r.Context(), userID, code) {
				err := pkgerrors.New(pkgerrors.CodeForbidden, "permission required").
					WithDetails(map[string]string{"permission": string(code)})
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
