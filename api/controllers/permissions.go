package controllers

import (
	"net/http"

	"github.com/angelmondragon/kiosk-backend/api/middleware"
	"github.com/angelmondragon/kiosk-backend/api/responses"
	"github.com/angelmondragon/kiosk-backend/internal/permissions"
)

// ListPermissions returns the capability catalog.
func ListPermissions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteItems(w, permissions.Catalog())
	}
}

// MyPermissions returns the grants of the caller's role.
func MyPermissions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := middleware.RoleFromClaims(r.Context(), middleware.UserIDFromContext(r.Context()))
		var grants []permissions.Code
		if ok {
			grants = permissions.Grants(role)
		}
		responses.WriteItems(w, grants)
	}
}
