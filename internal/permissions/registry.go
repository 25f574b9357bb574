// Package permissions holds the closed catalog of admin capabilities and the
// predicate used to gate operator actions. It keeps no mutable state.
package permissions

import (
	"context"
	"sort"

	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

type Code string

const (
	AlertsRead        Code = "alerts.read"
	AlertsDispatch    Code = "alerts.dispatch"
	AlertsDLQRead     Code = "alerts.dlq.read"
	AlertsDLQReplay   Code = "alerts.dlq.replay"
	AlertsDLQResolve  Code = "alerts.dlq.resolve"
	CompensationRead  Code = "compensation.read"
	CompensationRun   Code = "compensation.run"
	GatewaysRead      Code = "gateways.read"
	AdminUsersWrite   Code = "admin.users.write"
	AdminPermissionsR Code = "admin.permissions.read"
)

// Capability is one catalog entry.
type Capability struct {
	Code  Code   `json:"code"`
	Label string `json:"label"`
}

var catalog = map[Code]string{
	AlertsRead:        "View outbound alerts",
	AlertsDispatch:    "Trigger alert dispatch",
	AlertsDLQRead:     "View dead-lettered alerts",
	AlertsDLQReplay:   "Replay dead-lettered alerts",
	AlertsDLQResolve:  "Resolve dead-lettered alerts",
	CompensationRead:  "View compensation status",
	CompensationRun:   "Run compensation scans and refunds",
	GatewaysRead:      "View gateways",
	AdminUsersWrite:   "Manage admin users",
	AdminPermissionsR: "View the permission catalog",
}

// Catalog returns every capability ordered by code.
func Catalog() []Capability {
	out := make([]Capability, 0, len(catalog))
	for code, label := range catalog {
		out = append(out, Capability{Code: code, Label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Known reports whether code is part of the catalog.
func Known(code Code) bool {
	_, ok := catalog[code]
	return ok
}

// Label returns the human readable label for code.
func Label(code Code) string {
	return catalog[code]
}

// Checker is the injected predicate consulted before privileged operations.
type Checker interface {
	HasPermission(ctx context.Context, userID string, code Code) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, userID string, code Code) bool

func (f CheckerFunc) HasPermission(ctx context.Context, userID string, code Code) bool {
	return f(ctx, userID, code)
}

// RoleLookup resolves the role for an authenticated user.
type RoleLookup func(ctx context.Context, userID string) (enums.OperatorRole, bool)

var readGrants = []Code{AlertsRead, AlertsDLQRead, CompensationRead, GatewaysRead}

var roleGrants = map[enums.OperatorRole][]Code{
	enums.OperatorRoleViewer: readGrants,
	enums.OperatorRoleOperator: append(append([]Code{}, readGrants...),
		AlertsDispatch, AlertsDLQReplay, AlertsDLQResolve, CompensationRun),
	enums.OperatorRoleAdmin: allCodes(),
}

func allCodes() []Code {
	out := make([]Code, 0, len(catalog))
	for code := range catalog {
		out = append(out, code)
	}
	return out
}

// Grants lists the capabilities given to role.
func Grants(role enums.OperatorRole) []Code {
	grants := append([]Code{}, roleGrants[role]...)
	sort.Slice(grants, func(i, j int) bool { return grants[i] < grants[j] })
	return grants
}

// RoleChecker maps operator roles to grants.
type RoleChecker struct {
	lookup RoleLookup
}

func NewRoleChecker(lookup RoleLookup) *RoleChecker {
	return &RoleChecker{lookup: lookup}
}

func (c *RoleChecker) HasPermission(ctx context.Context, userID string, code Code) bool {
	if c == nil || c.lookup == nil || userID == "" || !Known(code) {
		return false
	}
	role, ok := c.lookup(ctx, userID)
	if !ok {
		return false
	}
	for _, granted := range roleGrants[role] {
		if granted == code {
			return true
		}
	}
	return false
}
