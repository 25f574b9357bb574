package auth

import (
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	Role   enums.OperatorRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to admin operators.
type AccessTokenClaims struct {
	UserID string             `json:"user_id"`
	Role   enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
