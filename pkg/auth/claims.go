package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorType
	Email  string
	JTI    string
}

// AccessTokenClaims is the typed JWT presented by shoppers and operators.
// Role reuses the actor vocabulary so a token maps straight onto the actor
// recorded with each status change.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorType `json:"role"`
	Email  string          `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IsOperator reports whether the token may drive back-office operations.
func (c *AccessTokenClaims) IsOperator() bool {
	return c != nil && c.Role == enums.ActorTypeOperator
}
