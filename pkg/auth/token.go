package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

var signingMethod = jwt.SigningMethodHS256

var (
	// ErrMisconfigured means the verifier was built without a secret, issuer or ttl.
	ErrMisconfigured = errors.New("jwt config incomplete")
	// ErrInvalidToken wraps every reason a presented token is rejected.
	ErrInvalidToken = errors.New("invalid access token")
)

// Only storefront callers carry bearer tokens; scheduler and webhook actors
// never authenticate over HTTP.
func httpRole(role enums.ActorType) bool {
	switch role {
	case enums.ActorTypeCustomer, enums.ActorTypeOperator:
		return true
	}
	return false
}

func checkConfig(cfg config.JWTConfig, minting bool) error {
	switch {
	case cfg.Secret == "":
		return fmt.Errorf("%w: secret missing", ErrMisconfigured)
	case minting && cfg.Issuer == "":
		return fmt.Errorf("%w: issuer missing", ErrMisconfigured)
	case minting && cfg.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrMisconfigured)
	}
	return nil
}

// MintAccessToken signs an HS256 token for payload that expires cfg.TTL after now.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := checkConfig(cfg, true); err != nil {
		return "", err
	}
	if payload.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !httpRole(payload.Role) {
		return "", fmt.Errorf("role %q cannot hold an access token", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		Email:  strings.ToLower(strings.TrimSpace(payload.Email)),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry. Rejections wrap
// ErrInvalidToken; a broken config returns ErrMisconfigured instead.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if err := checkConfig(cfg, false); err != nil {
		return nil, err
	}

	claims := &AccessTokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id missing", ErrInvalidToken)
	}
	if !httpRole(claims.Role) {
		return nil, fmt.Errorf("%w: role %q not accepted", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
