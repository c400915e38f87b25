// Package middleware authenticates API callers.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"go.pilab.hu/toolgate/domain"
	apierrors "go.pilab.hu/toolgate/errors"
)

// IdentityKey is the echo context key the authenticated identity is stored under.
const IdentityKey = "identity"

var ErrInvalidToken = errors.New("invalid JWT token")

// Claims are the session claims the broker understands.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 session tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret []byte) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenVerifier{secret: secret}, nil
}

// ParseIdentity validates jwtToken and returns the caller it names.
func (v *TokenVerifier) ParseIdentity(jwtToken string) (*domain.Identity, error) {
	claims := new(Claims)

	token, err := jwt.ParseWithClaims(jwtToken, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &domain.Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   claims.Role,
	}, nil
}

// SignToken issues a session token for id. It backs the development
// token command; production sessions come from the identity provider.
func SignToken(secret []byte, id domain.Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Email: id.Email,
		Name:  id.Name,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// extractJWTFromHeader extracts the JWT from the Authorization header.
func extractJWTFromHeader(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid bearer token")
	}
	return strings.TrimSpace(parts[1]), nil
}

// JWTAuth rejects requests without a valid bearer token and puts the caller
// into both the echo context and the request context.
func JWTAuth(v *TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := otel.Tracer("go.pilab.hu/toolgate/middleware").Start(c.Request().Context(), "JWTAuth")
			defer span.End()

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, apierrors.NewUnauthorized("Missing Authorization header"))
			}

			jwtToken, err := extractJWTFromHeader(authHeader)
			if err != nil {
				span.RecordError(err)
				return c.JSON(http.StatusUnauthorized, apierrors.NewUnauthorized("Invalid Authorization header"))
			}

			identity, err := v.ParseIdentity(jwtToken)
			if err != nil {
				span.RecordError(err)
				log.Ctx(ctx).Debug().Err(err).Msg("bearer token rejected")
				return c.JSON(http.StatusUnauthorized, apierrors.NewUnauthorized("Invalid or expired token"))
			}

			c.Set(IdentityKey, identity)
			c.SetRequest(c.Request().WithContext(domain.WithIdentity(c.Request().Context(), identity)))

			return next(c)
		}
	}
}

// RequireElevated only lets callers with the elevated role through. It must
// run after JWTAuth.
func RequireElevated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := IdentityFrom(c)
			if !ok || !identity.IsElevated() {
				log.Ctx(c.Request().Context()).Warn().Str("path", c.Path()).Msg("elevated role required")
				return c.JSON(http.StatusForbidden, apierrors.NewAccessDenied("Only administrators can perform this action"))
			}
			return next(c)
		}
	}
}

// IdentityFrom returns the identity JWTAuth stored in c.
func IdentityFrom(c echo.Context) (*domain.Identity, bool) {
	identity, ok := c.Get(IdentityKey).(*domain.Identity)
	return identity, ok && identity != nil
}
