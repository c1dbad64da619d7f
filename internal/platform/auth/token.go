// Package auth verifies the bearer tokens that identify API callers.
package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
)

// Issuer is the iss claim of qualityhub tokens.
const Issuer = "qualityhub"

// Config holds the HMAC key used to sign and verify tokens.
type Config struct {
	Key []byte
	Now func() time.Time
}

// claims is the JWT payload.
type claims struct {
	jwt.RegisteredClaims
	Login       string   `json:"login,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	Projects    []string `json:"projects,omitempty"`
}

// ParseKey decodes a hex key as printed by the hmac-key tool.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hmac key: %w", err)
	}
	if len(key) < 16 {
		return nil, fmt.Errorf("hmac key must be at least 16 bytes, got %d", len(key))
	}
	return key, nil
}

// Enabled reports whether tokens can be verified.
func (c Config) Enabled() bool {
	return len(c.Key) > 0
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Issue signs a token for user valid for ttl.
func Issue(cfg Config, user requestctx.User, ttl time.Duration) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("auth key is not configured")
	}
	if strings.TrimSpace(user.UUID) == "" {
		return "", errors.New("user uuid is required")
	}
	now := cfg.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Login:       user.Login,
		Permissions: user.Permissions,
		Projects:    user.Projects,
	})
	signed, err := token.SignedString(cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a signed token and returns its user.
func Verify(cfg Config, token string) (requestctx.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "Authentication token is missing")
	}
	if !cfg.Enabled() {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "Authentication is not configured")
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.now),
	)
	if err != nil {
		return requestctx.User{}, mapJWTError(err)
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "Authentication token has no subject")
	}
	return requestctx.User{
		UUID:        parsed.Subject,
		Login:       parsed.Login,
		Permissions: parsed.Permissions,
		Projects:    parsed.Projects,
	}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "Authentication token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "Authentication token signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "Authentication token is invalid", err)
	}
}

// Middleware resolves the caller from the Authorization header. Requests
// without a header continue anonymously; bad tokens go to onError.
func Middleware(cfg Config, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				onError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "Authorization header must use the Bearer scheme"))
				return
			}
			user, err := Verify(cfg, token)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithUser(r.Context(), user)))
		})
	}
}
