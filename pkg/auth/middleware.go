package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the API expects from the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// JWTValidator validates bearer tokens with a shared HMAC secret.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator returns nil for an empty secret, which disables bearer
// auth and leaves only the X-Tenant-Id header path.
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and validates a token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// isPublicPath lists endpoints reachable without a principal: health checks
// and the token-addressed supplier portal.
func isPublicPath(path string) bool {
	if strings.HasPrefix(path, "/api/fornecedor/convite/") {
		return true
	}
	return path == "/health"
}

// Middleware resolves the request principal. A Bearer token wins; without
// one, the X-Tenant-Id header selects the tenant (role from X-Role,
// defaulting to member). Requests with neither are rejected.
func Middleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var principal Principal

			authHeader := r.Header.Get("Authorization")
			switch {
			case authHeader != "":
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || parts[0] != "Bearer" {
					unauthorized(w, "invalid Authorization header format (expected 'Bearer <token>')")
					return
				}
				if validator == nil {
					unauthorized(w, "bearer authentication not configured")
					return
				}
				claims, err := validator.Validate(parts[1])
				if err != nil {
					unauthorized(w, "invalid or expired token")
					return
				}
				if claims.Subject == "" || claims.TenantID == "" {
					unauthorized(w, "token subject and tenant binding are required")
					return
				}
				principal = &BasePrincipal{ID: claims.Subject, TenantID: claims.TenantID, Roles: claims.Roles}

			case r.Header.Get("X-Tenant-Id") != "":
				role := r.Header.Get("X-Role")
				if role == "" {
					role = "member"
				}
				principal = &BasePrincipal{
					ID:       "header:" + r.Header.Get("X-Tenant-Id"),
					TenantID: r.Header.Get("X-Tenant-Id"),
					Roles:    []string{role},
				}

			default:
				unauthorized(w, "missing credentials: provide a Bearer token or X-Tenant-Id")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":"unauthorized","message":%q}`, detail)
}
