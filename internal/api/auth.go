package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/identity"
)

// Claims carries the caller's identity. Subject is the patient or staff id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

var errNoActor = errors.New("no authenticated actor")

// AuthMiddleware verifies an HS256 bearer token and stores the resulting
// identity.Actor on the request context.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			actor, err := parseToken(secret, parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := identity.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseToken(secret []byte, tokenStr string) (identity.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return identity.Actor{}, errors.New("invalid token")
	}

	role := identity.Role(claims.Role)
	if !role.Valid() {
		return identity.Actor{}, errors.New("unknown role")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil && role == identity.RolePatient {
		return identity.Actor{}, errors.New("patient token needs a uuid subject")
	}
	return identity.Actor{ID: id, Role: role}, nil
}

// IssueToken signs a token for actor, valid for ttl.
func IssueToken(secret []byte, actor identity.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(actor.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", errNoActor.Error())
		return identity.Actor{}, false
	}
	return actor, true
}
