package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/clanrank/internal/domain/access"
)

// Authenticator maps bearer tokens to actors. Requests without a token pass
// through anonymously and may only read.
type Authenticator struct {
	actors map[string]access.Actor
}

// NewAuthenticator builds an Authenticator from token to role name.
// Tokens with an unknown role are rejected.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	a, _ := ParseTokens(tokens)
	return a
}

// ParseTokens is NewAuthenticator with role validation errors reported.
func ParseTokens(tokens map[string]string) (*Authenticator, error) {
	a := &Authenticator{actors: make(map[string]access.Actor, len(tokens))}
	var firstErr error
	for token, roleName := range tokens {
		role, err := access.ParseRole(roleName)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.actors[token] = access.Actor{Name: actorName(role, token), Role: role}
	}
	return a, firstErr
}

// Middleware puts the actor for the request's bearer token into the request
// context. An unknown token is answered with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		actor, known := a.actors[strings.TrimSpace(token)]
		if !ok || !known {
			writeError(w, http.StatusUnauthorized, "unauthorized", ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(access.WithActor(r.Context(), actor)))
	})
}

// actorName derives a stable, non-secret name for a token so sessions can be
// tied to their owner without logging the token.
func actorName(role access.Role, token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s-%s", role, hex.EncodeToString(sum[:4]))
}
