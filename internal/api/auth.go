package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/auth"
)

type tokenRequest struct {
	Key string `json:"key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken exchanges an API key for a bearer token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeNotFound(w, "authentication is not enabled")
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	token, role, expires, err := s.auth.Exchange(req.Key)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidKey) {
			s.logger.Warn("rejected API key", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid API key")
			return
		}
		writeInternalError(w, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		Role:      role,
		ExpiresAt: expires,
	})
}

// authMiddleware verifies the bearer token when authentication is enabled
// and stores its claims in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="instruments"`)
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "bearer token required")
			return
		}
		claims, err := s.auth.Verify(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission rejects requests whose token role lacks perm. It is a
// no-op when authentication is disabled.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.auth == nil {
				next.ServeHTTP(w, r)
				return
			}
			claims := claimsFrom(r)
			if claims == nil || !auth.HasPermission(claims.Role, perm) {
				writeError(w, http.StatusForbidden, ErrCodeForbidden, "requires "+string(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(ctxKeyClaims).(*auth.Claims)
	return claims
}
