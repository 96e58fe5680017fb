package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// OperatorVerifier defines the interface for validating operator bearer tokens.
type OperatorVerifier interface {
	VerifyOperator(tokenString string) (*OperatorClaims, error)
}

// OperatorClaims represents the claims we expect from the operator verifier.
type OperatorClaims struct {
	Subject string
	Role    string
}

type contextKeyOperator struct{}

// GetOperator retrieves the authenticated operator subject from the context.
// It returns an empty string when the request did not pass RequireOperator.
func GetOperator(ctx context.Context) string {
	if claims, ok := ctx.Value(contextKeyOperator{}).(*OperatorClaims); ok {
		return claims.Subject
	}
	return ""
}

// GetOperatorRole retrieves the authenticated operator role from the context.
func GetOperatorRole(ctx context.Context) string {
	if claims, ok := ctx.Value(contextKeyOperator{}).(*OperatorClaims); ok {
		return claims.Role
	}
	return ""
}

// RequireOperator guards approval and rule management endpoints. Requests
// must carry a bearer token minted for a human operator; the operator
// subject is stored in the context for handlers to record on resolutions.
func RequireOperator(verifier OperatorVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing operator token",
					"path", r.URL.Path,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := verifier.VerifyOperator(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid operator token",
					"error", err,
					"path", r.URL.Path,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, contextKeyOperator{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
