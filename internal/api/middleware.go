/**
 * @description
 * This file contains custom middleware for the HTTP routers. Middlewares are
 * used to process requests before they reach the final handler, perfect for
 * tasks like authentication or adding context to a request. Three callers are
 * distinguished: the treasury manager (service-to-service key), keepers
 * (service key plus a keeper identity header checked against the registry by
 * the business layer), and the owner (JWT with an owner role claim).
 *
 * @dependencies
 * - context, crypto/subtle, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing for owner endpoints.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// KeeperIDContextKey is a custom type for the context key to avoid collisions.
type KeeperIDContextKey string

const keeperIDKey KeeperIDContextKey = "keeperID"

// KeeperIDHeader carries the keeper's registered identity. The business layer
// checks it against the keeper registry; the middleware only extracts it.
const KeeperIDHeader = "X-Keeper-ID"

// internalKeyHeader carries the shared service-to-service API key.
const internalKeyHeader = "X-Internal-Api-Key"

// InternalAuthMiddleware creates a middleware that validates the shared
// internal API key using a constant-time comparison.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				http.Error(w, "Internal API key is not configured", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get(internalKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				http.Error(w, "Invalid internal API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeeperAuthMiddleware validates the internal API key and requires a keeper
// identity header, which it places on the request context. Whether that
// identity is actually on the keeper allow list is decided by the service,
// which owns the registry.
func KeeperAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	internal := InternalAuthMiddleware(apiKey)
	return func(next http.Handler) http.Handler {
		return internal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keeperID := strings.TrimSpace(r.Header.Get(KeeperIDHeader))
			if keeperID == "" {
				http.Error(w, "Keeper identity header required", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), keeperIDKey, keeperID)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

// GetKeeperID retrieves the keeper identity from the request context.
// Handlers should use this function to get the calling keeper's ID.
func GetKeeperID(ctx context.Context) (string, bool) {
	keeperID, ok := ctx.Value(keeperIDKey).(string)
	return keeperID, ok
}

// OwnerAuthMiddleware creates a middleware that validates an HS256 JWT and
// requires a `role` claim of "owner". Admin endpoints (keeper registry,
// activation, emergency withdrawal) sit behind it.
func OwnerAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtSecret == "" {
				http.Error(w, "Owner authentication is not configured", http.StatusServiceUnavailable)
				return
			}

			// Get the Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			if role, ok := claims["role"].(string); !ok || role != "owner" {
				http.Error(w, "Owner role required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
