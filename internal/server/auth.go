package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/ragindex-go/internal/logging"
)

// apiKeyHeader is accepted as an alternative to a Bearer token, for webhook
// senders that cannot set Authorization.
const apiKeyHeader = "X-Api-Key"

// authMiddleware guards the pipeline endpoints with RAGINDEX_API_KEY. An empty
// key disables the check; New logs a warning once when that happens.
//
// Callers present the key as either of:
//
//	Authorization: Bearer <key>
//	X-Api-Key: <key>
//
// Failures get 401 with a Bearer challenge. Presented credentials are never
// logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, via := presentedKey(r)
		if token == "" {
			reject(w, r, "missing credentials", "", `Bearer realm="ragindex"`)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			reject(w, r, "invalid credentials", via, `Bearer realm="ragindex" error="invalid_token"`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, r *http.Request, reason, via, challenge string) {
	attrs := []any{slog.String("path", r.URL.Path)}
	if via != "" {
		attrs = append(attrs, slog.String("via", via))
	}
	logging.FromContext(r.Context()).Warn("auth: "+reason, attrs...)

	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, reason, http.StatusUnauthorized)
}

// presentedKey returns the credential and which header carried it. A Bearer
// token takes precedence over X-Api-Key.
func presentedKey(r *http.Request) (token, via string) {
	if t := bearerToken(r); t != "" {
		return t, "authorization"
	}
	if t := strings.TrimSpace(r.Header.Get(apiKeyHeader)); t != "" {
		return t, "x-api-key"
	}
	return "", ""
}

// bearerToken extracts <token> from "Authorization: Bearer <token>", matching
// the scheme case-insensitively. Anything else yields "".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
