package http

import (
	"context"
	"net/http"
	"strings"
)

// UserHeader carries the caller's identity. It is set by whatever sits in
// front of the API; this service does not authenticate.
const UserHeader = "X-User-ID"

const maxUserIDLength = 128

type userKey struct{}

// RequireUser rejects requests without a usable user id and stores it in the
// request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" || len(id) > maxUserIDLength || strings.ContainsFunc(id, isControl) {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func isControl(r rune) bool {
	return r < 32 || r == 127
}
