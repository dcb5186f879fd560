package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/NickCoder1309/nexMeet-chat/internal/models"
	"github.com/NickCoder1309/nexMeet-chat/internal/session"
)

var authVerifier *session.Verifier

// SetAuthVerifier installs the token verifier used by RequireAuth. With a
// nil verifier authentication is disabled and requests pass through, which
// is how self-contained deployments run.
func SetAuthVerifier(v *session.Verifier) {
	authVerifier = v
}

func WriteJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// BearerToken returns the token from the Authorization header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if authVerifier == nil {
			next(w, r)
			return
		}

		token := BearerToken(r)
		if token == "" {
			WriteJSONError(w, "Not authenticated", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		id, err := authVerifier.Verify(token)
		if err != nil {
			WriteJSONError(w, "Invalid or expired token", "TOKEN_INVALID", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(session.WithIdentity(r.Context(), id)))
	}
}
