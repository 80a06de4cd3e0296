package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/domainpulse/domainpulse-agent/internal/auth"
)

// ControlTokenHeader carries the local control token.
const ControlTokenHeader = "X-Control-Token"

// ControlAuth verifies the control token against its argon2id hash on
// mutating routes. An empty hash disables auth; intended for development
// only and logged loudly at startup by the entrypoint.
func ControlAuth(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(ControlTokenHeader)
			if token == "" {
				// Accept Authorization: Bearer as an alternative carrier.
				if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
					token = strings.TrimPrefix(h, "Bearer ")
				}
			}
			if token == "" {
				unauthorized(w, "missing control token")
				return
			}

			ok, err := auth.VerifyToken(token, tokenHash)
			if err != nil {
				logger.Error("control token hash unusable", "error", err)
				unauthorized(w, "invalid control token")
				return
			}
			if !ok {
				logger.Warn("control token rejected",
					"request_id", GetRequestID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w, "invalid control token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
