package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/libraryid/server/internal/webhook"
)

// MessagingSignature rejects inbound chat callbacks whose provider signature
// does not match. The signed URL is the public base URL plus the request URI,
// since the service usually runs behind a proxy that rewrites the host.
func MessagingSignature(authToken, publicBaseURL string, logger *slog.Logger) func(http.Handler) http.Handler {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				respondPlain(w, http.StatusBadRequest, "Bad Request")
				return
			}

			signature := r.Header.Get(webhook.MessagingSignatureHeader)
			err := webhook.VerifyForm(authToken, signature, base+r.URL.RequestURI(), r.PostForm)
			if err != nil {
				if errors.Is(err, webhook.ErrMissingSecret) {
					logger.Error("messaging signature check enabled without auth token")
					respondPlain(w, http.StatusInternalServerError, "Error")
					return
				}
				logger.Warn("rejected chat callback", "error", err, "remote", r.RemoteAddr)
				respondPlain(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondPlain(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(body))
}
