package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

const (
	secretTokenHeader       = "X-Telegram-Bot-Api-Secret-Token"
	defaultWebhookBodyLimit = 1 << 20
)

func (r *router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if !r.webhookAuthorized(req) {
		r.logger.Warn("webhook rejected", "remote_ip", remoteIP(req))
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Unauthorized: invalid token."})
		return
	}
	if r.deps.Webhook == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "webhook processing is not configured"})
		return
	}

	limit := r.deps.Config.WebhookBodyLimit
	if limit <= 0 {
		limit = defaultWebhookBodyLimit
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.logger.Warn("webhook body too large", "limit", limit)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored - body too large"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored - unreadable body"})
		return
	}

	status := r.deps.Webhook.Accept(req.Context(), raw)
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// webhookAuthorized admits the trusted proxy unconditionally and everyone else
// only with the configured secret token.
func (r *router) webhookAuthorized(req *http.Request) bool {
	trusted := strings.TrimSpace(r.deps.Config.TrustedProxyIP)
	if trusted != "" && remoteIP(req) == trusted {
		return true
	}
	secret := strings.TrimSpace(r.deps.Config.TelegramSecretToken)
	if secret == "" {
		return false
	}
	provided := strings.TrimSpace(req.Header.Get(secretTokenHeader))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
