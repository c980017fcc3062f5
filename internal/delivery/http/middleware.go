package httpd

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

type SigConfig struct {
	Secret        string
	MaxAgeSeconds int64
}

// SignatureMiddleware checks X-Signature, the hex HMAC-SHA256 of the body
// followed by "." and X-Timestamp, on requests that change state.
func SignatureMiddleware(cfg SigConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				ts := r.Header.Get("X-Timestamp")
				sig := r.Header.Get("X-Signature")

				if ts == "" || sig == "" {
					writeError(w, http.StatusUnauthorized, "missing signature headers")
					return
				}

				tsInt, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "invalid timestamp")
					return
				}

				now := time.Now().Unix()
				if cfg.MaxAgeSeconds > 0 && (now-tsInt > cfg.MaxAgeSeconds || tsInt-now > cfg.MaxAgeSeconds) {
					writeError(w, http.StatusUnauthorized, "signature expired")
					return
				}

				bodyBytes, err := readBody(r)
				if err != nil {
					writeError(w, http.StatusBadRequest, "read body error")
					return
				}

				expected := RequestSignature(cfg.Secret, bodyBytes, ts)
				if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
					writeError(w, http.StatusUnauthorized, "invalid signature")
					return
				}
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

// RequestSignature is the X-Signature value for body sent at ts.
func RequestSignature(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("." + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

type WebhookAuthConfig struct {
	// Secret keys the X-SePay-Signature HMAC; empty disables the check.
	Secret string
	// APIKey is compared with "Authorization: Apikey <key>" or X-API-KEY;
	// empty disables the check.
	APIKey string
}

// WebhookAuth rejects gateway deliveries that fail the API key or body
// signature check. Nothing downstream runs for a rejected delivery.
func WebhookAuth(cfg WebhookAuthConfig, log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readBody(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "read body error")
				return
			}

			if cfg.APIKey != "" && !hmac.Equal([]byte(apiKeyFrom(r)), []byte(cfg.APIKey)) {
				log.Warn("webhook rejected: api key", zap.String("remote", r.RemoteAddr))
				writeJSON(w, http.StatusUnauthorized, WebhookAck{Outcome: "rejected", Reason: "invalid_api_key"})
				return
			}
			if cfg.Secret != "" && !ValidWebhookSignature(cfg.Secret, body, r.Header.Get("X-SePay-Signature")) {
				log.Warn("webhook rejected: signature", zap.String("remote", r.RemoteAddr))
				writeJSON(w, http.StatusUnauthorized, WebhookAck{Outcome: "rejected", Reason: "invalid_signature"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyFrom(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); len(auth) > 7 && strings.EqualFold(auth[:7], "apikey ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-KEY"))
}

// ValidWebhookSignature checks header against HMAC-SHA256(secret, body).
// The digest may be base64 (standard or url alphabet, padded or not) or hex,
// optionally prefixed with "sha256=".
func ValidWebhookSignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "sha256=") {
		header = header[7:]
	}
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	decoders := []func(string) ([]byte, error){
		hex.DecodeString,
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	}
	for _, decode := range decoders {
		got, err := decode(header)
		if err == nil && hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}

// RateLimit answers 429 once l runs out of tokens.
func RateLimit(l *rate.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// readBody drains r.Body and puts an identical reader back.
func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}
