package middleware

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/pkg/logger"
)

// ComputeSignature returns the platform callback signature: SHA1 over
// the lexicographically sorted concatenation of token, timestamp and
// nonce.
func ComputeSignature(token, timestamp, nonce string) string {
	parts := []string{token, timestamp, nonce}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a callback's signature query parameters.
func VerifySignature(token, signature, timestamp, nonce string) bool {
	expected := ComputeSignature(token, timestamp, nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// SignatureCheck verifies the platform signature on callbacks when a
// token is configured. Verification is a configured policy, not a
// mandatory gate: a mismatch is logged and the request still proceeds,
// since the handshake contract requires answering regardless.
func SignatureCheck(token string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				q := r.URL.Query()
				signature := q.Get("signature")
				timestamp := q.Get("timestamp")
				nonce := q.Get("nonce")
				if signature != "" && !VerifySignature(token, signature, timestamp, nonce) {
					log.Warn("callback signature mismatch",
						zap.String("remote", r.RemoteAddr),
					)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
