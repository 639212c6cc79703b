package gateway

import (
	"log"
	"strings"

	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/pkg/logger"
)

// Transport-level noise the platform's infrastructure produces under
// high churn. Expected, not application errors.
var suppressedErrors = []string{
	"connection reset by peer",
	"broken pipe",
	"client disconnected",
	"i/o timeout",
	"EOF",
	"TLS handshake error",
}

type errorLogFilter struct {
	log *logger.Logger
}

func (f *errorLogFilter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	for _, noise := range suppressedErrors {
		if strings.Contains(msg, noise) {
			return len(p), nil
		}
	}
	f.log.Warn("http server error", zap.String("error", msg))
	return len(p), nil
}

// NewServerErrorLog returns an ErrorLog for http.Server that swallows
// connection resets, aborts and timeouts and forwards everything else
// to the structured logger.
func NewServerErrorLog(l *logger.Logger) *log.Logger {
	return log.New(&errorLogFilter{log: l}, "", 0)
}
