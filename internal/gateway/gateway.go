// Package gateway implements the inbound webhook endpoint: platform
// verification, callback parsing, message classification, and the
// synchronous empty acknowledgment that decouples the platform's reply
// deadline from model latency.
package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/internal/dedup"
	"github.com/luowen-ai/wechat-relay/internal/model"
	"github.com/luowen-ai/wechat-relay/pkg/logger"
	"github.com/luowen-ai/wechat-relay/pkg/metrics"
)

// Synchronous user-facing replies.
const (
	cannotRecognizeReply = "抱歉，我无法识别您的语音"
	unsupportedReply     = "抱歉，我目前只支持文本对话"
	processingErrorReply = "处理消息出错，请稍后再试"
)

// maxBodySize bounds how much of a callback body is read.
const maxBodySize = 1 << 20

// Dispatcher hands a classified text message off for asynchronous
// processing. It must return promptly.
type Dispatcher interface {
	Dispatch(sessionKey, content string)
}

// Handler serves the webhook endpoints.
type Handler struct {
	dispatcher Dispatcher
	dedupSet   *dedup.Set // nil when duplicate suppression is disabled
	greeting   string
	log        *logger.Logger
	now        func() time.Time
}

// NewHandler creates the webhook handler. dedupSet may be nil.
func NewHandler(dispatcher Dispatcher, dedupSet *dedup.Set, greeting string, log *logger.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		dedupSet:   dedupSet,
		greeting:   greeting,
		log:        log,
		now:        time.Now,
	}
}

// Verify handles the platform handshake: the challenge token is echoed
// byte-for-byte with HTTP 200 regardless of signature validity.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	echostr := r.URL.Query().Get("echostr")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, echostr)
}

// Receive handles message delivery callbacks. The connection must never
// be left hanging: panics degrade to a synchronous error reply.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var env *model.InboundEnvelope
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("webhook handler panicked", zap.Any("panic", rec))
			if env != nil {
				h.writeReply(w, env, processingErrorReply)
			} else {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unable to read message", http.StatusBadRequest)
		return
	}

	env, err = parseEnvelope(body)
	if err != nil {
		h.log.Error("unable to parse callback", zap.Error(err))
		http.Error(w, "unable to parse message", http.StatusBadRequest)
		return
	}

	metrics.InboundMessagesTotal.WithLabelValues(env.MsgType).Inc()

	switch env.MsgType {
	case model.MsgTypeEvent:
		h.handleEvent(w, env)
	case model.MsgTypeText:
		h.handleText(w, env, env.Content)
	case model.MsgTypeVoice:
		if env.Recognition != "" {
			h.log.Info("voice transcript received",
				zap.String("session", env.SessionKey()),
			)
			h.handleText(w, env, env.Recognition)
		} else {
			h.writeReply(w, env, cannotRecognizeReply)
		}
	default:
		h.log.Info("unsupported message type", zap.String("type", env.MsgType))
		h.writeReply(w, env, unsupportedReply)
	}
}

func (h *Handler) handleEvent(w http.ResponseWriter, env *model.InboundEnvelope) {
	if strings.ToLower(env.Event) == model.EventSubscribe {
		h.log.Info("user subscribed", zap.String("user", env.FromUser))
		h.writeReply(w, env, h.greeting)
		return
	}
	h.log.Info("ignoring event", zap.String("event", env.Event))
	h.writeReply(w, env, "")
}

// handleText routes a text (or transcribed voice) message: enqueue the
// asynchronous work and acknowledge with an empty reply immediately.
// Returning the actual answer here would blow the platform's reply
// window and trigger a redelivery.
func (h *Handler) handleText(w http.ResponseWriter, env *model.InboundEnvelope, content string) {
	if h.dedupSet != nil && env.MsgID != "" && !h.dedupSet.Observe(env.MsgID) {
		metrics.DuplicatesSuppressedTotal.Inc()
		h.log.Info("duplicate delivery suppressed", zap.String("msg_id", env.MsgID))
		h.writeReply(w, env, "")
		return
	}

	if err := validateContent(content); err != nil {
		h.log.Warn("rejecting message content", zap.Error(err))
		h.writeReply(w, env, processingErrorReply)
		return
	}

	h.log.Info("text message received",
		zap.String("session", env.SessionKey()),
		zap.Int("chars", len([]rune(content))),
	)
	h.dispatcher.Dispatch(env.SessionKey(), content)
	h.writeReply(w, env, "")
}

func (h *Handler) writeReply(w http.ResponseWriter, env *model.InboundEnvelope, content string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, renderReply(env, content, h.now().Unix()))
}

// validateContent guards the dispatch path against junk input.
func validateContent(content string) error {
	if content == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}
