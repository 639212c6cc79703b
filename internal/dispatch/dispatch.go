// Package dispatch bridges the gateway's synchronous acknowledgment and
// the model API's slow round trip. Each inbound text message becomes one
// detached unit of work; completed replies flow over a channel to a
// delivery worker, keeping the decoupling an explicit, testable boundary.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/internal/llm"
	"github.com/luowen-ai/wechat-relay/internal/model"
	"github.com/luowen-ai/wechat-relay/internal/session"
	"github.com/luowen-ai/wechat-relay/pkg/logger"
	"github.com/luowen-ai/wechat-relay/pkg/metrics"
)

// DeliverFunc receives a completed (or failed) reply for a session. It
// ultimately resolves to the outbound push client's Send.
type DeliverFunc func(sessionKey, text string)

// reply is one completed unit of work.
type reply struct {
	sessionKey string
	text       string
}

// Dispatcher owns the detached inference work and the delivery worker.
type Dispatcher struct {
	store     *session.Store
	completer llm.Completer
	deliver   DeliverFunc
	log       *logger.Logger

	results  chan reply
	inflight sync.WaitGroup
	worker   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a dispatcher and starts its delivery worker.
func New(store *session.Store, completer llm.Completer, deliver DeliverFunc, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		completer: completer,
		deliver:   deliver,
		log:       log,
		results:   make(chan reply, 64),
	}
	d.worker.Add(1)
	go d.deliveryLoop()
	return d
}

func (d *Dispatcher) deliveryLoop() {
	defer d.worker.Done()
	for r := range d.results {
		d.deliver(r.sessionKey, r.text)
	}
}

// Dispatch spawns the detached unit of work for one text message. It
// returns immediately; the gateway has already acknowledged the webhook
// by the time the work completes.
func (d *Dispatcher) Dispatch(sessionKey, content string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("dispatcher closed, dropping message",
			zap.String("session", sessionKey),
		)
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	metrics.DispatchInFlight.Inc()
	go func() {
		defer d.inflight.Done()
		defer metrics.DispatchInFlight.Dec()
		d.results <- reply{sessionKey: sessionKey, text: d.process(sessionKey, content)}
	}()
}

// process runs inference for one message and returns the text to
// deliver: the assistant reply, or a user-facing error string. Failures
// never escape; the delivery callback always fires.
func (d *Dispatcher) process(sessionKey, content string) (out string) {
	log := d.log.WithSession(sessionKey)

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch unit panicked", zap.Any("panic", r))
			out = fmt.Sprintf("处理请求时发生错误: %v", r)
		}
	}()

	d.store.Append(sessionKey, model.ChatMessage{
		Role:    model.RoleUser,
		Content: content,
	})

	history := d.store.History(sessionKey)
	answer, err := d.completer.Complete(context.Background(), history)
	if err != nil {
		log.Error("completion failed", zap.Error(err))
		return fmt.Sprintf("很抱歉，无法获取回复。错误: %v", err)
	}

	d.store.Append(sessionKey, model.ChatMessage{
		Role:    model.RoleAssistant,
		Content: answer,
	})
	log.Info("dispatch unit completed", zap.Int("reply_chars", len([]rune(answer))))
	return answer
}

// Close stops intake, waits for in-flight units and drains the delivery
// worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	close(d.results)
	d.worker.Wait()
}
