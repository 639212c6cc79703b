// Package main is the entry point for the relay server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/internal/config"
	"github.com/luowen-ai/wechat-relay/internal/dedup"
	"github.com/luowen-ai/wechat-relay/internal/dispatch"
	"github.com/luowen-ai/wechat-relay/internal/gateway"
	"github.com/luowen-ai/wechat-relay/internal/llm"
	"github.com/luowen-ai/wechat-relay/internal/middleware"
	"github.com/luowen-ai/wechat-relay/internal/model"
	"github.com/luowen-ai/wechat-relay/internal/session"
	"github.com/luowen-ai/wechat-relay/internal/wechat"
	"github.com/luowen-ai/wechat-relay/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting relay server")
	warnMissingConfig(cfg, log)

	// Shared outbound HTTP client, proxy-aware
	httpc, err := newHTTPClient(cfg.ProxyURL)
	if err != nil {
		log.Error("invalid proxy configuration", zap.Error(err))
		os.Exit(1)
	}

	// Credential cache and push client
	tokens := wechat.NewTokenCache(cfg.WeChatAppID, cfg.WeChatAppSecret, cfg.WeChatAPIBase, httpc, log)
	pusher := wechat.NewClient(tokens, cfg.WeChatAPIBase, httpc, log)

	// Model API client
	completer, err := llm.New(llm.Config{
		APIBase:    cfg.ModelAPIBase,
		APIKey:     cfg.ModelAPIKey,
		Model:      cfg.ModelName,
		AppID:      cfg.ModelAppID,
		Timeout:    cfg.ModelTimeout,
		MaxRetries: cfg.ModelMaxRetries,
		ProxyURL:   cfg.ProxyURL,
	}, log)
	if err != nil {
		log.Error("failed to create model client", zap.Error(err))
		os.Exit(1)
	}

	// Conversation store and dispatcher
	store := session.NewStore(cfg.SystemPrompt, cfg.ConversationMaxTokens)
	dispatcher := dispatch.New(store, completer, func(sessionKey, text string) {
		userID := model.UserIDFromSessionKey(sessionKey)
		if err := pusher.Send(context.Background(), userID, text); err != nil {
			log.Error("delivery failed",
				zap.String("session", sessionKey),
				zap.Error(err),
			)
		}
	}, log)

	// Dedup set (optional)
	var dedupSet *dedup.Set
	if cfg.DedupEnabled {
		dedupSet = dedup.NewSet(cfg.DedupMaxSize)
	}

	// Webhook handler
	handler := gateway.NewHandler(dispatcher, dedupSet, cfg.SubscribeGreeting, log)

	// Create router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/wechat", func(r chi.Router) {
		r.Use(middleware.SignatureCheck(cfg.WeChatToken, log))
		r.Get("/", handler.Verify)
		r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).
			Post("/", handler.Receive)
	})

	// Create HTTP server. The error log filter keeps transport churn
	// from the platform's infrastructure out of the application logs.
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     gateway.NewServerErrorLog(log),
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Let in-flight dispatch units finish their deliveries.
	dispatcher.Close()

	log.Info("server stopped")
}

func newHTTPClient(proxyURL string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport}, nil
}

func warnMissingConfig(cfg *config.Config, log *logger.Logger) {
	if cfg.WeChatToken == "" {
		log.Warn("WECHAT_TOKEN not set, callback signatures will not be checked")
	}
	if cfg.ModelAPIKey == "" {
		log.Warn("MODEL_API_KEY not set, completion calls will fail")
	}
	if cfg.ModelName == llm.ModelAppScoped && cfg.ModelAppID == "" {
		log.Warn("application-scoped model selected but MODEL_APP_ID not set")
	}
	if cfg.SystemPrompt == "" {
		log.Warn("SYSTEM_PROMPT not set, sessions start without a persona")
	}
}
