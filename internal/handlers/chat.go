package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/fabell4/marion/internal/config"
	"github.com/fabell4/marion/internal/i18n"
	"github.com/fabell4/marion/internal/middleware"
	"github.com/fabell4/marion/internal/models"
	"github.com/fabell4/marion/internal/services/ai"
	"github.com/fabell4/marion/internal/services/cache"
	"github.com/fabell4/marion/internal/services/gate"
	"github.com/fabell4/marion/internal/services/prompt"
	"github.com/fabell4/marion/pkg/markdown"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	maxMessages      = 40
	defaultTemp      = 0.7
	maxTemp          = 1.5
	defaultMaxTokens = 512
	maxMaxTokens     = 1024
)

// ChatHandler serves the chat endpoints
type ChatHandler struct {
	config      *config.Config
	dispatcher  *ai.Dispatcher
	cache       cache.Service
	rateLimiter middleware.RateLimiter
	cors        *middleware.CORS
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
	wakeMode    gate.Mode
	injector    *prompt.Injector
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	cfg *config.Config,
	dispatcher *ai.Dispatcher,
	cacheService cache.Service,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *ChatHandler {
	return &ChatHandler{
		config:      cfg,
		dispatcher:  dispatcher,
		cache:       cacheService,
		rateLimiter: rateLimiter,
		cors:        middleware.NewCORS(cfg.Server.AllowedOrigins, logger),
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
		wakeMode:    gate.ParseMode(cfg.Assistant.WakeWordMode),
		injector:    prompt.NewInjector(cfg.Assistant.Name, cfg.Assistant.Timezone),
	}
}

// Router wires up all routes. The liveness and status endpoints sit
// outside the CORS middleware: /api/ping must answer unconditionally.
func (h *ChatHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", h.Root).Methods(http.MethodGet)
	router.HandleFunc("/api/ping", h.Ping).Methods(http.MethodGet)

	chat := router.PathPrefix("/api/chat").Subrouter()
	chat.Use(h.cors.Middleware)
	chat.HandleFunc("", h.Chat).Methods(http.MethodPost, http.MethodOptions)
	chat.HandleFunc("/stream", h.ChatStream).Methods(http.MethodPost, http.MethodOptions)

	return router
}

// Root reports which provider mode the proxy is running in
func (h *ChatHandler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "AI Assistant Proxy up. Mode: %s. POST /api/chat\n", h.config.Mode())
	h.metrics.RecordRequest(r.URL.Path, http.StatusOK)
}

// Ping is the liveness endpoint: no auth, no CORS, no rate limit
func (h *ChatHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// Chat runs the full pipeline: rate limit, wake word, context injection,
// provider dispatch with fallback. CORS runs before this handler.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.FromAcceptLanguage(r.Header.Get("Accept-Language"))

	req, msgID, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, lang, msgID, nil)
		return
	}

	if !h.admit(w, r, lang) {
		return
	}

	if err := gate.Check(req.Messages, h.wakeMode, h.config.Assistant.WakeWord); err != nil {
		h.metrics.RecordWakeWordBlocked()
		h.logger.WithField("client_ip", clientIP(r)).Debug("Wake word missing")
		h.writeError(w, r, http.StatusBadRequest, lang, i18n.MsgWakeWordRequired, nil)
		return
	}

	// Cache key is the raw conversation: the injected system message
	// carries the clock and would defeat caching.
	if reply, found := h.cache.Get(r.Context(), req.Messages, h.cacheModel()); found {
		h.metrics.RecordCacheHit()
		h.respond(w, r, reply, req.Format)
		return
	}
	h.metrics.RecordCacheMiss()

	messages := h.injector.Inject(req.Messages)

	reply, err := h.dispatcher.Dispatch(r.Context(), messages, requestOptions(req))
	if err != nil {
		h.dispatchError(w, r, lang, err)
		return
	}

	if err := h.cache.Set(r.Context(), req.Messages, h.cacheModel(), reply); err != nil {
		h.logger.WithError(err).Warn("Failed to cache reply")
	}

	h.respond(w, r, reply, req.Format)
}

// ChatStream runs the same pipeline but delivers the reply as SSE events
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.FromAcceptLanguage(r.Header.Get("Accept-Language"))

	req, msgID, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, lang, msgID, nil)
		return
	}

	if !h.admit(w, r, lang) {
		return
	}

	if err := gate.Check(req.Messages, h.wakeMode, h.config.Assistant.WakeWord); err != nil {
		h.metrics.RecordWakeWordBlocked()
		h.writeError(w, r, http.StatusBadRequest, lang, i18n.MsgWakeWordRequired, nil)
		return
	}

	messages := h.injector.Inject(req.Messages)

	events, err := h.dispatcher.Stream(r.Context(), messages, requestOptions(req))
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrStreamingUnavailable):
			h.writeError(w, r, http.StatusBadRequest, lang, i18n.MsgStreamingUnavailable, nil)
		case errors.Is(err, ai.ErrNoProvider):
			h.writeError(w, r, http.StatusInternalServerError, lang, i18n.MsgNoProvider, nil)
		default:
			h.writeError(w, r, http.StatusBadGateway, lang, i18n.MsgProviderFailed, nil)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, http.StatusInternalServerError, lang, i18n.MsgProviderFailed, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		if event.Err != nil {
			h.logger.WithError(event.Err).Warn("Stream failed mid-flight")
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", h.localizer.Get(lang, i18n.MsgProviderFailed, nil))
			flusher.Flush()
			h.metrics.RecordRequest(r.URL.Path, http.StatusBadGateway)
			return
		}

		payload, err := json.Marshal(map[string]string{"delta": event.Delta})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	h.metrics.RecordRequest(r.URL.Path, http.StatusOK)
}

// admit runs the rate limit check and writes the 429 response itself.
// Counters increment for every attempt that reaches this point, whether
// or not the request is ultimately served.
func (h *ChatHandler) admit(w http.ResponseWriter, r *http.Request, lang string) bool {
	ip := clientIP(r)
	decision := h.rateLimiter.Allow(r.Context(), ip)
	if decision.Allowed {
		return true
	}

	h.metrics.RecordRateLimitExceeded(decision.Scope)

	var msgID string
	switch decision.Scope {
	case middleware.ScopeDay:
		msgID = i18n.MsgRateLimitDay
	case middleware.ScopeGlobal:
		msgID = i18n.MsgRateLimitGlobal
	default:
		msgID = i18n.MsgRateLimitMinute
	}

	seconds := int(decision.RetryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))

	body := models.ErrorResponse{
		Error:      h.localizer.Get(lang, msgID, map[string]interface{}{"Seconds": seconds}),
		RetryAfter: seconds,
	}
	h.writeJSON(w, r, http.StatusTooManyRequests, body)
	return false
}

func (h *ChatHandler) dispatchError(w http.ResponseWriter, r *http.Request, lang string, err error) {
	ip := clientIP(r)
	h.logger.WithError(err).WithField("client_ip", ip).Error("Dispatch failed")

	switch {
	case errors.Is(err, ai.ErrNoProvider):
		h.writeError(w, r, http.StatusInternalServerError, lang, i18n.MsgNoProvider, nil)
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, lang, i18n.MsgProviderTimeout, nil)
	default:
		h.writeError(w, r, http.StatusBadGateway, lang, i18n.MsgProviderFailed, nil)
	}
}

func (h *ChatHandler) respond(w http.ResponseWriter, r *http.Request, reply *models.ChatReply, format string) {
	if format == "html" {
		// Render a copy: the cache may hold the original pointer
		rendered := *reply
		rendered.Reply = markdown.ToHTML(reply.Reply)
		reply = &rendered
	}
	h.writeJSON(w, r, http.StatusOK, reply)
}

func (h *ChatHandler) parseRequest(r *http.Request) (*models.ChatRequest, string, error) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, i18n.MsgInvalidBody, err
	}
	if len(req.Messages) == 0 {
		return nil, i18n.MsgMessagesRequired, errors.New("messages[] is required")
	}
	if len(req.Messages) > maxMessages {
		return nil, i18n.MsgTooManyMessages, errors.New("too many messages")
	}
	return &req, "", nil
}

func (h *ChatHandler) cacheModel() string {
	if h.config.Providers.OpenAI.APIKey != "" {
		return h.config.Providers.OpenAI.Model
	}
	return h.config.Providers.HuggingFace.Model
}

func (h *ChatHandler) writeError(w http.ResponseWriter, r *http.Request, status int, lang, msgID string, data map[string]interface{}) {
	h.writeJSON(w, r, status, models.ErrorResponse{Error: h.localizer.Get(lang, msgID, data)})
}

func (h *ChatHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
	h.metrics.RecordRequest(r.URL.Path, status)
}

// requestOptions clamps the generation knobs to the same bounds as the
// original deployment: temperature in [0, 1.5], max_tokens capped at 1024.
func requestOptions(req *models.ChatRequest) ai.Options {
	temp := defaultTemp
	if req.Temperature != nil {
		temp = *req.Temperature
		if temp < 0 {
			temp = 0
		}
		if temp > maxTemp {
			temp = maxTemp
		}
	}

	tokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		tokens = *req.MaxTokens
		if tokens > maxMaxTokens {
			tokens = maxMaxTokens
		}
	}

	return ai.Options{Temperature: temp, MaxTokens: tokens}
}

// clientIP derives the client identifier: first X-Forwarded-For entry if
// it parses as an IP, else the connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}
	return "0.0.0.0"
}
