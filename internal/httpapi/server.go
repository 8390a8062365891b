package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clerk/internal/chat"
	"github.com/ent0n29/clerk/internal/config"
	"github.com/ent0n29/clerk/internal/observability"
	"github.com/ent0n29/clerk/internal/session"
)

// ChatService runs conversation turns.
type ChatService interface {
	Send(ctx context.Context, in chat.SendInput) (chat.SendOutput, error)
	End(conversationID string) bool
}

type PromptSettings interface {
	Get() string
	Set(prompt string) error
}

type CartReader interface {
	GetCart(conversationID string) (*session.Cart, bool)
}

// CatalogInfo reports how many products were loaded at startup.
type CatalogInfo interface {
	Len() int
}

type Dependencies struct {
	Chat    ChatService
	Prompts PromptSettings
	Carts   CartReader
	Catalog CatalogInfo
	Metrics *observability.Metrics
	Logger  logrus.FieldLogger
}

type Server struct {
	cfg      config.Config
	chat     ChatService
	prompts  PromptSettings
	carts    CartReader
	catalog  CatalogInfo
	metrics  *observability.Metrics
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:     cfg,
		chat:    deps.Chat,
		prompts: deps.Prompts,
		carts:   deps.Carts,
		catalog: deps.Catalog,
		metrics: deps.Metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the page's own origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/chat/ws", s.handleChatWS)
		r.Delete("/chat/{conversationId}", s.handleEndChat)
		r.Get("/system-prompt", s.handleGetSystemPrompt)
		r.Post("/system-prompt", s.handleSetSystemPrompt)
		r.Get("/cart/{conversationId}", s.handleGetCart)
		r.Get("/perf/latency", s.handlePerfLatency)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	products := 0
	if s.catalog != nil {
		products = s.catalog.Len()
	}
	if s.chat == nil || products == 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":           "not_ready",
			"catalog_products": products,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"catalog_products": products,
	})
}

type chatRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversationId"`
	Reply          string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a message")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message must not be empty")
		return
	}

	out, err := s.chat.Send(r.Context(), chat.SendInput{
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		status, code := chatErrorStatus(err)
		if status >= http.StatusInternalServerError {
			observability.LoggerFromContext(r.Context()).WithError(err).Error("chat turn failed")
		}
		respondError(w, status, code, publicMessage(err))
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{ConversationID: out.ConversationID, Reply: out.Reply})
}

func (s *Server) handleEndChat(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "conversationId"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "missing conversation id")
		return
	}
	s.chat.End(id)
	w.WriteHeader(http.StatusNoContent)
}

type systemPromptRequest struct {
	SystemPrompt string `json:"systemPrompt"`
}

func (s *Server) handleGetSystemPrompt(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"prompt": s.prompts.Get()})
}

func (s *Server) handleSetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	var req systemPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a systemPrompt")
		return
	}
	if err := s.prompts.Set(req.SystemPrompt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "System prompt has been updated."})
}

type cartResponse struct {
	ConversationID string             `json:"conversationId"`
	Items          []session.CartItem `json:"items"`
	Total          float64            `json:"total"`
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "conversationId"))
	cart, ok := s.carts.GetCart(id)
	if !ok {
		respondError(w, http.StatusNotFound, "cart_not_found", "no cart for this conversation")
		return
	}
	items := cart.Items
	if items == nil {
		items = []session.CartItem{}
	}
	respondJSON(w, http.StatusOK, cartResponse{
		ConversationID: cart.ConversationID,
		Items:          items,
		Total:          math.Round(cart.Total()*100) / 100,
	})
}

func chatErrorStatus(err error) (int, string) {
	var chatErr *chat.Error
	switch {
	case errors.As(err, &chatErr) && chatErr.Code == chat.ErrorInvalidInput:
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request_canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func publicMessage(err error) string {
	var chatErr *chat.Error
	if errors.As(err, &chatErr) && chatErr.Code == chat.ErrorInvalidInput {
		return chatErr.Reason
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "request canceled"
	}
	return "internal error"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
