package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/retrotalk/internal/config"
	"github.com/ent0n29/retrotalk/internal/observability"
	"github.com/ent0n29/retrotalk/internal/retroruntime"
	"github.com/ent0n29/retrotalk/internal/retrospect"
)

// UserHeader carries the caller identity. There is no authentication; the
// header only selects whose retrospects are addressed.
const UserHeader = "X-User-ID"

type Server struct {
	cfg      config.Config
	service  *retroruntime.Service
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, service *retroruntime.Service, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
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
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/retrospects", func(r chi.Router) {
		r.Get("/", s.handleListRetrospects)
		r.Post("/", s.handleCreateRetrospect)
		r.Get("/ws", s.handleRetrospectWS)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRetrospect)
			r.Delete("/", s.handleDeleteRetrospect)
			r.Post("/pin", s.handleTogglePin)
			r.Post("/finish", s.handleFinish)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handleSendMessage)
			r.Post("/chat/pin", s.handleChatTogglePin)
			r.Post("/chat/finish", s.handleChatFinish)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.service.StoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"store_mode":         s.service.StoreMode(),
		"lock_mode":          s.service.LockMode(),
		"assistant_provider": s.service.AssistantProvider(),
		"resident_users":     s.service.ResidentUsers(),
	})
}

// userID resolves the caller from the header, then the user_id query param
// (browsers cannot set headers on websocket upgrades), then the default.
func (s *Server) userID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(UserHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("user_id")); v != "" {
		return v
	}
	return s.cfg.DefaultUserID
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		evt := s.logger.Debug()
		if status >= 500 {
			evt = s.logger.Warn()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
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
	dec := json.NewDecoder(r.Body)
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

// respondServiceError maps an operation failure onto its HTTP status.
func respondServiceError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), retroruntime.ErrorCode(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, retroruntime.ErrMissingUser), errors.Is(err, retrospect.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, retrospect.ErrLimitExceeded),
		errors.Is(err, retrospect.ErrAlreadyFinished),
		errors.Is(err, retrospect.ErrRetrospectEnded):
		return http.StatusConflict
	case errors.Is(err, retrospect.ErrInvalidRetrospect):
		return http.StatusNotFound
	case errors.Is(err, retrospect.ErrCreationFailed):
		return http.StatusInternalServerError
	case errors.Is(err, retrospect.ErrAssistant):
		return http.StatusBadGateway
	case errors.Is(err, retrospect.ErrStorage), errors.Is(err, retroruntime.ErrLockUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
