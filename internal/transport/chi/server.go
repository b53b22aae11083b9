package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tagvault/tagvault/internal/domain"
	secretuc "github.com/tagvault/tagvault/internal/usecase/secret"
)

// Error codes returned in the body of non-2xx responses.
const (
	codeBadRequest         = "bad_request"
	codeValidationFailed   = "validation_failed"
	codeDuplicateContent   = "duplicate_content"
	codeBackendUnavailable = "backend_unavailable"
	codeInternalError      = "internal_error"
)

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the secret service over HTTP.
type Server struct {
	secrets        *secretuc.Service
	pinger         Pinger
	logger         *zap.Logger
	metricsHandler http.Handler
}

// NewServer creates an HTTP API server. pinger may be nil for backends
// without a liveness probe (file-based stores).
func NewServer(secrets *secretuc.Service, pinger Pinger, logger *zap.Logger) *Server {
	return &Server{
		secrets:        secrets,
		pinger:         pinger,
		logger:         logger,
		metricsHandler: promhttp.Handler(),
	}
}

// Routes mounts all API routes on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/secrets", s.KeepSecret)
	r.Get("/secrets", s.TellSecrets)
	r.Delete("/secrets/{id}", s.ForgetSecret)
	r.Get("/keys", s.ListKeys)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type keepRequest struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
	Owner  string `json:"owner,omitempty"`
}

type keepResponse struct {
	ID   string   `json:"id"`
	Keys []string `json:"keys"`
}

type matchResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Secret    string    `json:"secret"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

type matchListResponse struct {
	Items []matchResponse `json:"items"`
	Total int             `json:"total"`
}

type keyListResponse struct {
	Keys []string `json:"keys"`
}

// KeepSecret handles POST /secrets.
func (s *Server) KeepSecret(w http.ResponseWriter, r *http.Request) {
	var req keepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	keys, id, err := s.secrets.Keep(r.Context(), req.Key, req.Secret, req.Owner)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, keepResponse{ID: id, Keys: keys})
}

// TellSecrets handles GET /secrets?key=...&owner=...
func (s *Server) TellSecrets(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "key query parameter is required")
		return
	}
	owner := r.URL.Query().Get("owner")

	matches, err := s.secrets.Tell(r.Context(), key, owner)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]matchResponse, len(matches))
	for i, m := range matches {
		items[i] = matchResponse{
			ID:        m.ID(),
			Key:       m.Key(),
			Secret:    m.Payload(),
			Score:     m.Score(),
			CreatedAt: m.CreatedAt().UTC(),
		}
	}

	writeJSON(w, http.StatusOK, matchListResponse{Items: items, Total: len(items)})
}

// ForgetSecret handles DELETE /secrets/{id}?owner=...
func (s *Server) ForgetSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "secret id is required")
		return
	}
	owner := r.URL.Query().Get("owner")

	if err := s.secrets.Forget(r.Context(), id, owner); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListKeys handles GET /keys?owner=...
func (s *Server) ListKeys(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")

	keys, err := s.secrets.Tags(r.Context(), owner)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}

	writeJSON(w, http.StatusOK, keyListResponse{Keys: keys})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	checks := map[string]string{}

	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			checks["store"] = "down"
		} else {
			checks["store"] = "up"
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	s.metricsHandler.ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateContent):
		writeError(w, http.StatusConflict, codeDuplicateContent, domain.ErrDuplicateContent.Error())
	case errors.Is(err, domain.ErrBackendUnavailable):
		s.logger.Error("backend unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeBackendUnavailable, domain.ErrBackendUnavailable.Error())
	case errors.Is(err, domain.ErrInvalidSecret):
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
