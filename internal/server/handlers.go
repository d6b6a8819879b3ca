package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/presence"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store       presence.Store
	hub         *Hub
	logger      *slog.Logger
	startedAt   time.Time
	version     string
	openapiSpec []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Hub, OpenAPISpec.
type HandlersDeps struct {
	Store       presence.Store
	Hub         *Hub
	Logger      *slog.Logger
	Version     string
	OpenAPISpec []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		store:       d.Store,
		hub:         d.Hub,
		logger:      d.Logger,
		startedAt:   time.Now(),
		version:     d.Version,
		openapiSpec: d.OpenAPISpec,
	}
}

// HandleStatus handles GET /status?client_id=<id>. The stored record is
// returned as-is, however old it is.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if strings.TrimSpace(clientID) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidArgument, "client_id is required")
		return
	}

	rec, err := h.store.Get(r.Context(), clientID)
	if errors.Is(err, presence.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no status for client_id")
		return
	}
	if err != nil {
		h.logger.Error("status: lookup failed", "error", err, "client_id", clientID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := model.HealthResponse{
		OK:        true,
		Version:   h.version,
		Sessions:  h.store.Len(),
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
		Timestamp: time.Now().UTC(),
	}
	if h.hub != nil {
		resp.Connections = h.hub.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
