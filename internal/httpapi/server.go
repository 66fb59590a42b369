package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/geoqueue/internal/geoqueue"
)

const (
	maxBodyBytes          = 4 << 20
	websocketWriteTimeout = 5 * time.Second
)

type ServerConfig struct {
	Admission *geoqueue.AdmissionController
	Queue     *geoqueue.PendingQueue
	Outcomes  *geoqueue.OutcomeIndex
	Engine    *geoqueue.SyncEngine
	Monitor   geoqueue.ConnectivityMonitor
	Bus       *geoqueue.Bus
	Logger    *slog.Logger
	AuthToken string
}

// Server exposes the management API: mutation submission, queue and
// outcome inspection, status, the manual connectivity toggle, and a
// websocket stream of emitted events.
type Server struct {
	admission *geoqueue.AdmissionController
	queue     *geoqueue.PendingQueue
	outcomes  *geoqueue.OutcomeIndex
	engine    *geoqueue.SyncEngine
	monitor   geoqueue.ConnectivityMonitor
	bus       *geoqueue.Bus
	logger    *slog.Logger
	authToken string
	schema    *jsonschema.Schema
	router    chi.Router
}

func NewServer(cfg ServerConfig) (*Server, error) {
	schema, err := compileMutationSchema()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		admission: cfg.Admission,
		queue:     cfg.Queue,
		outcomes:  cfg.Outcomes,
		engine:    cfg.Engine,
		monitor:   cfg.Monitor,
		bus:       cfg.Bus,
		logger:    logger,
		authToken: strings.TrimSpace(cfg.AuthToken),
		schema:    schema,
	}
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/v1/mutations", s.handleSubmit)
		r.Get("/v1/queue", s.handleListQueue)
		r.Delete("/v1/queue", s.handleRemoveQueued)
		r.Get("/v1/outcomes", s.handleListOutcomes)
		r.Get("/v1/outcomes/{remoteID}", s.handleFindOutcome)
		r.Get("/v1/status", s.handleStatus)
		r.Post("/v1/connectivity", s.handleConnectivity)
		r.Get("/v1/events", s.handleEvents)
	})
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authErr := authorizeBearer(r.Header.Get("Authorization"), s.authToken); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	Operation  string            `json:"operation"`
	LayerID    string            `json:"layerId"`
	RemoteID   string            `json:"remoteId"`
	Geometry   geoqueue.Geometry `json:"geometry"`
	Attributes map[string]any    `json:"attributes"`
}

type submitResponse struct {
	Status        geoqueue.AdmissionStatus `json:"status"`
	CorrelationID string                   `json:"correlationId"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if err := s.schema.Validate(instance); err != nil {
		writeError(w, http.StatusBadRequest, "schema_violation", err.Error())
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	op, ok := geoqueue.ParseOperation(req.Operation)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown operation")
		return
	}
	correlationID := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	result, err := s.admission.Submit(r.Context(), op, req.LayerID, req.RemoteID, req.Geometry, req.Attributes,
		func(edit geoqueue.EditResult, submitErr error) {
			if submitErr != nil {
				s.logger.Warn("direct submission failed", "correlationId", correlationID, "error", submitErr)
				return
			}
			s.logger.Info("direct submission completed",
				"correlationId", correlationID, "success", edit.Success, "assignedId", edit.AssignedID)
		})
	if err != nil {
		switch {
		case errors.Is(err, geoqueue.ErrQuotaNearFull):
			writeError(w, http.StatusInsufficientStorage, "quota_near_full", err.Error())
		case errors.Is(err, geoqueue.ErrQuotaExceeded):
			writeError(w, http.StatusInsufficientStorage, "quota_exceeded", err.Error())
		case errors.Is(err, geoqueue.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, geoqueue.ErrStoreWrite):
			writeError(w, http.StatusServiceUnavailable, "store_write_failed", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	status := http.StatusAccepted
	if result.Status == geoqueue.AdmissionDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, submitResponse{Status: result.Status, CorrelationID: correlationID})
}

func (s *Server) handleListQueue(w http.ResponseWriter, _ *http.Request) {
	mutations, err := s.queue.ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": mutations,
		"count": len(mutations),
	})
}

type removeRequest struct {
	Record   string `json:"record"`
	LayerID  string `json:"layerId"`
	RemoteID string `json:"remoteId"`
}

func (s *Server) handleRemoveQueued(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	var removed bool
	var err error
	switch {
	case strings.TrimSpace(req.Record) != "":
		removed, err = s.queue.RemoveByContent(req.Record)
	case strings.TrimSpace(req.LayerID) != "" && strings.TrimSpace(req.RemoteID) != "":
		removed, err = s.queue.RemoveByLayerAndRemoteID(req.LayerID, req.RemoteID)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "record or layerId+remoteId required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, _ *http.Request) {
	outcomes, err := s.outcomes.ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": outcomes,
		"count": len(outcomes),
	})
}

func (s *Server) handleFindOutcome(w http.ResponseWriter, r *http.Request) {
	remoteID := chi.URLParam(r, "remoteID")
	outcome, ok, err := s.outcomes.Find(remoteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no outcome for "+remoteID)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	depth, err := s.queue.Len()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	occupancy, err := s.admission.Occupancy()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":          s.engine.State(),
		"online":         s.monitor.Online(),
		"queueDepth":     depth,
		"occupancyBytes": occupancy,
		"budgetBytes":    s.admission.BudgetBytes(),
	})
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	manual, ok := s.monitor.(*geoqueue.ManualMonitor)
	if !ok {
		writeError(w, http.StatusConflict, "not_manual", "connectivity is not manually controlled")
		return
	}
	var req connectivityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	manual.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

// handleEvents streams bus events over a websocket. A slow consumer has
// events dropped rather than blocking the engine.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events := make(chan geoqueue.Event, 64)
	cancel := s.bus.Subscribe(func(event geoqueue.Event) {
		select {
		case events <- event:
		default:
		}
	})
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			writeCtx, writeCancel := context.WithTimeout(ctx, websocketWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
