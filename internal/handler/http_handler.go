package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
)

// HTTPHandler serves the approval engine as JSON over HTTP.
type HTTPHandler struct {
	engine Engine
	ping   func(ctx context.Context) error
	log    *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. ping backs /health and may be nil.
func NewHTTPHandler(engine Engine, ping func(ctx context.Context) error, log *logger.Logger) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{engine: engine, ping: ping, log: log.Named("http")}
}

// Routes registers every endpoint on a new mux.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/approvals/pending", h.ListPending)
	mux.HandleFunc("GET /api/v1/approvals/{type}/{id}", h.GetStatus)
	mux.HandleFunc("GET /api/v1/approvals/{type}/{id}/history", h.GetHistory)
	mux.HandleFunc("GET /api/v1/approvals/{type}/{id}/records", h.ListRecords)
	mux.HandleFunc("POST /api/v1/approvals/{type}/{id}/submit", h.Submit)
	mux.HandleFunc("POST /api/v1/approvals/{type}/{id}/act", h.Act)
	mux.HandleFunc("POST /api/v1/approvals/{type}/{id}/cancel", h.Cancel)
	return mux
}

// Health reports whether the backing store is reachable.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Health check failed")
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetStatus handles GET /api/v1/approvals/{type}/{id}.
func (h *HTTPHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	entityType, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	st, err := h.engine.GetStatus(r.Context(), entityType, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// GetHistory handles GET /api/v1/approvals/{type}/{id}/history.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entityType, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	items, err := h.engine.GetHistory(r.Context(), entityType, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ListRecords handles GET /api/v1/approvals/{type}/{id}/records.
func (h *HTTPHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	entityType, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	records, err := h.engine.ListRecords(r.Context(), entityType, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	type recordView struct {
		ID               string  `json:"id"`
		WorkflowID       string  `json:"workflow_id"`
		Status           string  `json:"status"`
		CurrentStep      int     `json:"current_step"`
		InitiatorID      string  `json:"initiator_id"`
		PreviousRecordID *string `json:"previous_record_id,omitempty"`
		CreatedAt        string  `json:"created_at"`
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			ID:               rec.ID,
			WorkflowID:       rec.WorkflowID,
			Status:           rec.Status,
			CurrentStep:      rec.CurrentStep,
			InitiatorID:      rec.InitiatorID,
			PreviousRecordID: rec.PreviousRecordID,
			CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"records": views})
}

// ListPending handles GET /api/v1/approvals/pending.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.ListPending(r.Context(), r.Header.Get(ActorHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": pending})
}

// Submit handles POST /api/v1/approvals/{type}/{id}/submit.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	entityType, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkflowID string `json:"workflow_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	st, err := h.engine.Submit(r.Context(), entityType, r.PathValue("id"), optional(req.WorkflowID), r.Header.Get(ActorHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, st)
}

// Act handles POST /api/v1/approvals/{type}/{id}/act.
func (h *HTTPHandler) Act(w http.ResponseWriter, r *http.Request) {
	entityType, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		Action  string `json:"action"`
		Comment string `json:"comment"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	st, err := h.engine.Act(r.Context(), entityType, r.PathValue("id"),
		parseAction(req.Action), req.Comment, r.Header.Get(ActorHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// Cancel handles POST /api/v1/approvals/{type}/{id}/cancel.
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	entityType, err := parseEntityType(r.PathValue("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	st, err := h.engine.Cancel(r.Context(), entityType, r.PathValue("id"), r.Header.Get(ActorHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// decode reads an optional JSON body into v.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	httpCode := httpStatus(code)

	msg := err.Error()
	if httpCode == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
		if code == errors.ErrCodeInternal {
			msg = internalMessage
		}
	}
	h.writeJSON(w, httpCode, map[string]string{"code": string(code), "error": msg})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("Failed to write response")
	}
}
