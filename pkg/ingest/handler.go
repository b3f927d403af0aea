package ingest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/hotstate"
	"github.com/nicktill/tinytrack/pkg/httpx"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/tracking"
	"github.com/nicktill/tinytrack/pkg/workerpool"
)

// Handler serves sample ingestion and hot state reads.
type Handler struct {
	pipeline *Pipeline
	state    hotstate.Store
	maxBody  int64
}

// NewHandler creates a new ingest handler
func NewHandler(pipeline *Pipeline, state hotstate.Store, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = config.IngestMaxBodyBytes
	}
	return &Handler{pipeline: pipeline, state: state, maxBody: maxBody}
}

// HandleSample handles POST /v1/tracking-sample
func (h *Handler) HandleSample(w http.ResponseWriter, r *http.Request) {
	var report tracking.Report
	if err := httpx.DecodeJSON(w, r, h.maxBody, &report); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := ValidateReport(report); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.pipeline.Submit(r.Context(), report); err != nil {
		h.respondSubmitError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleBatch handles POST /v1/tracking-samples/batch. It returns once every
// sample is broadcast and queued.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var reports []tracking.Report
	if err := httpx.DecodeJSON(w, r, h.maxBody, &reports); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := ValidateBatch(reports); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.pipeline.SubmitBatch(r.Context(), reports); err != nil {
		h.respondSubmitError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleBatchAsync handles POST /v1/tracking-samples/batch-async. The batch
// is accepted before any sample is processed.
func (h *Handler) HandleBatchAsync(w http.ResponseWriter, r *http.Request) {
	var reports []tracking.Report
	if err := httpx.DecodeJSON(w, r, h.maxBody, &reports); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := ValidateBatch(reports); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.pipeline.SubmitAsync(reports); err != nil {
		h.respondSubmitError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) respondSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, workerpool.ErrQueueFull) {
		w.Header().Set("Retry-After", "1")
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "ingestion queue is full")
		return
	}
	if errors.Is(err, workerpool.ErrPoolClosed) {
		httpx.RespondErrorString(w, http.StatusInternalServerError, "ingestion is shutting down")
		return
	}
	logging.Error().Err(err).Msg("sample submission failed")
	httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to submit samples")
}

// HandleLatest handles GET /v1/device/{id}/latest
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	id := tracking.CanonicalID(mux.Vars(r)["id"])

	s, ok, err := h.state.Latest(r.Context(), id)
	if err != nil {
		logging.Error().Err(err).Str("device", id).Msg("failed to read latest sample")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to read device state")
		return
	}
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "no recent samples for device")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, s)
}

// HandleHistory handles GET /v1/device/{id}/history?limit=N
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := tracking.CanonicalID(mux.Vars(r)["id"])

	limit := config.IngestDefaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, config.IngestMaxHistory)
	}

	history, err := h.state.History(r.Context(), id, limit)
	if err != nil {
		logging.Error().Err(err).Str("device", id).Msg("failed to read history")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to read device state")
		return
	}
	if history == nil {
		history = []tracking.Sample{}
	}
	httpx.RespondJSON(w, http.StatusOK, history)
}

// HandleDevices handles GET /v1/devices
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	ids, err := h.state.ActiveDevices(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("failed to list active devices")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.RespondJSON(w, http.StatusOK, ids)
}
