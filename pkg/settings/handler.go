package settings

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinytrack/pkg/httpx"
)

// View is the wire form of Settings. Durations are milliseconds.
type View struct {
	StorageIntervalMs  int64   `json:"storage_interval_ms"`
	TimeoutEnabled     bool    `json:"timeout_enabled"`
	TimeoutMs          int64   `json:"timeout_ms"`
	RetentionDays      int     `json:"retention_days"`
	DiskCleanupEnabled bool    `json:"disk_cleanup_enabled"`
	DiskSpaceThreshold float64 `json:"disk_space_threshold"`
}

// ViewOf converts a snapshot to its wire form.
func ViewOf(s Settings) View {
	return View{
		StorageIntervalMs:  s.StorageInterval.Milliseconds(),
		TimeoutEnabled:     s.TimeoutEnabled,
		TimeoutMs:          s.Timeout.Milliseconds(),
		RetentionDays:      s.RetentionDays,
		DiskCleanupEnabled: s.DiskCleanupEnabled,
		DiskSpaceThreshold: s.DiskSpaceThreshold,
	}
}

// Settings converts the wire form back into a snapshot.
func (v View) Settings() Settings {
	return Settings{
		StorageInterval:    time.Duration(v.StorageIntervalMs) * time.Millisecond,
		TimeoutEnabled:     v.TimeoutEnabled,
		Timeout:            time.Duration(v.TimeoutMs) * time.Millisecond,
		RetentionDays:      v.RetentionDays,
		DiskCleanupEnabled: v.DiskCleanupEnabled,
		DiskSpaceThreshold: v.DiskSpaceThreshold,
	}
}

// Handler serves the task settings endpoints.
type Handler struct {
	store *Store
}

// NewHandler creates a settings handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// HandleGet returns the current settings.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, ViewOf(h.store.Get()))
}

// HandleUpdate replaces the settings. Fields absent from the body keep their
// current value.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	view := ViewOf(h.store.Get())
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.store.Update(view.Settings()); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, ViewOf(h.store.Get()))
}
