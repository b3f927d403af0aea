package geofence

import (
	"net/http"

	"github.com/nicktill/tinytrack/pkg/httpx"
)

// HandleActiveAlarms lists the open alarms.
func (e *Engine) HandleActiveAlarms(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, e.ActiveAlarms())
}
