package export

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinytrack/pkg/compaction"
	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/httpx"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// maxLoggedErrors caps per-record import errors written to the log.
const maxLoggedErrors = 10

// Handler handles trajectory export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	now      func() time.Time
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Store) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		now:      time.Now,
	}
}

// HandleExport handles GET /v1/trajectory/device/{id}/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - startTime: default endTime minus 24h
//   - endTime: default now
//   - mapId: optional map filter
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	opts, format, err := h.parseExport(id, r.URL.Query())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	name := fmt.Sprintf("tinytrack-%s-%s.%s",
		strings.ReplaceAll(opts.DeviceID.String(), ":", ""), h.now().Format("20060102-150405"), format)
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+name)

	var result *Result
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		// headers may already be out; the client sees a truncated body
		logging.Error().Err(err).Str("device", id).Str("format", format).Msg("trajectory export failed")
		return
	}

	logging.Info().
		Str("device", opts.DeviceID.String()).
		Str("format", format).
		Int("records", result.RecordsExported).
		Str("range", result.TimeRange).
		Msg("trajectory exported")
}

func (h *Handler) parseExport(id string, params url.Values) (Options, string, error) {
	var opts Options

	mac, err := tracking.ParseMAC(id)
	if err != nil {
		return opts, "", err
	}
	opts.DeviceID = mac

	format := params.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		return opts, "", errors.New("format must be json or csv")
	}

	opts.End = h.now().UTC()
	if v := params.Get("endTime"); v != "" {
		if opts.End, err = compaction.ParseQueryTime(v); err != nil {
			return opts, "", err
		}
	}
	opts.Start = opts.End.Add(-config.ExportDefaultWindow)
	if v := params.Get("startTime"); v != "" {
		if opts.Start, err = compaction.ParseQueryTime(v); err != nil {
			return opts, "", err
		}
	}
	if !opts.Start.Before(opts.End) {
		return opts, "", errors.New("startTime must be before endTime")
	}
	if opts.End.Sub(opts.Start) > config.ExportMaxWindow {
		return opts, "", fmt.Errorf("time range too large, maximum is %v", config.ExportMaxWindow)
	}

	if v := params.Get("mapId"); v != "" {
		mapID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return opts, "", errors.New("mapId must be an integer")
		}
		opts.MapID = &mapID
	}
	return opts, format, nil
}

// HandleImport handles POST /v1/trajectory/import with a JSON export document.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var doc Document
	if err := httpx.DecodeJSON(w, r, config.ImportMaxBodyBytes, &doc); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := h.importer.Import(r.Context(), doc)
	if err != nil {
		logging.Error().Err(err).Msg("trajectory import failed")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "import failed")
		return
	}

	if len(result.Errors) > 0 {
		ev := logging.Warn().Int("rejected", len(result.Errors))
		shown := result.Errors
		if len(shown) > maxLoggedErrors {
			shown = shown[:maxLoggedErrors]
		}
		ev.Strs("errors", shown).Msg("import skipped invalid records")
	}
	logging.Info().
		Int("records", result.RecordsImported).
		Int("batches", result.BatchesWritten).
		Int("partitions_created", result.PartitionsCreated).
		Str("range", result.TimeRange).
		Msg("trajectory imported")

	httpx.RespondJSON(w, http.StatusOK, result)
}
