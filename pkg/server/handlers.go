package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/nicktill/tinytrack/pkg/export"
	"github.com/nicktill/tinytrack/pkg/httpx"
	"github.com/nicktill/tinytrack/pkg/ingest"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/server/monitor"
	"github.com/nicktill/tinytrack/pkg/settings"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// storageStatsTimeout bounds the partition scan behind /v1/storage.
const storageStatsTimeout = 10 * time.Second

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string                   `json:"status"`
	Version    string                   `json:"version"`
	Uptime     string                   `json:"uptime"`
	Catalog    string                   `json:"catalog"`
	Viewers    int                      `json:"viewers"`
	Compaction monitor.CompactionStatus `json:"compaction"`
}

// StorageResponse combines filesystem usage with trajectory table stats.
type StorageResponse struct {
	monitor.StorageUsage
	Trajectory *storage.Stats `json:"trajectory"`
}

// handleHealth returns service health status. Compaction failing or the
// catalog circuit being open makes the service degraded.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	compactionStatus := a.CompactionMonitor.Status()
	breaker := a.Catalog.State()

	overallStatus := "healthy"
	statusCode := http.StatusOK
	if !compactionStatus.Healthy || breaker == gobreaker.StateOpen {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, statusCode, HealthResponse{
		Status:     overallStatus,
		Version:    Version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Catalog:    breaker.String(),
		Viewers:    a.Hub.Viewers(),
		Compaction: compactionStatus,
	})
}

// handleStorageUsage returns current storage usage.
func (a *App) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storageStatsTimeout)
	defer cancel()

	usage, err := a.StorageMonitor.Usage(ctx)
	if err != nil {
		logging.Error().Err(err).Str("dir", a.StorageMonitor.DataDir()).Msg("failed to calculate storage usage")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to calculate storage usage")
		return
	}
	stats, err := a.Trajectory.Stats(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("failed to read trajectory stats")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to read trajectory stats")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StorageResponse{StorageUsage: usage, Trajectory: stats})
}

// Router configures all HTTP routes for the server.
func (a *App) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware(strconv.Itoa(a.Config.Server.Port)))
	router.Use(httpx.RequestLogger(routeTemplate))

	ingestHandler := ingest.NewHandler(a.Pipeline, a.State, a.Config.Ingest.MaxBodyBytes)
	settingsHandler := settings.NewHandler(a.Settings)
	exportHandler := export.NewHandler(a.Trajectory)

	api := router.PathPrefix("/v1").Subrouter()

	// Ingestion
	api.HandleFunc("/tracking-sample", ingestHandler.HandleSample).Methods(http.MethodPost)
	api.HandleFunc("/tracking-samples/batch", ingestHandler.HandleBatch).Methods(http.MethodPost)
	api.HandleFunc("/tracking-samples/batch-async", ingestHandler.HandleBatchAsync).Methods(http.MethodPost)

	// Hot state
	api.HandleFunc("/device/{id}/latest", ingestHandler.HandleLatest).Methods(http.MethodGet)
	api.HandleFunc("/device/{id}/history", ingestHandler.HandleHistory).Methods(http.MethodGet)
	api.HandleFunc("/devices", ingestHandler.HandleDevices).Methods(http.MethodGet)

	// Trajectory
	api.HandleFunc("/trajectory/device/{id}/history", a.Compactor.HandleDeviceTrajectory).Methods(http.MethodGet)
	api.HandleFunc("/trajectory/device/{id}/export", exportHandler.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/trajectory/import", exportHandler.HandleImport).Methods(http.MethodPost)

	// Alarms and task settings
	api.HandleFunc("/alarms/active", a.Engine.HandleActiveAlarms).Methods(http.MethodGet)
	api.HandleFunc("/tasks/config", settingsHandler.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/tasks/config", settingsHandler.HandleUpdate).Methods(http.MethodPut)

	// Operations
	api.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/storage", a.handleStorageUsage).Methods(http.MethodGet)
	api.HandleFunc("/ws", a.Hub.HandleWebSocket).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

// routeTemplate labels request metrics by mux route template.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
