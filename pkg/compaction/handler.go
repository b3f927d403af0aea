package compaction

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/httpx"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// HandleDeviceTrajectory handles
// GET /v1/trajectory/device/{id}/history?mapId&startTime&endTime&page&size
func (c *Compactor) HandleDeviceTrajectory(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(mux.Vars(r)["id"], r.URL.Query())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.TrajectoryQueryTimeout)
	defer cancel()

	records, err := c.DeviceTrajectory(ctx, q)
	if errors.Is(err, ErrInvalidQuery) {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("device", q.DeviceID).Msg("trajectory query failed")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "trajectory query failed")
		return
	}
	if records == nil {
		records = []storage.Record{}
	}
	httpx.RespondJSON(w, http.StatusOK, records)
}

func parseQuery(id string, params url.Values) (Query, error) {
	q := Query{DeviceID: id}

	if v := params.Get("mapId"); v != "" {
		mapID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, errors.New("mapId must be an integer")
		}
		q.MapID = &mapID
	}
	if v := params.Get("startTime"); v != "" {
		t, err := ParseQueryTime(v)
		if err != nil {
			return q, err
		}
		q.Start = &t
	}
	if v := params.Get("endTime"); v != "" {
		t, err := ParseQueryTime(v)
		if err != nil {
			return q, err
		}
		q.End = &t
	}
	if v := params.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return q, errors.New("page must be an integer")
		}
		q.Page = page
	}
	if v := params.Get("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return q, errors.New("size must be an integer")
		}
		q.Size = size
	}
	return q, nil
}
