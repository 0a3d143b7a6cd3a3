package outbound

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// handleStatus reports vehicle health. It never returns 503: a dead store
// shows up as db_ok=false so the fleet server can still mark the vehicle seen.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	dbOk := true
	var lastAt *string
	last, err := s.measurements.LastMeasurementAt()
	if err != nil {
		s.logger.Warn("status: last measurement probe failed", zap.Error(err))
		dbOk = false
	} else if last != nil {
		lastAt = models.FormatTimePtr(last)
	}

	writeJSON(w, http.StatusOK, models.StatusPayload{
		VehicleIDHint:     s.opts.VehicleIDHint,
		SoftwareVersion:   s.opts.Version,
		UptimeSec:         int64(s.now().Sub(s.startedAt).Seconds()),
		CollectorRunning:  s.latest.FreshWithin(r.Context(), s.opts.LatestMaxAge),
		AgentRunning:      s.probePort(s.opts.AgentPort),
		DBOk:              dbOk,
		LastMeasurementAt: lastAt,
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	configs, err := s.channels.ListAll()
	if err != nil {
		s.logger.Error("list channels", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unavailable")
		return
	}

	out := make([]models.ChannelPayload, 0, len(configs))
	for _, c := range configs {
		out = append(out, models.ChannelPayload{
			ChannelID:  c.ChannelID,
			Name:       c.Name,
			Unit:       c.Unit,
			RawMin:     c.RawMin,
			RawMax:     c.RawMax,
			PhysMin:    c.PhysMin,
			PhysMax:    c.PhysMax,
			SignalType: c.SignalType,
			Enabled:    c.Enabled,
			UpdatedAt:  models.FormatTime(c.UpdatedAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.parseWindow(w, r)
	if !ok {
		return
	}

	var channelID *int
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_params", "channel_id must be an integer")
			return
		}
		channelID = &id
	}

	limit := s.opts.RowLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_params", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > s.opts.RowCap {
		limit = s.opts.RowCap
	}

	rows, truncated, err := s.measurements.Window(from, to, channelID, limit)
	if err != nil {
		s.logger.Error("data window query", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, models.DataPayload{
		From:      models.FormatTime(from),
		To:        models.FormatTime(to),
		Count:     len(rows),
		Truncated: truncated,
		Rows:      rows,
	})
}

// handleDataLatest serves the last value per channel. The acquisition cycle
// keeps a cache entry hot; when it is fresh the store is not touched at all.
func (s *Server) handleDataLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.latest.FreshWithin(ctx, s.opts.LatestMaxAge) {
		cycle, err := s.latest.Load(ctx)
		if err == nil {
			rows := make([]models.DataRow, 0, len(cycle.Readings))
			for _, rd := range cycle.Readings {
				rows = append(rows, models.DataRow{
					ChannelID: rd.ChannelID,
					Value:     rd.Value,
					Time:      cycle.CycleTime,
				})
			}
			writeJSON(w, http.StatusOK, rows)
			return
		}
		s.logger.Warn("latest cache read failed, falling back to store", zap.Error(err))
	}

	rows, err := s.measurements.LatestPerChannel()
	if err != nil {
		s.logger.Error("latest per channel query", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.parseWindow(w, r)
	if !ok {
		return
	}
	unresolvedOnly := r.URL.Query().Get("unresolved_only") == "true"

	alarms, err := s.alarms.Window(from, to, unresolvedOnly)
	if err != nil {
		s.logger.Error("alarm window query", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, alarms)
}

// parseWindow validates the from/to query pair shared by /data and /alarms.
func (s *Server) parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	from, err := models.ParseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "from is required and must be an ISO8601 timestamp")
		return time.Time{}, time.Time{}, false
	}
	to, err := models.ParseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "to is required and must be an ISO8601 timestamp")
		return time.Time{}, time.Time{}, false
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "invalid_params", "from must be before to")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
