package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
	"github.com/nerrad567/anpr-simulator/internal/generator"
	"github.com/nerrad567/anpr-simulator/internal/trigger"
)

// BarrierRequest is the optional body of POST /api/v1/barrier/open.
type BarrierRequest struct {
	DurationMS int `json:"duration_ms"`
}

// GeneratorRequest is the body of POST /api/v1/generator.
type GeneratorRequest struct {
	Enabled bool `json:"enabled"`

	// Rate in plates per second. Zero keeps the configured rate.
	Rate float64 `json:"rate"`
}

// GeneratorStatus reports the automatic recognition generator.
type GeneratorStatus struct {
	Enabled bool    `json:"enabled"`
	Rate    float64 `json:"rate"`
}

func (s *Server) generatorStatus() GeneratorStatus {
	return GeneratorStatus{Enabled: s.generator.Enabled(), Rate: s.generator.Rate()}
}

// handleGetState returns a read-only snapshot of the whole device.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Read()

	barrier := map[string]any{"open": st.BarrierOpen}
	if st.BarrierOpen {
		barrier["closeAt"] = events.FormatDate(st.BarrierCloseDeadline)
	}

	var last any
	if st.LastRecognition != nil {
		last = events.ANPR(*st.LastRecognition)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"identity": map[string]any{
			"name":            st.Identity.Name,
			"type":            st.Identity.Type,
			"serial":          st.Identity.Serial,
			"firmwareVersion": st.Identity.FirmwareVersion,
			"macAddress":      st.Identity.MACAddress,
			"ipAddress":       st.Identity.IPAddress,
		},
		"locked":          st.Locked,
		"lockPasswordSet": st.LockPasswordSet(),
		"configAllowed":   st.ConfigAllowed,
		"barrier":         barrier,
		"plates":          st.Plates(),
		"lastRecognition": last,
		"counters":        st.Counters,
		"simulation":      st.Simulation,
		"generator":       s.generatorStatus(),
		"subscribers":     s.broadcaster.Len(),
	})
}

// handleOpenBarrier opens the barrier like the openBarrier command.
// The body is optional; duration_ms overrides the configured delay.
func (s *Server) handleOpenBarrier(w http.ResponseWriter, r *http.Request) {
	var req BarrierRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.DurationMS < 0 || req.DurationMS > device.MaxBarrierOpenMS {
		writeError(w, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("duration_ms must be between 0 and %d", device.MaxBarrierOpenMS))
		return
	}

	deadline, err := s.barrier.Open(time.Duration(req.DurationMS) * time.Millisecond)
	if err != nil {
		s.logger.Error("barrier open failed", "error", err)
		writeInternalError(w, "failed to open barrier")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"open":    true,
		"closeAt": events.FormatDate(deadline),
	})
}

// handleCloseBarrier closes the barrier immediately.
func (s *Server) handleCloseBarrier(w http.ResponseWriter, _ *http.Request) {
	if err := s.barrier.CloseNow(); err != nil {
		s.logger.Error("barrier close failed", "error", err)
		writeInternalError(w, "failed to close barrier")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": false})
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Read().Simulation)
}

// handlePutSimulation merges the body onto the current settings, so
// omitted fields keep their values. A running generator follows a changed rate.
func (s *Server) handlePutSimulation(w http.ResponseWriter, r *http.Request) {
	settings := s.store.Read().Simulation
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ch, err := s.store.Mutate(func(tx *device.Tx) error {
		return tx.SetSimulation(settings)
	})
	if errors.Is(err, device.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("simulation update failed", "error", err)
		writeInternalError(w, "failed to update simulation settings")
		return
	}
	s.broadcaster.PublishChange(ch)

	if s.generator.Enabled() && settings.GeneratorRate > 0 {
		if err := s.generator.Enable(settings.GeneratorRate); err != nil {
			s.logger.Warn("generator rate not applied", "rate", settings.GeneratorRate, "error", err)
		}
	}

	s.logger.Info("simulation settings updated",
		"success_rate", settings.SuccessRate,
		"error_rate", settings.ErrorRate,
	)
	writeJSON(w, http.StatusOK, s.store.Read().Simulation)
}

func (s *Server) handleGetGenerator(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.generatorStatus())
}

// handleSetGenerator starts or stops automatic recognitions.
func (s *Server) handleSetGenerator(w http.ResponseWriter, r *http.Request) {
	var req GeneratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !req.Enabled {
		s.generator.Disable()
		writeJSON(w, http.StatusOK, s.generatorStatus())
		return
	}

	rate := req.Rate
	if rate == 0 {
		rate = s.store.Read().Simulation.GeneratorRate
	}
	if err := s.generator.Enable(rate); err != nil {
		if errors.Is(err, generator.ErrInvalidRate) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "rate must be a positive number of plates per second")
			return
		}
		writeInternalError(w, "failed to start generator")
		return
	}
	writeJSON(w, http.StatusOK, s.generatorStatus())
}

// handleGetTrigger returns a pending session or one still within retention.
func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "trigger id must be a positive integer")
		return
	}

	sess, ok := s.triggers.Get(id)
	if !ok {
		writeNotFound(w, "trigger session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func sessionView(sess trigger.Session) map[string]any {
	view := map[string]any{
		"id":        sess.ID,
		"cameraId":  sess.CameraID,
		"state":     sess.State.String(),
		"startedAt": events.FormatDate(sess.StartedAt),
		"deadline":  events.FormatDate(sess.Deadline),
	}
	if !sess.EndedAt.IsZero() {
		view["endedAt"] = events.FormatDate(sess.EndedAt)
	}
	if sess.Result != nil {
		view["anpr"] = events.ANPR(*sess.Result)
	}
	return view
}

// handleJournal lists recent journaled events, newest first.
//
// Query parameters: category (optional), limit (default 50, max 500).
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event journal is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), r.URL.Query().Get("category"), limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleCommands lists the supported CDK commands.
func (s *Server) handleCommands(w http.ResponseWriter, _ *http.Request) {
	names := s.dispatcher.Commands()
	var locked []string
	for _, name := range names {
		if s.dispatcher.LockRequired(name) {
			locked = append(locked, name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands":     names,
		"lockRequired": locked,
	})
}
