package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/jeedom-bridge/internal/bridges/jeedom"
	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/overrides"
)

// eventTopicPrefix rebuilds the bus topic of an event posted over HTTP.
const eventTopicPrefix = "jeedom/cmd/event/"

// handleDiscovery ingests one eqLogic discovery payload.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "unreadable body")
		return
	}

	out, err := s.bridge.HandleDiscovery(payload)
	switch {
	case err == nil:
	case errors.Is(err, jeedom.ErrParse):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, device.ErrIdentityConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	default:
		s.logger.Error("discovery ingest failed", "error", err)
		writeInternalError(w, "discovery ingest failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"eqlogic_id": out.DeviceID,
		"entities":   out.Descriptors,
		"removed":    out.Removed,
		"moved":      out.Moved,
		"skipped":    out.Skipped,
	})
}

// handleEvent routes one value event for the command in the path.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	cmdID, err := strconv.Atoi(chi.URLParam(r, "cmdID"))
	if err != nil || cmdID <= 0 {
		writeBadRequest(w, "command id must be a positive integer")
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "unreadable body")
		return
	}

	u, err := s.bridge.HandleEvent(eventTopicPrefix+strconv.Itoa(cmdID), payload)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if u.Present && !u.Known {
		writeNotFound(w, "command not discovered")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleReloadOverrides reloads the override document and reclassifies
// every known device. A rejected document leaves the previous one active.
func (s *Server) handleReloadOverrides(w http.ResponseWriter, _ *http.Request) {
	n, err := s.bridge.ReloadOverrides()
	if err != nil {
		if errors.Is(err, overrides.ErrConfig) {
			writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
			return
		}
		writeInternalError(w, "override reload failed")
		return
	}
	stats := s.bridge.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"reclassified": n,
		"entities":     stats.Entities,
		"rules":        stats.OverrideRules,
	})
}
