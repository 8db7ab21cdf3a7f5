package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/jeedom-bridge/internal/audit"
)

// handleListDispatches returns the dispatch history, most recent first.
//
// Query parameters:
//   - slug: filter by entity
//   - source: filter by origin (mqtt, api)
//   - success: true or false
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "dispatch audit not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		EntitySlug: q.Get("slug"),
		Source:     q.Get("source"),
	}
	if raw := q.Get("success"); raw != "" {
		ok, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "success must be true or false")
			return
		}
		filter.Success = &ok
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing dispatches failed", "error", err)
		writeInternalError(w, "failed to list dispatches")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
