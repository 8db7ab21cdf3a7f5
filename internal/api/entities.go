package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/dispatch"
)

// entityView is a descriptor with its last translated state.
type entityView struct {
	*device.EntityDescriptor
	State *device.EntityState `json:"current_state,omitempty"`
}

// commandRequest is the body of POST /entities/{slug}/commands.
type commandRequest struct {
	Action string `json:"action"`
	Value  any    `json:"value"`
}

// handleListEntities returns the last classification result.
//
// Query parameters:
//   - platform: filter by platform (switch, sensor, cover...)
//   - eqlogic_id: filter by owning device
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	var descs []*device.EntityDescriptor
	if raw := r.URL.Query().Get("eqlogic_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "eqlogic_id must be an integer")
			return
		}
		descs = s.entities.ForDevice(id)
	} else {
		descs = s.entities.All()
	}

	platform := r.URL.Query().Get("platform")
	if platform != "" {
		if _, ok := device.ParsePlatform(platform); !ok {
			writeBadRequest(w, "unknown platform")
			return
		}
	}

	entities := make([]entityView, 0, len(descs))
	for _, desc := range descs {
		if platform != "" && string(desc.Platform) != platform {
			continue
		}
		entities = append(entities, s.viewEntity(desc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// handleGetEntity returns one descriptor with its current state.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.entities.BySlug(chi.URLParam(r, "slug"))
	if !ok {
		writeNotFound(w, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, s.viewEntity(desc))
}

func (s *Server) viewEntity(desc *device.EntityDescriptor) entityView {
	v := entityView{EntityDescriptor: desc}
	if st, ok := s.entities.State(desc.Slug); ok {
		v.State = &st
	}
	return v
}

// handleEntityCommand dispatches an action to Jeedom and returns the result.
//
// Status codes:
//   - 200: command accepted by Jeedom
//   - 400: unsupported action or invalid value
//   - 404: unknown slug
//   - 502: both transports failed (the result body is still returned)
func (s *Server) handleEntityCommand(w http.ResponseWriter, r *http.Request) {
	var body commandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Action == "" && body.Value == nil {
		writeBadRequest(w, "action or value is required")
		return
	}

	res, err := s.bridge.Dispatch(r.Context(), dispatch.Request{
		Slug:   chi.URLParam(r, "slug"),
		Action: body.Action,
		Value:  body.Value,
		Source: "api",
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, dispatch.ErrUnresolvedEntity):
		writeNotFound(w, "entity not found")
	case errors.Is(err, dispatch.ErrUnsupportedAction), errors.Is(err, dispatch.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case res != nil:
		writeJSON(w, http.StatusBadGateway, res)
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
