package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/jeedom-bridge/internal/device"
)

// deviceView is a registered device with the entities it currently emits.
type deviceView struct {
	*device.Device
	Entities []string `json:"entities"`
}

// handleListDevices returns every registered device ordered by id.
//
// Query parameters:
//   - eq_type: filter by Jeedom plugin (zwavejs, virtual...)
//   - category: filter by Jeedom category (light, opening...)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	eqType := r.URL.Query().Get("eq_type")
	category := r.URL.Query().Get("category")

	devices := make([]deviceView, 0, s.registry.Count())
	for _, d := range s.registry.List() {
		if eqType != "" && d.EqType != eqType {
			continue
		}
		if category != "" && !d.HasCategory(device.Category(category)) {
			continue
		}
		devices = append(devices, s.viewDevice(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device with its commands and last values.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeBadRequest(w, "device id must be a positive integer")
		return
	}
	d, ok := s.registry.Lookup(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.viewDevice(d))
}

func (s *Server) viewDevice(d *device.Device) deviceView {
	descs := s.entities.ForDevice(d.ID)
	slugs := make([]string, 0, len(descs))
	for _, desc := range descs {
		slugs = append(slugs, desc.Slug)
	}
	return deviceView{Device: d, Entities: slugs}
}
