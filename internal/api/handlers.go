package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reedholm/skymirror/internal/device"
	"github.com/reedholm/skymirror/internal/hub"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connection": s.mirror.ConnectionState(),
		"last_error": s.mirror.LastError(),
		"devices":    len(s.mirror.Devices()),
		"cameras":    len(s.mirror.Cameras()),
		"bases":      len(s.mirror.BaseStations()),
		"locations":  len(s.mirror.Locations()),
		"ws_clients": s.wsClientCount(),
	})
}

// deviceSummary is the shared JSON shape for device listings.
func deviceSummary(d device.Device) map[string]any {
	return map[string]any{
		"id":       d.DeviceID(),
		"name":     d.Name(),
		"type":     d.DeviceType(),
		"model":    d.ModelID(),
		"state":    d.State(),
		"battery":  d.Attribute(device.KeyBattery, nil),
		"signal":   d.Attribute(device.KeySignalStrength, nil),
		"resource": d.ResourceID(),
	}
}

func cameraSummary(c *device.Camera) map[string]any {
	summary := deviceSummary(c)
	summary["recently_active"] = c.WasRecentlyActive()
	summary["captured_today"] = c.Attribute(device.KeyCapturedToday, 0)
	summary["last_capture"] = c.Attribute(device.KeyLastCapture, nil)
	summary["activity"] = c.Attribute(device.KeyActivityState, "idle")
	return summary
}

func baseSummary(b *device.Base) map[string]any {
	summary := deviceSummary(b)
	summary["mode"] = b.Mode()
	summary["available_modes"] = b.AvailableModes()
	summary["schedule"] = b.Modes().Schedule()
	return summary
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.mirror.Devices()
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceSummary(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d := s.mirror.LookupDevice(chi.URLParam(r, "id"))
	if d == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, http.StatusOK, deviceSummary(d))
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	cameras := s.mirror.Cameras()
	out := make([]map[string]any, 0, len(cameras))
	for _, c := range cameras {
		out = append(out, cameraSummary(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	c := s.mirror.LookupCamera(chi.URLParam(r, "id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "unknown camera")
		return
	}
	writeJSON(w, http.StatusOK, cameraSummary(c))
}

// handleGetSnapshot serves the cached image bytes. It never triggers a
// capture; POST the snapshot endpoint for that.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	c := s.mirror.LookupCamera(chi.URLParam(r, "id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "unknown camera")
		return
	}
	img := c.LastImage()
	if len(img) == 0 {
		writeError(w, http.StatusNotFound, "no image captured yet")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Write(img)
}

func (s *Server) handleRequestSnapshot(w http.ResponseWriter, r *http.Request) {
	c := s.mirror.LookupCamera(chi.URLParam(r, "id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "unknown camera")
		return
	}
	c.RequestSnapshot()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleListBases(w http.ResponseWriter, r *http.Request) {
	bases := s.mirror.BaseStations()
	out := make([]map[string]any, 0, len(bases))
	for _, b := range bases {
		out = append(out, baseSummary(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBase(w http.ResponseWriter, r *http.Request) {
	b := s.mirror.LookupBase(chi.URLParam(r, "id"))
	if b == nil {
		writeError(w, http.StatusNotFound, "unknown base station")
		return
	}
	writeJSON(w, http.StatusOK, baseSummary(b))
}

// modeRequest is the arming request body; the mode may be a display name
// or a server id.
type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetBaseMode(w http.ResponseWriter, r *http.Request) {
	b := s.mirror.LookupBase(chi.URLParam(r, "id"))
	if b == nil {
		writeError(w, http.StatusNotFound, "unknown base station")
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}
	b.SetMode(req.Mode)
	writeJSON(w, http.StatusAccepted, map[string]string{"requested": req.Mode, "mode": b.Mode()})
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locations := s.mirror.Locations()
	out := make([]map[string]any, 0, len(locations))
	for _, l := range locations {
		out = append(out, map[string]any{
			"id":              l.ID(),
			"name":            l.Name(),
			"mode":            l.Mode(),
			"available_modes": l.AvailableModes(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetLocationMode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var target *device.Location
	for _, l := range s.mirror.Locations() {
		if l.ID() == id {
			target = l
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "unknown location")
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}
	target.SetMode(req.Mode)
	writeJSON(w, http.StatusAccepted, map[string]string{"requested": req.Mode, "mode": target.Mode()})
}

// recordingDTO is the JSON shape of one library entry.
type recordingDTO struct {
	CameraID     string    `json:"camera_id"`
	Created      time.Time `json:"created"`
	ContentType  string    `json:"content_type"`
	Object       string    `json:"object"`
	URL          string    `json:"url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
}

func toRecordingDTOs(recordings []hub.Recording) []recordingDTO {
	out := make([]recordingDTO, 0, len(recordings))
	for _, rec := range recordings {
		out = append(out, recordingDTO{
			CameraID:     rec.CameraID,
			Created:      rec.Created,
			ContentType:  rec.ContentType,
			Object:       rec.ObjectName,
			URL:          rec.URL,
			ThumbnailURL: rec.ThumbnailURL,
		})
	}
	return out
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toRecordingDTOs(s.mirror.Recordings()))
}

func (s *Server) handleCameraRecordings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.mirror.LookupCamera(id) == nil {
		writeError(w, http.StatusNotFound, "unknown camera")
		return
	}
	writeJSON(w, http.StatusOK, toRecordingDTOs(s.mirror.RecordingsFor(id)))
}
