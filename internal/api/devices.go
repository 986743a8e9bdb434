package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-iobridge/internal/board"
	"github.com/nerrad567/gray-logic-iobridge/internal/device"
)

// classStatus is the connection state of one device class.
type classStatus struct {
	Class device.Class `json:"class"`
	State device.State `json:"state"`
}

// setLEDRequest is the body of PUT /devices/led/{index}.
type setLEDRequest struct {
	Color string `json:"color"`
}

func (s *Server) classStates() []classStatus {
	out := make([]classStatus, 0, len(device.Classes()))
	for _, c := range device.Classes() {
		out = append(out, classStatus{Class: c, State: s.orch.State(c)})
	}
	return out
}

// handleListDevices returns registered drivers, per-class state and live
// sessions.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.orch.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":  devices,
		"count":    len(devices),
		"classes":  s.classStates(),
		"sessions": s.orch.Sessions(),
	})
}

// handleDeviceProperties returns the effective properties of the session
// for {class}.
func (s *Server) handleDeviceProperties(w http.ResponseWriter, r *http.Request) {
	class, err := device.ParseClass(chi.URLParam(r, "class"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	props, err := s.orch.DeviceProperties(class)
	if err != nil {
		if errors.Is(err, device.ErrNotConnected) {
			writeNotFound(w, "no session for "+string(class))
			return
		}
		writeInternalError(w, "failed to read device properties")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"class":      class,
		"properties": props,
	})
}

// rejectedDevice is one device POST /devices/connect could not connect.
type rejectedDevice struct {
	Device string       `json:"device"`
	Class  device.Class `json:"class"`
	Error  string       `json:"error"`
}

func rejectedDevices(err error) []rejectedDevice {
	rejected := make([]rejectedDevice, 0)
	for _, ce := range board.Rejected(err) {
		rejected = append(rejected, rejectedDevice{Device: ce.Device, Class: ce.Class, Error: ce.Err.Error()})
	}
	return rejected
}

// handleConnectDevices tears down every session and reconnects all
// configured devices. Devices rejected by validation are listed; the rest
// are connected regardless.
func (s *Server) handleConnectDevices(w http.ResponseWriter, r *http.Request) {
	err := s.board.Connect(r.Context())
	rejected := rejectedDevices(err)
	if err != nil {
		if len(rejected) == 0 {
			s.logger.Error("device connect failed", "error", err)
			writeInternalError(w, "failed to connect devices")
			return
		}
		s.logger.Warn("device connect rejected some devices", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"classes":  s.classStates(),
		"rejected": rejected,
	})
}

// handleResetDevices stops every session.
func (s *Server) handleResetDevices(w http.ResponseWriter, _ *http.Request) {
	s.orch.Reset()
	writeJSON(w, http.StatusOK, map[string]any{
		"classes": s.classStates(),
	})
}

// handleSetLED writes one LED of the connected LED device.
func (s *Server) handleSetLED(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "LED index must be an integer")
		return
	}

	var req setLEDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	color, err := device.ParseColor(req.Color)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	err = s.orch.SetLED(r.Context(), index, color)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"index": index,
			"color": color.Hex(),
		})
	case errors.Is(err, device.ErrLEDIndex):
		writeBadRequest(w, err.Error())
	case errors.Is(err, device.ErrNotConnected), errors.Is(err, device.ErrNotSupported):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		s.logger.Warn("LED write failed", "index", index, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeDevice, err.Error())
	}
}
