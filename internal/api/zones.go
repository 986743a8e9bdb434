package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-iobridge/internal/board"
)

// handleListZones returns every indicator with its current state. The
// snapshot is taken on the consumer goroutine.
//
// Query parameters:
//   - group: "touch" or "button" (optional)
//   - active: "true" to return only lit indicators
func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	var indicators []board.IndicatorState
	if err := s.query(r.Context(), func() { indicators = s.board.Indicators() }); err != nil {
		s.logger.Warn("zone snapshot failed", "error", err)
		writeUnavailable(w, "consumer loop did not respond")
		return
	}

	q := r.URL.Query()
	group := q.Get("group")
	activeOnly := q.Get("active") == "true"

	out := indicators[:0]
	for _, ind := range indicators {
		if group != "" && ind.Group != group {
			continue
		}
		if activeOnly && !ind.Active {
			continue
		}
		out = append(out, ind)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"zones": out,
		"count": len(out),
	})
}
