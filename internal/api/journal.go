package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/journal"
)

// handleJournal returns persisted diagnostics or edges, newest first.
//
// Query parameters:
//   - type: "diagnostics" (default) or "edges"
//   - class: filter by device class
//   - kind: filter by diagnostic kind (diagnostics only)
//   - zone: filter by zone name (edges only)
//   - since: RFC 3339 lower bound, inclusive
//   - limit: max results (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal not configured")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		DeviceClass: q.Get("class"),
		Kind:        q.Get("kind"),
		Zone:        q.Get("zone"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	var (
		result any
		err    error
	)
	switch q.Get("type") {
	case "", "diagnostics":
		result, err = s.journal.ListDiagnostics(r.Context(), filter)
	case "edges":
		result, err = s.journal.ListEdges(r.Context(), filter)
	default:
		writeBadRequest(w, "type must be diagnostics or edges")
		return
	}
	if err != nil {
		s.logger.Error("failed to list journal", "type", q.Get("type"), "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
