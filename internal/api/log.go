package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
)

// logLine is one diagnostic log entry with its rendered text.
type logLine struct {
	diagnostic.Entry
	Text string `json:"text"`
}

// handleLog returns the in-memory diagnostic log, oldest first.
//
// Query parameters:
//   - limit: return only the newest N entries
//   - format: "text" for "HH:MM:SS:mmm - text" lines as text/plain
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var (
		entries []diagnostic.Entry
		total   uint64
	)
	err := s.query(r.Context(), func() {
		entries = s.board.Log().Entries()
		total = s.board.Log().Total()
	})
	if err != nil {
		s.logger.Warn("log snapshot failed", "error", err)
		writeUnavailable(w, "consumer loop did not respond")
		return
	}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}

	if q.Get("format") == "text" {
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.String())
			b.WriteByte('\n')
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // Best-effort write to response; connection may be closed
		w.Write([]byte(b.String()))
		return
	}

	lines := make([]logLine, len(entries))
	for i, e := range entries {
		lines[i] = logLine{Entry: e, Text: e.String()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": lines,
		"count":   len(lines),
		"total":   total,
	})
}
