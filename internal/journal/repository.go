// Package journal persists diagnostic events and accepted zone edges to
// SQLite so they survive restarts and can be queried over the API.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size limits for List queries.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout keeps lexical order equal to time order in TEXT columns.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Diagnostic is a persisted diagnostic event.
type Diagnostic struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	DeviceClass string    `json:"device_class"`
	Message     string    `json:"message"`
	RaisedAt    time.Time `json:"raised_at"`
}

// Edge is a persisted accepted zone transition.
type Edge struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Device      string    `json:"device"`
	DeviceClass string    `json:"device_class"`
	Zone        string    `json:"zone"`
	State       string    `json:"state"`
	At          time.Time `json:"at"`
}

// Filter controls which rows List returns.
type Filter struct {
	DeviceClass string    // optional
	Kind        string    // optional, diagnostics only
	Zone        string    // optional, edges only
	Since       time.Time // optional, inclusive
	Limit       int       // default 50, max 500
	Offset      int
}

func (f *Filter) clamp() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// DiagnosticPage is one page of diagnostics, newest first.
type DiagnosticPage struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

// EdgePage is one page of edges, newest first.
type EdgePage struct {
	Edges  []Edge `json:"edges"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// Repository defines journal operations.
type Repository interface {
	RecordDiagnostic(ctx context.Context, d *Diagnostic) error
	RecordEdge(ctx context.Context, e *Edge) error
	ListDiagnostics(ctx context.Context, f Filter) (*DiagnosticPage, error)
	ListEdges(ctx context.Context, f Filter) (*EdgePage, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the journal in the tables created by the
// journal migration.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordDiagnostic inserts d. ID and RaisedAt are generated if empty.
func (r *SQLiteRepository) RecordDiagnostic(ctx context.Context, d *Diagnostic) error {
	if d.ID == "" {
		d.ID = "diag-" + uuid.NewString()
	}
	if d.RaisedAt.IsZero() {
		d.RaisedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO diagnostics (id, kind, device_class, message, raised_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Kind, d.DeviceClass, d.Message, formatTime(d.RaisedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting diagnostic: %w", err)
	}
	return nil
}

// RecordEdge inserts e. ID and At are generated if empty.
func (r *SQLiteRepository) RecordEdge(ctx context.Context, e *Edge) error {
	if e.ID == "" {
		e.ID = "edge-" + uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO edges (id, session_id, device, device_class, zone, state, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Device, e.DeviceClass, e.Zone, e.State, formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("inserting edge: %w", err)
	}
	return nil
}

// where builds a parameterised WHERE clause. Column names come from the
// caller, never from user input.
type where struct {
	conditions []string
	args       []any
}

func (w *where) add(cond string, arg any) {
	w.conditions = append(w.conditions, cond)
	w.args = append(w.args, arg)
}

func (w *where) String() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conditions, " AND ")
}

// ListDiagnostics returns diagnostics matching f, newest first.
func (r *SQLiteRepository) ListDiagnostics(ctx context.Context, f Filter) (*DiagnosticPage, error) {
	f.clamp()

	var w where
	if f.DeviceClass != "" {
		w.add("device_class = ?", f.DeviceClass)
	}
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if !f.Since.IsZero() {
		w.add("raised_at >= ?", formatTime(f.Since))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM diagnostics " + w.String() //nolint:gosec // parameterised
	if err := r.db.QueryRowContext(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting diagnostics: %w", err)
	}

	query := "SELECT id, kind, device_class, message, raised_at FROM diagnostics " + //nolint:gosec // parameterised
		w.String() + " ORDER BY raised_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(w.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying diagnostics: %w", err)
	}
	defer rows.Close()

	page := &DiagnosticPage{Diagnostics: []Diagnostic{}, Total: total, Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		var d Diagnostic
		var raisedAt string
		if err := rows.Scan(&d.ID, &d.Kind, &d.DeviceClass, &d.Message, &raisedAt); err != nil {
			return nil, fmt.Errorf("scanning diagnostic: %w", err)
		}
		if d.RaisedAt, err = parseTime(raisedAt); err != nil {
			return nil, err
		}
		page.Diagnostics = append(page.Diagnostics, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnostics: %w", err)
	}
	return page, nil
}

// ListEdges returns edges matching f, newest first.
func (r *SQLiteRepository) ListEdges(ctx context.Context, f Filter) (*EdgePage, error) {
	f.clamp()

	var w where
	if f.DeviceClass != "" {
		w.add("device_class = ?", f.DeviceClass)
	}
	if f.Zone != "" {
		w.add("zone = ?", f.Zone)
	}
	if !f.Since.IsZero() {
		w.add("at >= ?", formatTime(f.Since))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM edges " + w.String() //nolint:gosec // parameterised
	if err := r.db.QueryRowContext(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting edges: %w", err)
	}

	query := "SELECT id, session_id, device, device_class, zone, state, at FROM edges " + //nolint:gosec // parameterised
		w.String() + " ORDER BY at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(w.args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	page := &EdgePage{Edges: []Edge{}, Total: total, Limit: f.Limit, Offset: f.Offset}
	for rows.Next() {
		var e Edge
		var at string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Device, &e.DeviceClass, &e.Zone, &e.State, &at); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		page.Edges = append(page.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating edges: %w", err)
	}
	return page, nil
}

// Prune deletes diagnostics and edges older than before and returns the
// number of rows removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := formatTime(before)
	var removed int64
	for _, stmt := range []string{
		"DELETE FROM diagnostics WHERE raised_at < ?",
		"DELETE FROM edges WHERE at < ?",
	} {
		res, err := r.db.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return removed, fmt.Errorf("pruning journal: %w", err)
		}
		n, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports
		removed += n
	}
	return removed, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}
