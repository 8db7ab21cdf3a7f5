// Package audit records every command sent to Jeedom in the dispatch_audit
// table and serves it back for the dispatch history endpoint.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/jeedom-bridge/internal/dispatch"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one dispatched command.
type Entry struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	EntitySlug    string    `json:"entity_slug"`
	Action        string    `json:"action"`
	CmdID         int       `json:"cmd_id,omitempty"`
	Value         string    `json:"value,omitempty"`
	Transport     string    `json:"transport,omitempty"`
	Fallback      bool      `json:"fallback"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Source        string    `json:"source"`
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	EntitySlug string // optional: only this entity
	Source     string // optional: mqtt, api
	Success    *bool  // optional: only successes or only failures
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for dispatch audit operations.
type Repository interface {
	RecordDispatch(ctx context.Context, res *dispatch.Result) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores dispatch audit entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new dispatch audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordDispatch inserts one dispatch outcome.
func (r *SQLiteRepository) RecordDispatch(ctx context.Context, res *dispatch.Result) error {
	if res == nil {
		return fmt.Errorf("dispatch result is required")
	}
	at := res.At
	if at.IsZero() {
		at = time.Now()
	}
	source := res.Source
	if source == "" {
		source = "unknown"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dispatch_audit (id, correlation_id, entity_slug, action, cmd_id, value,
		   transport, fallback, success, error, source, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"dsp-"+uuid.NewString()[:8],
		res.CorrelationID, res.Slug, res.Action, res.CmdID,
		nullableString(res.Value),
		res.Transport, boolInt(res.Fallback), boolInt(res.Success),
		nullableString(res.Error),
		source, res.Duration.Milliseconds(),
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting dispatch audit: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // dynamic query builder: WHERE clause assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.EntitySlug != "" {
		conditions = append(conditions, "entity_slug = ?")
		args = append(args, filter.EntitySlug)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, boolInt(*filter.Success))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM dispatch_audit %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting dispatch audit: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, correlation_id, entity_slug, action, cmd_id, value, transport,
		        fallback, success, error, source, duration_ms, created_at
		   FROM dispatch_audit %s
		  ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dispatch audit: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var value, errText sql.NullString
		var fallback, success int
		var createdAt string

		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.EntitySlug, &e.Action, &e.CmdID,
			&value, &e.Transport, &fallback, &success, &errText, &e.Source,
			&e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning dispatch audit: %w", err)
		}
		e.Value = value.String
		e.Error = errText.String
		e.Fallback = fallback != 0
		e.Success = success != 0

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			t, err = time.Parse(time.RFC3339, createdAt)
			if err != nil {
				return nil, fmt.Errorf("parsing dispatch audit timestamp %q: %w", createdAt, err)
			}
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatch audit: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
