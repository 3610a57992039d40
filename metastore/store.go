// Package metastore implements the time series metadata index: a relational
// table binding physical time series to components, variable names, and
// user attributes, with the reference-counting gate that guards physical
// deletion.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/logging"
	"github.com/gridkit/tsstore/timeseries"
)

const tableName = "time_series_metadata"

// Query filters metadata rows. Empty fields match any value; Attributes
// are matched subset-exact: every supplied key/value pair must equal the
// stored attribute, extra stored attributes do not disqualify a row.
type Query struct {
	Variable   string
	SeriesType string
	Attributes map[string]any
}

// Store is the metadata index. It lives in an owned in-memory database and
// is never persisted: on reload it is rebuilt through normal adds.
type Store struct {
	log *slog.Logger
	db  *sql.DB
}

// New creates the index with its schema.
func New() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	// An in-memory SQLite database exists per connection; more than one
	// connection would silently split the table.
	db.SetMaxOpenConns(1)

	s := &Store{log: logging.Component("metastore"), db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE %s (
			id INTEGER PRIMARY KEY,
			time_series_id INTEGER NOT NULL,
			component_id INTEGER NOT NULL,
			component_type TEXT NOT NULL,
			variable_name TEXT NOT NULL,
			time_series_type TEXT NOT NULL,
			initial_time TEXT NOT NULL,
			resolution_ns INTEGER NOT NULL,
			length INTEGER NOT NULL,
			units TEXT NOT NULL,
			normalization TEXT,
			user_attributes TEXT NOT NULL
		);
		CREATE INDEX by_component ON %s (component_id, component_type);
		CREATE INDEX by_series ON %s (time_series_id);
	`, tableName, tableName, tableName)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create metadata schema: %w", err)
	}
	s.log.Debug("created metadata table")
	return nil
}

// Add inserts one metadata row per component the series is attached to.
func (s *Store) Add(ctx context.Context, md timeseries.Metadata, components ...timeseries.Component) error {
	smd, ok := md.(*timeseries.SingleTimeSeriesMetadata)
	if !ok {
		return errors.NewUnimplementedType("time series metadata type", md)
	}

	attrs, err := marshalAttributes(smd.Attributes)
	if err != nil {
		return err
	}
	norm, err := marshalNormalization(smd.Normalization)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		time_series_id, component_id, component_type, variable_name,
		time_series_type, initial_time, resolution_ns, length, units,
		normalization, user_attributes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableName)

	for _, c := range components {
		if _, err := tx.ExecContext(ctx, query,
			smd.TimeSeriesID, c.ComponentID(), c.ComponentType(), smd.VariableName,
			smd.SeriesType(), smd.InitialTime.UTC().Format(time.RFC3339Nano),
			int64(smd.Resolution), smd.Length, smd.Units, norm, attrs,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert metadata row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.log.Debug("added metadata rows", "series_id", smd.TimeSeriesID,
		"variable", smd.VariableName, "components", len(components))
	return nil
}

// HasTimeSeries reports whether any metadata row references the physical id.
func (s *Store) HasTimeSeries(ctx context.Context, id int64) (bool, error) {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE time_series_id = ?)", tableName)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe time series reference: %w", err)
	}
	return exists, nil
}

// HasMetadata reports whether the component has metadata matching the query.
func (s *Store) HasMetadata(ctx context.Context, c timeseries.Component, q Query) (bool, error) {
	matches, _, err := s.listRows(ctx, c, q)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// GetMetadata returns the single metadata row matching the query. Zero
// matches is a not-stored error; more than one is an ambiguous-match error
// that the caller must resolve with stricter filters.
func (s *Store) GetMetadata(ctx context.Context, c timeseries.Component, q Query) (timeseries.Metadata, error) {
	matches, _, err := s.listRows(ctx, c, q)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, errors.Wrapf(errors.ErrMetadataNotStored,
			"component %s id=%d variable=%q", c.ComponentType(), c.ComponentID(), q.Variable)
	case 1:
		return matches[0], nil
	default:
		return nil, errors.Wrapf(errors.ErrAmbiguousMatch,
			"component %s id=%d variable=%q matched %d rows",
			c.ComponentType(), c.ComponentID(), q.Variable, len(matches))
	}
}

// ListMetadata returns all metadata rows matching the query, in insertion
// order.
func (s *Store) ListMetadata(ctx context.Context, c timeseries.Component, q Query) ([]timeseries.Metadata, error) {
	matches, _, err := s.listRows(ctx, c, q)
	return matches, err
}

// Remove deletes all rows matching the query across the given components
// and returns the distinct physical ids the deleted rows referenced.
// Returns a not-stored error if nothing matched.
func (s *Store) Remove(ctx context.Context, q Query, components ...timeseries.Component) ([]int64, error) {
	var rowIDs []int64
	var seriesIDs []int64
	seen := make(map[int64]bool)

	for _, c := range components {
		matches, ids, err := s.listRows(ctx, c, q)
		if err != nil {
			return nil, err
		}
		rowIDs = append(rowIDs, ids...)
		for _, md := range matches {
			if id := md.SeriesID(); !seen[id] {
				seen[id] = true
				seriesIDs = append(seriesIDs, id)
			}
		}
	}
	if len(rowIDs) == 0 {
		return nil, errors.Wrapf(errors.ErrMetadataNotStored,
			"no time series metadata matched variable=%q across %d components", q.Variable, len(components))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rowIDs)), ",")
	args := make([]interface{}, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", tableName, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("delete metadata rows: %w", err)
	}

	s.log.Debug("removed metadata rows", "rows", len(rowIDs), "series", len(seriesIDs))
	return seriesIDs, nil
}

// ListMissingTimeSeries returns the subset of ids with zero remaining
// metadata references. Only these ids may be physically deleted; an array
// still referenced by a surviving metadata row must be kept.
func (s *Store) ListMissingTimeSeries(ctx context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	for _, id := range ids {
		exists, err := s.HasTimeSeries(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Close closes the index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// listRows fetches candidate rows by component and SQL-filterable fields,
// then applies the attribute predicate. Returns metadata and matching
// internal row ids in insertion order.
func (s *Store) listRows(ctx context.Context, c timeseries.Component, q Query) ([]timeseries.Metadata, []int64, error) {
	where := "component_id = ? AND component_type = ?"
	args := []interface{}{c.ComponentID(), c.ComponentType()}
	if q.Variable != "" {
		where += " AND variable_name = ?"
		args = append(args, q.Variable)
	}
	if q.SeriesType != "" {
		where += " AND time_series_type = ?"
		args = append(args, q.SeriesType)
	}

	query := fmt.Sprintf(`SELECT id, time_series_id, variable_name, time_series_type,
		initial_time, resolution_ns, length, units, normalization, user_attributes
		FROM %s WHERE %s ORDER BY id`, tableName, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	var matches []timeseries.Metadata
	var rowIDs []int64
	for rows.Next() {
		var (
			rowID        int64
			seriesID     int64
			variable     string
			seriesType   string
			initialTime  string
			resolutionNs int64
			length       int
			units        string
			norm         sql.NullString
			attrsJSON    string
		)
		if err := rows.Scan(&rowID, &seriesID, &variable, &seriesType, &initialTime,
			&resolutionNs, &length, &units, &norm, &attrsJSON); err != nil {
			return nil, nil, fmt.Errorf("scan metadata row: %w", err)
		}

		md, err := buildMetadata(seriesID, variable, seriesType, initialTime,
			resolutionNs, length, units, norm, attrsJSON)
		if err != nil {
			return nil, nil, err
		}
		if !matchesAttributes(md.UserAttributes(), q.Attributes) {
			continue
		}
		matches = append(matches, md)
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate metadata rows: %w", err)
	}
	return matches, rowIDs, nil
}

func buildMetadata(seriesID int64, variable, seriesType, initialTime string,
	resolutionNs int64, length int, units string, norm sql.NullString, attrsJSON string,
) (timeseries.Metadata, error) {
	if seriesType != timeseries.TypeSingleTimeSeries {
		return nil, errors.Wrapf(errors.ErrUnimplemented, "time series type %q", seriesType)
	}

	initial, err := time.Parse(time.RFC3339Nano, initialTime)
	if err != nil {
		return nil, fmt.Errorf("parse initial time: %w", err)
	}

	var normalization *timeseries.Normalization
	if norm.Valid && norm.String != "" {
		normalization = &timeseries.Normalization{}
		if err := json.Unmarshal([]byte(norm.String), normalization); err != nil {
			return nil, fmt.Errorf("decode normalization: %w", err)
		}
	}

	var attrs map[string]any
	if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
		return nil, fmt.Errorf("decode user attributes: %w", err)
	}

	return &timeseries.SingleTimeSeriesMetadata{
		TimeSeriesID:  seriesID,
		VariableName:  variable,
		InitialTime:   initial,
		Resolution:    time.Duration(resolutionNs),
		Length:        length,
		Units:         units,
		Normalization: normalization,
		Attributes:    attrs,
	}, nil
}

func marshalAttributes(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode user attributes: %w", err)
	}
	return string(data), nil
}

func marshalNormalization(n *timeseries.Normalization) (sql.NullString, error) {
	if n == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode normalization: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// matchesAttributes applies the subset-exact attribute predicate. Values
// are compared through their JSON encodings so that numeric types survive
// the round trip through the attribute bag.
func matchesAttributes(stored, want map[string]any) bool {
	for key, wantVal := range want {
		storedVal, ok := stored[key]
		if !ok {
			return false
		}
		if !jsonEqual(storedVal, wantVal) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
