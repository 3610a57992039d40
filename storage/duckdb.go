package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/logging"
	"github.com/gridkit/tsstore/timeseries"
)

const duckTableName = "time_series"

// maxRowsPerInsert bounds the parameter count of one multi-row INSERT.
// 3 columns * 500 rows = 1500 parameters per statement.
const maxRowsPerInsert = 500

// DuckDBBackend stores all time series in a single embedded database file,
// one wide table (id, timestamp, value) indexed by id.
type DuckDBBackend struct {
	log      *slog.Logger
	db       *sql.DB
	path     string
	engine   string
	ownsFile bool
	readOnly bool
}

// NewDuckDBBackend creates a fresh writable store against a new temporary
// database file under baseDir (or the system temp directory when baseDir is
// empty). The file is deleted on Close.
func NewDuckDBBackend(baseDir, engine string) (*DuckDBBackend, error) {
	if err := checkEngine(engine); err != nil {
		return nil, err
	}
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	}
	path, err := tempPath(baseDir, "time-series-*.db")
	if err != nil {
		return nil, fmt.Errorf("reserve database path: %w", err)
	}

	b, err := openDuckDB(path, engine, true, false)
	if err != nil {
		return nil, err
	}
	b.log.Debug("created database", "path", path)
	return b, nil
}

// CopyDuckDBFile creates a writable store by copying an existing database
// snapshot into a new temporary file under dstDir. Mutations never touch
// the original snapshot.
func CopyDuckDBFile(src, dstDir, engine string) (*DuckDBBackend, error) {
	if err := checkEngine(engine); err != nil {
		return nil, err
	}
	if dstDir != "" {
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return nil, fmt.Errorf("create destination directory: %w", err)
		}
	}
	path, err := tempPath(dstDir, "time-series-*.db")
	if err != nil {
		return nil, fmt.Errorf("reserve database path: %w", err)
	}
	if err := copyFile(src, path); err != nil {
		return nil, fmt.Errorf("copy database file: %w", err)
	}
	return openDuckDB(path, engine, true, false)
}

// OpenDuckDBFile opens an existing database file read-only.
func OpenDuckDBFile(path, engine string) (*DuckDBBackend, error) {
	if err := checkEngine(engine); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}
	return openDuckDB(path, engine, false, true)
}

func checkEngine(engine string) error {
	if engine == "" || engine == "duckdb" {
		return nil
	}
	return errors.Wrapf(errors.ErrUnimplemented, "embedded SQL engine %q", engine)
}

func openDuckDB(path, engine string, ownsFile, readOnly bool) (*DuckDBBackend, error) {
	dsn := path
	if readOnly {
		dsn += "?access_mode=read_only"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	b := &DuckDBBackend{
		log:      logging.Component("storage.duckdb"),
		db:       db,
		path:     path,
		engine:   "duckdb",
		ownsFile: ownsFile,
		readOnly: readOnly,
	}
	if !readOnly {
		if err := b.ensureSchema(); err != nil {
			db.Close()
			if ownsFile {
				os.Remove(path)
			}
			return nil, err
		}
	}
	return b, nil
}

func (b *DuckDBBackend) ensureSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			value DOUBLE NOT NULL
		)`, duckTableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS by_series_id ON %s (id)", duckTableName),
	}
	for _, stmt := range stmts {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Directory returns the directory containing the database file.
func (b *DuckDBBackend) Directory() string { return filepath.Dir(b.path) }

// EngineName returns the embedded engine tag.
func (b *DuckDBBackend) EngineName() string { return b.engine }

func (b *DuckDBBackend) hasSeries(ctx context.Context, id int64) (bool, error) {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = ?)", duckTableName)
	if err := b.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe time series: %w", err)
	}
	return exists, nil
}

// AddTimeSeries ingests the array with its materialized timestamp column,
// or does nothing if rows for the id already exist.
func (b *DuckDBBackend) AddTimeSeries(ctx context.Context, md timeseries.Metadata, s timeseries.Series) error {
	if b.readOnly {
		return errors.Wrap(errors.ErrReadOnly, "database opened read-only")
	}
	sts, err := requireSingle(s)
	if err != nil {
		return err
	}

	id := md.SeriesID()
	exists, err := b.hasSeries(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		b.log.Debug("time series already stored", "id", id, "variable", s.VariableName())
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for start := 0; start < len(sts.Data); start += maxRowsPerInsert {
		end := start + maxRowsPerInsert
		if end > len(sts.Data) {
			end = len(sts.Data)
		}
		query, args := buildSampleInsert(id, sts, start, end)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert rows: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	b.log.Debug("added time series", "id", id, "variable", s.VariableName(), "rows", len(sts.Data))
	return nil
}

// buildSampleInsert builds a multi-row INSERT for samples [start, end).
func buildSampleInsert(id int64, sts *timeseries.SingleTimeSeries, start, end int) (string, []interface{}) {
	args := make([]interface{}, 0, (end-start)*3)

	var query strings.Builder
	query.Grow(80 + (end-start)*10)
	query.WriteString(fmt.Sprintf("INSERT INTO %s (id, timestamp, value) VALUES ", duckTableName))

	for i := start; i < end; i++ {
		if i > start {
			query.WriteByte(',')
		}
		query.WriteString("(?,?,?)")
		args = append(args, id, sts.InitialTime.Add(time.Duration(i)*sts.Resolution), sts.Data[i])
	}
	return query.String(), args
}

// GetTimeSeries runs a filtered, ordered range query and verifies the row
// count against the computed required length.
func (b *DuckDBBackend) GetTimeSeries(ctx context.Context, md timeseries.Metadata, start time.Time, length int) (timeseries.Series, error) {
	smd, err := requireSingleMetadata(md)
	if err != nil {
		return nil, err
	}

	_, count, err := smd.Range(start, length)
	if err != nil {
		return nil, err
	}

	exists, err := b.hasSeries(ctx, smd.TimeSeriesID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NewSeriesNotStored(smd.TimeSeriesID)
	}

	where := "id = ?"
	args := []interface{}{smd.TimeSeriesID}
	if !start.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, start)
	}
	limit := ""
	if length != 0 {
		limit = fmt.Sprintf(" LIMIT %d", count)
	}
	query := fmt.Sprintf("SELECT value FROM %s WHERE %s ORDER BY timestamp%s", duckTableName, where, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query time series: %w", err)
	}
	defer rows.Close()

	data := make([]float64, 0, count)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		data = append(data, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	if len(data) != count {
		return nil, errors.NewRowCountMismatch(smd.TimeSeriesID, len(data), count)
	}

	initial := start
	if initial.IsZero() {
		initial = smd.InitialTime
	}
	return &timeseries.SingleTimeSeries{
		ID:            smd.TimeSeriesID,
		Variable:      smd.VariableName,
		InitialTime:   initial,
		Resolution:    smd.Resolution,
		Data:          data,
		Units:         smd.Units,
		Normalization: smd.Normalization,
	}, nil
}

// RemoveTimeSeries deletes all rows for the id.
func (b *DuckDBBackend) RemoveTimeSeries(ctx context.Context, id int64) error {
	if b.readOnly {
		return errors.Wrap(errors.ErrReadOnly, "database opened read-only")
	}
	res, err := b.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", duckTableName), id)
	if err != nil {
		return fmt.Errorf("delete time series: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return errors.NewSeriesNotStored(id)
	}
	return nil
}

// Serialize checkpoints the database and copies its file to a fresh
// temp-named file under dst. The live store keeps running against its own
// file.
func (b *DuckDBBackend) Serialize(ctx context.Context, desc *Descriptor, dst, _ string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	// Flush the WAL into the database file so the copy is self-contained.
	if !b.readOnly {
		if _, err := b.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
			return fmt.Errorf("checkpoint database: %w", err)
		}
	}

	path, err := tempPath(dst, "time-series-*.db")
	if err != nil {
		return fmt.Errorf("reserve snapshot path: %w", err)
	}
	if err := copyFile(b.path, path); err != nil {
		return fmt.Errorf("copy database file: %w", err)
	}

	desc.StorageKind = KindDuckDB
	desc.Filename = path
	desc.EngineName = b.engine
	b.log.Info("serialized database", "from", b.path, "to", path)
	return nil
}

// Close closes the database and deletes the temporary file if this
// instance owns one.
func (b *DuckDBBackend) Close() error {
	err := b.db.Close()
	if b.ownsFile {
		b.ownsFile = false
		if rmErr := os.Remove(b.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
		// DuckDB keeps its WAL next to the database file.
		os.Remove(b.path + ".wal")
		b.log.Info("deleted time series database", "path", b.path)
	}
	return err
}
