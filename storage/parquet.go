package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/logging"
	"github.com/gridkit/tsstore/timeseries"
)

// sampleRow is the columnar layout of one sample: the materialized
// timestamp and the raw value.
type sampleRow struct {
	TimestampMs int64   `parquet:"timestamp_ms"`
	Value       float64 `parquet:"value"`
}

// ParquetBackend stores each physical time series as one immutable columnar
// segment file under a managed directory.
type ParquetBackend struct {
	log      *slog.Logger
	dir      string
	ownsDir  bool
	readOnly bool
}

// NewParquetBackend creates a writable store with a temporary directory
// under baseDir (or the system temp directory when baseDir is empty). The
// directory is deleted on Close.
func NewParquetBackend(baseDir string) (*ParquetBackend, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, "time-series-")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	log := logging.Component("storage.parquet")
	log.Debug("created time series directory", "directory", dir)
	return &ParquetBackend{log: log, dir: dir, ownsDir: true}, nil
}

// NewParquetBackendAt creates a writable store over dir without owning it.
// Used as the transcode destination when snapshotting other media.
func NewParquetBackendAt(dir string) (*ParquetBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &ParquetBackend{log: logging.Component("storage.parquet"), dir: dir}, nil
}

// CopyParquetDirectory creates a writable store whose fresh temporary
// directory is populated from the permanent directory src. Mutations never
// touch the original snapshot.
func CopyParquetDirectory(src, baseDir string) (*ParquetBackend, error) {
	b, err := NewParquetBackend(baseDir)
	if err != nil {
		return nil, err
	}
	if err := copyDir(src, b.dir); err != nil {
		b.Close()
		return nil, fmt.Errorf("copy segment directory: %w", err)
	}
	return b, nil
}

// OpenParquetDirectory opens a permanent directory read-only. Mutations
// fail with an operation-not-allowed error.
func OpenParquetDirectory(dir string) (*ParquetBackend, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open time series directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &ParquetBackend{log: logging.Component("storage.parquet"), dir: dir, readOnly: true}, nil
}

// Directory returns the managed directory.
func (b *ParquetBackend) Directory() string { return b.dir }

func (b *ParquetBackend) seriesPath(id int64) string {
	return filepath.Join(b.dir, fmt.Sprintf("%d.parquet", id))
}

// AddTimeSeries writes one segment file, or does nothing if the id already
// has one.
func (b *ParquetBackend) AddTimeSeries(_ context.Context, md timeseries.Metadata, s timeseries.Series) error {
	if b.readOnly {
		return errors.Wrap(errors.ErrReadOnly, "parquet store opened from a permanent directory")
	}
	sts, err := requireSingle(s)
	if err != nil {
		return err
	}

	id := md.SeriesID()
	path := b.seriesPath(id)
	if _, err := os.Stat(path); err == nil {
		b.log.Debug("time series already stored", "id", id, "variable", s.VariableName())
		return nil
	}

	rows := make([]sampleRow, len(sts.Data))
	ts := sts.InitialTime
	for i, v := range sts.Data {
		rows[i] = sampleRow{TimestampMs: ts.UnixMilli(), Value: v}
		ts = ts.Add(sts.Resolution)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	writer := parquet.NewGenericWriter[sampleRow](f, parquet.Compression(&parquet.Zstd))

	if _, err := writer.Write(rows); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close segment file: %w", err)
	}

	b.log.Debug("added time series", "id", id, "variable", s.VariableName(), "rows", len(rows))
	return nil
}

// GetTimeSeries reads a segment, seeking to the requested row offset
// instead of decoding the full array.
func (b *ParquetBackend) GetTimeSeries(_ context.Context, md timeseries.Metadata, start time.Time, length int) (timeseries.Series, error) {
	smd, err := requireSingleMetadata(md)
	if err != nil {
		return nil, err
	}

	offset, count, err := smd.Range(start, length)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(b.seriesPath(smd.TimeSeriesID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewSeriesNotStored(smd.TimeSeriesID)
		}
		return nil, fmt.Errorf("open segment file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[sampleRow](f)
	defer reader.Close()

	if offset > 0 {
		if err := reader.SeekToRow(int64(offset)); err != nil {
			return nil, fmt.Errorf("seek to row %d: %w", offset, err)
		}
	}

	rows := make([]sampleRow, count)
	read := 0
	for read < count {
		n, err := reader.Read(rows[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if read != count {
		return nil, errors.NewRowCountMismatch(smd.TimeSeriesID, read, count)
	}

	initial := start
	if initial.IsZero() {
		initial = smd.InitialTime
	}
	data := make([]float64, count)
	for i := range rows {
		data[i] = rows[i].Value
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

// RemoveTimeSeries deletes the segment file.
func (b *ParquetBackend) RemoveTimeSeries(_ context.Context, id int64) error {
	if b.readOnly {
		return errors.Wrap(errors.ErrReadOnly, "parquet store opened from a permanent directory")
	}
	if err := os.Remove(b.seriesPath(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.NewSeriesNotStored(id)
		}
		return fmt.Errorf("remove segment file: %w", err)
	}
	return nil
}

// Serialize copies the segment directory to dst. A non-empty src overrides
// the copy source, which lets a fresh writable store populate its own
// directory from a permanent snapshot.
func (b *ParquetBackend) Serialize(_ context.Context, desc *Descriptor, dst, src string) error {
	from := src
	if from == "" {
		from = b.dir
	}
	if from != dst {
		if err := copyDir(from, dst); err != nil {
			return fmt.Errorf("copy segment directory: %w", err)
		}
	}
	desc.StorageKind = KindParquet
	b.log.Info("serialized parquet store", "from", from, "to", dst)
	return nil
}

// Close deletes the temporary directory if this instance owns one.
func (b *ParquetBackend) Close() error {
	if !b.ownsDir {
		return nil
	}
	b.ownsDir = false
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("remove temp directory: %w", err)
	}
	b.log.Info("deleted time series directory", "directory", b.dir)
	return nil
}
