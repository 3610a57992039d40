// Package tsstore is the storage and indexing layer for structured
// component systems: it persists large numeric time series arrays attached
// to components behind a uniform backend contract (in-memory, columnar
// parquet files, embedded DuckDB) and keeps a relational metadata index
// over the attachments.
package tsstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gridkit/tsstore/config"
	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/ids"
	"github.com/gridkit/tsstore/logging"
	"github.com/gridkit/tsstore/metastore"
	"github.com/gridkit/tsstore/storage"
	"github.com/gridkit/tsstore/timeseries"
)

// Query filters metadata lookups. See metastore.Query.
type Query = metastore.Query

// Manager orchestrates the identifier allocator, the metadata index, and
// one active storage backend. Its storage kind is fixed at construction;
// switching kinds goes through Serialize/Deserialize, which build a brand
// new manager.
//
// Manager is a single-writer structure: callers are responsible for
// serializing concurrent mutation.
type Manager struct {
	log      *slog.Logger
	alloc    ids.Allocator
	meta     *metastore.Store
	backend  storage.Backend
	readOnly bool
}

// New creates a manager with the backend selected by cfg: in-memory,
// embedded SQL against a fresh temporary database file, or (the default)
// columnar parquet files under a fresh temporary directory.
func New(cfg config.Config, alloc ids.Allocator) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err.Error())
	}

	var backend storage.Backend
	var err error
	switch {
	case cfg.InMemory:
		backend = storage.NewMemoryBackend()
	case cfg.UseEmbeddedSQL:
		backend, err = storage.NewDuckDBBackend(cfg.Directory, cfg.EngineName)
	default:
		backend, err = storage.NewParquetBackend(cfg.Directory)
	}
	if err != nil {
		return nil, err
	}

	return newWithBackend(backend, cfg.ReadOnly, alloc)
}

func newWithBackend(backend storage.Backend, readOnly bool, alloc ids.Allocator) (*Manager, error) {
	meta, err := metastore.New()
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &Manager{
		log:      logging.Component("tsstore"),
		alloc:    alloc,
		meta:     meta,
		backend:  backend,
		readOnly: readOnly,
	}, nil
}

// MetadataStore returns the metadata index.
func (m *Manager) MetadataStore() *metastore.Store { return m.meta }

// Backend returns the active storage backend.
func (m *Manager) Backend() storage.Backend { return m.backend }

// ReadOnly reports whether the manager rejects mutations.
func (m *Manager) ReadOnly() bool { return m.readOnly }

// UsesEmbeddedSQL reports whether the active backend is the embedded SQL
// store.
func (m *Manager) UsesEmbeddedSQL() bool {
	return m.EngineName() != ""
}

// EngineName returns the embedded SQL engine tag, or "" for other backends.
func (m *Manager) EngineName() string {
	if e, ok := m.backend.(interface{ EngineName() string }); ok {
		return e.EngineName()
	}
	return ""
}

func (m *Manager) checkWritable() error {
	if m.readOnly {
		return errors.ErrReadOnly
	}
	return nil
}

// normalize fills the default series type so lookups behave like the write
// path, which always records a concrete type discriminator.
func normalize(q Query) Query {
	if q.SeriesType == "" {
		q.SeriesType = timeseries.TypeSingleTimeSeries
	}
	return q
}

// Add stores a time series array for one or more components. The array is
// physically stored only if no metadata row references its id yet; the
// metadata rows are always registered, so several components (or attribute
// sets) can share one physical array.
func (m *Manager) Add(ctx context.Context, series timeseries.Series, components []timeseries.Component, attrs map[string]any) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if len(components) == 0 {
		return errors.Wrap(errors.ErrOperationNotAllowed, "add requires at least one component")
	}

	if series.SeriesID() == 0 {
		series.SetSeriesID(m.alloc.NextID())
	}
	md, err := series.BuildMetadata(attrs)
	if err != nil {
		return err
	}

	referenced, err := m.meta.HasTimeSeries(ctx, series.SeriesID())
	if err != nil {
		return err
	}
	if !referenced {
		if err := m.backend.AddTimeSeries(ctx, md, series); err != nil {
			return err
		}
	}
	return m.meta.Add(ctx, md, components...)
}

// Get returns the time series matching the query, restricted to the
// requested sub-range. A zero start means the stored initial time; a zero
// length means all samples from the start.
func (m *Manager) Get(ctx context.Context, c timeseries.Component, q Query, start time.Time, length int) (timeseries.Series, error) {
	md, err := m.meta.GetMetadata(ctx, c, normalize(q))
	if err != nil {
		return nil, err
	}
	return m.backend.GetTimeSeries(ctx, md, start, length)
}

// HasTimeSeries reports whether the component has time series matching the
// query.
func (m *Manager) HasTimeSeries(ctx context.Context, c timeseries.Component, q Query) (bool, error) {
	return m.meta.HasMetadata(ctx, c, normalize(q))
}

// ListTimeSeries returns all time series matching the query, each
// restricted to the requested sub-range.
func (m *Manager) ListTimeSeries(ctx context.Context, c timeseries.Component, q Query, start time.Time, length int) ([]timeseries.Series, error) {
	mds, err := m.ListMetadata(ctx, c, q)
	if err != nil {
		return nil, err
	}
	series := make([]timeseries.Series, 0, len(mds))
	for _, md := range mds {
		ts, err := m.backend.GetTimeSeries(ctx, md, start, length)
		if err != nil {
			return nil, err
		}
		series = append(series, ts)
	}
	return series, nil
}

// ListMetadata returns all metadata rows matching the query.
func (m *Manager) ListMetadata(ctx context.Context, c timeseries.Component, q Query) ([]timeseries.Metadata, error) {
	return m.meta.ListMetadata(ctx, c, normalize(q))
}

// Remove deletes all metadata rows matching the query across the given
// components, then physically deletes only the arrays the index reports as
// fully unreferenced. An array shared with a surviving metadata row is
// kept.
func (m *Manager) Remove(ctx context.Context, q Query, components ...timeseries.Component) error {
	if err := m.checkWritable(); err != nil {
		return err
	}

	q = normalize(q)
	touched, err := m.meta.Remove(ctx, q, components...)
	if err != nil {
		return err
	}
	missing, err := m.meta.ListMissingTimeSeries(ctx, touched)
	if err != nil {
		return err
	}
	for _, id := range missing {
		if err := m.backend.RemoveTimeSeries(ctx, id); err != nil {
			return err
		}
		m.log.Info("removed time series", "id", id, "variable", q.Variable)
	}
	return nil
}

// Copy would copy all time series from src to dst with optional name
// remapping. The remapping collision policy is undefined, so the operation
// is unsupported.
func (m *Manager) Copy(dst, src timeseries.Component, nameMapping map[string]string) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	return errors.Wrap(errors.ErrUnimplemented, "copying time series between components")
}

// Serialize snapshots the active backend under dst and fills in the
// descriptor. The in-memory backend downgrades to the parquet format,
// since heap state has no durable representation of its own.
func (m *Manager) Serialize(ctx context.Context, desc *storage.Descriptor, dst, src string) error {
	return m.backend.Serialize(ctx, desc, dst, src)
}

// Deserialize reconstructs a manager from a snapshot descriptor. The
// metadata index comes back empty; the embedding system re-registers
// components and metadata after loading them.
//
// Writable modes never touch the snapshot: the recorded database file is
// copied to a fresh temporary file and the recorded directory into a fresh
// temporary directory. Requesting an in-memory manager is not allowed —
// heap state cannot be reconstructed from a durable descriptor.
func Deserialize(ctx context.Context, desc *storage.Descriptor, parentDir string, cfg config.Config, alloc ids.Allocator) (*Manager, error) {
	cfg.ApplyDefaults()
	if cfg.InMemory {
		return nil, errors.Wrap(errors.ErrOperationNotAllowed,
			"deserialization does not support in-memory storage")
	}

	seriesDir := filepath.Join(parentDir, desc.Directory)

	var backend storage.Backend
	var err error
	switch desc.StorageKind {
	case storage.KindDuckDB:
		if cfg.ReadOnly {
			backend, err = storage.OpenDuckDBFile(desc.Filename, desc.EngineName)
		} else {
			backend, err = storage.CopyDuckDBFile(desc.Filename, seriesDir, desc.EngineName)
		}
	case storage.KindParquet:
		if cfg.ReadOnly {
			backend, err = storage.OpenParquetDirectory(seriesDir)
		} else {
			backend, err = storage.CopyParquetDirectory(seriesDir, "")
		}
	default:
		return nil, errors.Wrapf(errors.ErrUnimplemented, "storage kind %q", desc.StorageKind)
	}
	if err != nil {
		return nil, err
	}

	return newWithBackend(backend, cfg.ReadOnly, alloc)
}

// Close releases the backend (deleting any temporary media it owns) and
// the metadata index.
func (m *Manager) Close() error {
	return errors.Join(m.backend.Close(), m.meta.Close())
}
