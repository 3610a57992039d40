package storage

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/logging"
	"github.com/gridkit/tsstore/timeseries"
)

// MemoryBackend stores time series arrays on the heap, keyed by physical
// id. Heap state cannot outlive the process, so Serialize transcodes every
// array into the parquet format.
type MemoryBackend struct {
	log    *slog.Logger
	arrays map[int64]*timeseries.SingleTimeSeries
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		log:    logging.Component("storage.memory"),
		arrays: make(map[int64]*timeseries.SingleTimeSeries),
	}
}

// Directory returns "" — the medium has no filesystem representation.
func (b *MemoryBackend) Directory() string { return "" }

// AddTimeSeries stores the array, or does nothing if the id is already held.
func (b *MemoryBackend) AddTimeSeries(_ context.Context, md timeseries.Metadata, s timeseries.Series) error {
	sts, err := requireSingle(s)
	if err != nil {
		return err
	}

	id := md.SeriesID()
	if _, ok := b.arrays[id]; ok {
		b.log.Debug("time series already stored", "id", id, "variable", s.VariableName())
		return nil
	}
	b.arrays[id] = sts
	b.log.Debug("added time series", "id", id, "variable", s.VariableName(), "length", sts.Length())
	return nil
}

// GetTimeSeries returns the stored array or a sliced sub-range.
func (b *MemoryBackend) GetTimeSeries(_ context.Context, md timeseries.Metadata, start time.Time, length int) (timeseries.Series, error) {
	smd, err := requireSingleMetadata(md)
	if err != nil {
		return nil, err
	}

	base, ok := b.arrays[smd.TimeSeriesID]
	if !ok {
		return nil, errors.NewSeriesNotStored(smd.TimeSeriesID)
	}
	if start.IsZero() && length == 0 {
		return base, nil
	}

	offset, count, err := smd.Range(start, length)
	if err != nil {
		return nil, err
	}
	if offset+count > len(base.Data) {
		return nil, errors.NewRowCountMismatch(smd.TimeSeriesID, len(base.Data)-offset, count)
	}

	initial := start
	if initial.IsZero() {
		initial = base.InitialTime
	}
	data := make([]float64, count)
	copy(data, base.Data[offset:offset+count])

	return &timeseries.SingleTimeSeries{
		ID:            smd.TimeSeriesID,
		Variable:      base.Variable,
		InitialTime:   initial,
		Resolution:    base.Resolution,
		Data:          data,
		Units:         base.Units,
		Normalization: smd.Normalization,
	}, nil
}

// RemoveTimeSeries deletes the array.
func (b *MemoryBackend) RemoveTimeSeries(_ context.Context, id int64) error {
	if _, ok := b.arrays[id]; !ok {
		return errors.NewSeriesNotStored(id)
	}
	delete(b.arrays, id)
	return nil
}

// Serialize transcodes every held array into a parquet store at dst. The
// descriptor records the parquet kind: a deserialized copy of an in-memory
// store is always file-backed.
func (b *MemoryBackend) Serialize(ctx context.Context, desc *Descriptor, dst, _ string) error {
	pb, err := NewParquetBackendAt(dst)
	if err != nil {
		return err
	}
	defer pb.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, ts := range b.arrays {
		ts := ts
		g.Go(func() error {
			md, err := ts.BuildMetadata(nil)
			if err != nil {
				return err
			}
			return pb.AddTimeSeries(gctx, md, ts)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "transcode in-memory store to parquet")
	}

	desc.StorageKind = KindParquet
	b.log.Info("serialized in-memory store to parquet", "directory", dst, "count", len(b.arrays))
	return nil
}

// Close releases the store.
func (b *MemoryBackend) Close() error {
	b.arrays = nil
	return nil
}
