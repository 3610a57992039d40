package storage

import (
	"context"
	"testing"
	"time"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/timeseries"
)

func TestMemoryBackend_RoundTrip(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	ts, md := newTestSeries(t, 1, 8)
	if err := b.AddTimeSeries(ctx, md, ts); err != nil {
		t.Fatalf("AddTimeSeries: %v", err)
	}

	verifyRangeContract(t, b, md)
}

func TestMemoryBackend_IdempotentAdd(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	ts, md := newTestSeries(t, 1, 4)
	if err := b.AddTimeSeries(ctx, md, ts); err != nil {
		t.Fatalf("AddTimeSeries: %v", err)
	}
	if err := b.AddTimeSeries(ctx, md, ts); err != nil {
		t.Fatalf("second AddTimeSeries should be a no-op, got %v", err)
	}
}

func TestMemoryBackend_NotStored(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	_, md := newTestSeries(t, 99, 4)
	if _, err := b.GetTimeSeries(ctx, md, time.Time{}, 0); !errors.IsNotStored(err) {
		t.Errorf("expected not-stored error, got %v", err)
	}
	if err := b.RemoveTimeSeries(ctx, 99); !errors.IsNotStored(err) {
		t.Errorf("expected not-stored error, got %v", err)
	}
}

func TestMemoryBackend_Remove(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	ts, md := newTestSeries(t, 1, 4)
	if err := b.AddTimeSeries(ctx, md, ts); err != nil {
		t.Fatalf("AddTimeSeries: %v", err)
	}
	if err := b.RemoveTimeSeries(ctx, 1); err != nil {
		t.Fatalf("RemoveTimeSeries: %v", err)
	}
	if _, err := b.GetTimeSeries(ctx, md, time.Time{}, 0); !errors.IsNotStored(err) {
		t.Errorf("expected not-stored error after removal, got %v", err)
	}
}

func TestMemoryBackend_Directory(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	if dir := b.Directory(); dir != "" {
		t.Errorf("expected empty directory, got %q", dir)
	}
}

func TestMemoryBackend_SerializeDowngradesToParquet(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	ts1, md1 := newTestSeries(t, 1, 6)
	ts2, md2 := newTestSeries(t, 2, 3)
	if err := b.AddTimeSeries(ctx, md1, ts1); err != nil {
		t.Fatalf("AddTimeSeries: %v", err)
	}
	if err := b.AddTimeSeries(ctx, md2, ts2); err != nil {
		t.Fatalf("AddTimeSeries: %v", err)
	}

	dst := t.TempDir()
	var desc Descriptor
	if err := b.Serialize(ctx, &desc, dst, ""); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if desc.StorageKind != KindParquet {
		t.Fatalf("expected storage kind %q, got %q", KindParquet, desc.StorageKind)
	}

	// The snapshot must be readable through the parquet backend.
	pb, err := OpenParquetDirectory(dst)
	if err != nil {
		t.Fatalf("OpenParquetDirectory: %v", err)
	}
	defer pb.Close()

	verifyRangeContract(t, pb, md1)

	got, err := pb.GetTimeSeries(ctx, md2, time.Time{}, 0)
	if err != nil {
		t.Fatalf("GetTimeSeries from snapshot: %v", err)
	}
	if got.(*timeseries.SingleTimeSeries).Length() != 3 {
		t.Errorf("unexpected snapshot length %d", got.(*timeseries.SingleTimeSeries).Length())
	}
}
