package storage

import (
	"context"
	"testing"
	"time"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/timeseries"
)

var testInitialTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestSeries builds a series with id and n hourly samples 0..n-1.
func newTestSeries(t *testing.T, id int64, n int) (*timeseries.SingleTimeSeries, *timeseries.SingleTimeSeriesMetadata) {
	t.Helper()

	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	ts, err := timeseries.NewSingleTimeSeries("active_power", testInitialTime, time.Hour, data)
	if err != nil {
		t.Fatalf("NewSingleTimeSeries: %v", err)
	}
	ts.SetSeriesID(id)

	md, err := ts.BuildMetadata(nil)
	if err != nil {
		t.Fatalf("BuildMetadata: %v", err)
	}
	return ts, md.(*timeseries.SingleTimeSeriesMetadata)
}

// verifyRangeContract checks the full range contract against a backend
// holding the series described by md: every sub-range from every aligned
// start returns exactly the requested samples, and a length past the end
// is an error.
func verifyRangeContract(t *testing.T, b Backend, md *timeseries.SingleTimeSeriesMetadata) {
	t.Helper()
	ctx := context.Background()

	full, err := b.GetTimeSeries(ctx, md, time.Time{}, 0)
	if err != nil {
		t.Fatalf("GetTimeSeries full: %v", err)
	}
	sts := full.(*timeseries.SingleTimeSeries)
	if len(sts.Data) != md.Length {
		t.Fatalf("full read returned %d samples, want %d", len(sts.Data), md.Length)
	}

	for offset := 0; offset < md.Length; offset++ {
		start := testInitialTime.Add(time.Duration(offset) * time.Hour)
		for length := 1; length <= md.Length-offset; length++ {
			got, err := b.GetTimeSeries(ctx, md, start, length)
			if err != nil {
				t.Fatalf("GetTimeSeries(offset=%d, length=%d): %v", offset, length, err)
			}
			g := got.(*timeseries.SingleTimeSeries)
			if len(g.Data) != length {
				t.Fatalf("offset=%d length=%d: got %d samples", offset, length, len(g.Data))
			}
			if !g.InitialTime.Equal(start) {
				t.Fatalf("offset=%d: initial time %s, want %s", offset, g.InitialTime, start)
			}
			for i := range g.Data {
				if g.Data[i] != float64(offset+i) {
					t.Fatalf("offset=%d length=%d: data[%d] = %f, want %f",
						offset, length, i, g.Data[i], float64(offset+i))
				}
			}
		}

		// One sample past the available range must be an error, not a
		// silent truncation.
		if _, err := b.GetTimeSeries(ctx, md, start, md.Length-offset+1); !errors.Is(err, errors.ErrInvalidRange) {
			t.Fatalf("offset=%d: expected invalid-range error, got %v", offset, err)
		}
	}
}
