package metastore

import (
	"context"
	"testing"
	"time"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/timeseries"
)

type testComponent struct {
	id  int64
	typ string
}

func (c testComponent) ComponentID() int64    { return c.id }
func (c testComponent) ComponentType() string { return c.typ }

var testInitialTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMetadata(id int64, variable string, attrs map[string]any) *timeseries.SingleTimeSeriesMetadata {
	return &timeseries.SingleTimeSeriesMetadata{
		TimeSeriesID: id,
		VariableName: variable,
		InitialTime:  testInitialTime,
		Resolution:   time.Hour,
		Length:       24,
		Attributes:   attrs,
	}
}

func TestStore_AddAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}

	md := newTestMetadata(10, "active_power", map[string]any{"scenario": "high"})
	if err := s.Add(ctx, md, gen); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.GetMetadata(ctx, gen, Query{Variable: "active_power"})
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	smd := got.(*timeseries.SingleTimeSeriesMetadata)
	if smd.TimeSeriesID != 10 || smd.Length != 24 {
		t.Errorf("unexpected metadata %+v", smd)
	}
	if !smd.InitialTime.Equal(testInitialTime) {
		t.Errorf("initial time %s, want %s", smd.InitialTime, testInitialTime)
	}
	if smd.Attributes["scenario"] != "high" {
		t.Errorf("attributes not preserved: %v", smd.Attributes)
	}
}

func TestStore_HasTimeSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}

	has, err := s.HasTimeSeries(ctx, 10)
	if err != nil {
		t.Fatalf("HasTimeSeries: %v", err)
	}
	if has {
		t.Error("expected no reference before add")
	}

	if err := s.Add(ctx, newTestMetadata(10, "p", nil), gen); err != nil {
		t.Fatalf("Add: %v", err)
	}
	has, err = s.HasTimeSeries(ctx, 10)
	if err != nil {
		t.Fatalf("HasTimeSeries: %v", err)
	}
	if !has {
		t.Error("expected a reference after add")
	}
}

func TestStore_GetMetadata_NotStored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}

	if _, err := s.GetMetadata(ctx, gen, Query{Variable: "nope"}); !errors.IsNotStored(err) {
		t.Errorf("expected not-stored error, got %v", err)
	}
}

func TestStore_GetMetadata_Ambiguous(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}

	if err := s.Add(ctx, newTestMetadata(10, "p", map[string]any{"scenario": "high"}), gen); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, newTestMetadata(11, "p", map[string]any{"scenario": "low"}), gen); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The bare variable filter matches both rows: ambiguous, never an
	// arbitrary pick.
	_, err := s.GetMetadata(ctx, gen, Query{Variable: "p"})
	if !errors.Is(err, errors.ErrAmbiguousMatch) {
		t.Fatalf("expected ambiguous-match error, got %v", err)
	}

	// Narrowing by attribute resolves it.
	got, err := s.GetMetadata(ctx, gen, Query{Variable: "p", Attributes: map[string]any{"scenario": "low"}})
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if got.SeriesID() != 11 {
		t.Errorf("expected series 11, got %d", got.SeriesID())
	}
}

func TestStore_AttributeMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}

	attrs := map[string]any{"scenario": "high", "year": 2030}
	if err := s.Add(ctx, newTestMetadata(10, "p", attrs), gen); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Subset of the stored attributes matches.
	has, err := s.HasMetadata(ctx, gen, Query{Variable: "p", Attributes: map[string]any{"year": 2030}})
	if err != nil {
		t.Fatalf("HasMetadata: %v", err)
	}
	if !has {
		t.Error("subset attribute filter should match")
	}

	// A wrong value does not.
	has, err = s.HasMetadata(ctx, gen, Query{Variable: "p", Attributes: map[string]any{"year": 2031}})
	if err != nil {
		t.Fatalf("HasMetadata: %v", err)
	}
	if has {
		t.Error("mismatched attribute value should not match")
	}

	// An unknown key does not.
	has, err = s.HasMetadata(ctx, gen, Query{Variable: "p", Attributes: map[string]any{"region": "west"}})
	if err != nil {
		t.Fatalf("HasMetadata: %v", err)
	}
	if has {
		t.Error("unknown attribute key should not match")
	}
}

func TestStore_ListMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}
	bus := testComponent{id: 2, typ: "Bus"}

	if err := s.Add(ctx, newTestMetadata(10, "p", nil), gen, bus); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, newTestMetadata(11, "q", nil), gen); err != nil {
		t.Fatalf("Add: %v", err)
	}

	all, err := s.ListMetadata(ctx, gen, Query{})
	if err != nil {
		t.Fatalf("ListMetadata: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows for generator, got %d", len(all))
	}
	// Insertion order.
	if all[0].SeriesID() != 10 || all[1].SeriesID() != 11 {
		t.Errorf("unexpected order: %d, %d", all[0].SeriesID(), all[1].SeriesID())
	}

	busRows, err := s.ListMetadata(ctx, bus, Query{})
	if err != nil {
		t.Fatalf("ListMetadata: %v", err)
	}
	if len(busRows) != 1 || busRows[0].SeriesID() != 10 {
		t.Fatalf("unexpected bus rows %v", busRows)
	}
}

func TestStore_RemoveAndReferenceCounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}
	bus := testComponent{id: 2, typ: "Bus"}

	// Two metadata rows share physical series 10.
	if err := s.Add(ctx, newTestMetadata(10, "p", nil), gen, bus); err != nil {
		t.Fatalf("Add: %v", err)
	}

	touched, err := s.Remove(ctx, Query{Variable: "p"}, gen)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(touched) != 1 || touched[0] != 10 {
		t.Fatalf("expected touched ids [10], got %v", touched)
	}

	// The bus row still references series 10: nothing is missing yet.
	missing, err := s.ListMissingTimeSeries(ctx, touched)
	if err != nil {
		t.Fatalf("ListMissingTimeSeries: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("series 10 is still referenced, got missing=%v", missing)
	}

	touched, err = s.Remove(ctx, Query{Variable: "p"}, bus)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	missing, err = s.ListMissingTimeSeries(ctx, touched)
	if err != nil {
		t.Fatalf("ListMissingTimeSeries: %v", err)
	}
	if len(missing) != 1 || missing[0] != 10 {
		t.Fatalf("expected missing ids [10], got %v", missing)
	}
}

func TestStore_Remove_NotStored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}

	if _, err := s.Remove(ctx, Query{Variable: "nope"}, gen); !errors.IsNotStored(err) {
		t.Errorf("expected not-stored error, got %v", err)
	}
}

func TestStore_NormalizationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := testComponent{id: 1, typ: "Generator"}

	md := newTestMetadata(10, "p", nil)
	md.Normalization = timeseries.NormalizeByValue(100)
	if err := s.Add(ctx, md, gen); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.GetMetadata(ctx, gen, Query{Variable: "p"})
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	norm := got.(*timeseries.SingleTimeSeriesMetadata).Normalization
	if norm == nil || norm.Kind != timeseries.NormalizationByValue || norm.Divisor != 100 {
		t.Errorf("normalization not preserved: %+v", norm)
	}
}
