// Package timeseries defines the time series data model: arrays, their
// metadata, and the component contract the indexes operate on.
package timeseries

import (
	"maps"
	"time"

	"github.com/gridkit/tsstore/errors"
)

// TypeSingleTimeSeries is the type discriminator for SingleTimeSeries.
const TypeSingleTimeSeries = "SingleTimeSeries"

// Series is a logical array-valued entity. Identity is by id: two Series
// with the same id are the same physical array, even when attached under
// different metadata records.
type Series interface {
	// SeriesID returns the physical time series id, or 0 if unassigned.
	SeriesID() int64

	// SetSeriesID assigns the physical id. Immutable once set.
	SetSeriesID(id int64)

	// SeriesType returns the type discriminator.
	SeriesType() string

	// VariableName returns the variable this series measures.
	VariableName() string

	// BuildMetadata constructs the metadata record binding this series to
	// a component, carrying the given user attributes.
	BuildMetadata(attrs map[string]any) (Metadata, error)
}

// SingleTimeSeries is a one-dimensional array of numeric samples on a
// regular time axis defined by InitialTime and Resolution.
type SingleTimeSeries struct {
	ID            int64
	Variable      string
	InitialTime   time.Time
	Resolution    time.Duration
	Data          []float64
	Units         string
	Normalization *Normalization
}

// NewSingleTimeSeries constructs a validated SingleTimeSeries.
func NewSingleTimeSeries(variable string, initialTime time.Time, resolution time.Duration, data []float64) (*SingleTimeSeries, error) {
	if variable == "" {
		return nil, errors.Wrap(errors.ErrInvalidSeries, "variable name is required")
	}
	if resolution <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidSeries, "resolution must be positive, got %s", resolution)
	}
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidSeries, "data must not be empty")
	}
	return &SingleTimeSeries{
		Variable:    variable,
		InitialTime: initialTime,
		Resolution:  resolution,
		Data:        data,
	}, nil
}

// SeriesID returns the physical time series id, or 0 if unassigned.
func (s *SingleTimeSeries) SeriesID() int64 { return s.ID }

// SetSeriesID assigns the physical id.
func (s *SingleTimeSeries) SetSeriesID(id int64) { s.ID = id }

// SeriesType returns the type discriminator.
func (s *SingleTimeSeries) SeriesType() string { return TypeSingleTimeSeries }

// VariableName returns the variable this series measures.
func (s *SingleTimeSeries) VariableName() string { return s.Variable }

// Length returns the number of samples.
func (s *SingleTimeSeries) Length() int { return len(s.Data) }

// Timestamps materializes the implicit time axis.
func (s *SingleTimeSeries) Timestamps() []time.Time {
	ts := make([]time.Time, len(s.Data))
	for i := range s.Data {
		ts[i] = s.InitialTime.Add(time.Duration(i) * s.Resolution)
	}
	return ts
}

// Normalize applies the given transform to the data in place and records
// the descriptor so it is carried through metadata.
func (s *SingleTimeSeries) Normalize(n *Normalization) error {
	if n == nil {
		return nil
	}
	if err := n.Apply(s.Data); err != nil {
		return err
	}
	s.Normalization = n
	return nil
}

// BuildMetadata constructs the SingleTimeSeriesMetadata record for this
// series with the given user attributes.
func (s *SingleTimeSeries) BuildMetadata(attrs map[string]any) (Metadata, error) {
	return &SingleTimeSeriesMetadata{
		TimeSeriesID:  s.ID,
		VariableName:  s.Variable,
		InitialTime:   s.InitialTime,
		Resolution:    s.Resolution,
		Length:        len(s.Data),
		Units:         s.Units,
		Normalization: s.Normalization,
		Attributes:    maps.Clone(attrs),
	}, nil
}
