package timeseries

import (
	"time"

	"github.com/gridkit/tsstore/errors"
)

// Metadata binds a physical time series to an attachment context: variable
// name, type discriminator, and arbitrary user attributes. Multiple metadata
// records may reference the same physical id.
type Metadata interface {
	// SeriesID returns the physical time series id this record references.
	SeriesID() int64

	// Variable returns the variable name.
	Variable() string

	// SeriesType returns the type discriminator of the referenced series.
	SeriesType() string

	// UserAttributes returns the user-supplied key/value pairs.
	UserAttributes() map[string]any
}

// SingleTimeSeriesMetadata describes a stored SingleTimeSeries: the physical
// id plus the time axis needed to resolve sub-range reads without decoding
// the full array.
type SingleTimeSeriesMetadata struct {
	TimeSeriesID  int64
	VariableName  string
	InitialTime   time.Time
	Resolution    time.Duration
	Length        int
	Units         string
	Normalization *Normalization
	Attributes    map[string]any
}

// SeriesID returns the physical time series id.
func (m *SingleTimeSeriesMetadata) SeriesID() int64 { return m.TimeSeriesID }

// Variable returns the variable name.
func (m *SingleTimeSeriesMetadata) Variable() string { return m.VariableName }

// SeriesType returns the type discriminator.
func (m *SingleTimeSeriesMetadata) SeriesType() string { return TypeSingleTimeSeries }

// UserAttributes returns the user-supplied key/value pairs.
func (m *SingleTimeSeriesMetadata) UserAttributes() map[string]any { return m.Attributes }

// EndTime returns the timestamp of the last stored sample.
func (m *SingleTimeSeriesMetadata) EndTime() time.Time {
	return m.InitialTime.Add(time.Duration(m.Length-1) * m.Resolution)
}

// Range resolves a sub-range request against the stored time axis and
// returns the sample offset and the number of samples required.
//
// A zero start means the stored initial time; a zero length means all
// samples from the offset to the end. The start must fall on the stored
// axis and the range must lie entirely within the stored data.
func (m *SingleTimeSeriesMetadata) Range(start time.Time, length int) (offset, count int, err error) {
	if !start.IsZero() {
		if start.Before(m.InitialTime) {
			return 0, 0, errors.Wrapf(errors.ErrInvalidRange,
				"start time %s is before the initial time %s", start, m.InitialTime)
		}
		diff := start.Sub(m.InitialTime)
		if diff%m.Resolution != 0 {
			return 0, 0, errors.Wrapf(errors.ErrInvalidRange,
				"start time %s is not aligned to the %s resolution", start, m.Resolution)
		}
		offset = int(diff / m.Resolution)
		if offset >= m.Length {
			return 0, 0, errors.Wrapf(errors.ErrInvalidRange,
				"start time %s is past the last stored sample at %s", start, m.EndTime())
		}
	}

	count = m.Length - offset
	if length != 0 {
		if length < 0 {
			return 0, 0, errors.Wrapf(errors.ErrInvalidRange, "length %d is negative", length)
		}
		if length > m.Length-offset {
			return 0, 0, errors.Wrapf(errors.ErrInvalidRange,
				"length %d exceeds the %d stored samples from offset %d", length, m.Length-offset, offset)
		}
		count = length
	}
	return offset, count, nil
}
