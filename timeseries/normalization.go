package timeseries

import (
	"math"

	"github.com/gridkit/tsstore/errors"
)

// NormalizationKind identifies a normalization transform.
type NormalizationKind string

const (
	// NormalizationMax divides every sample by the maximum absolute value.
	NormalizationMax NormalizationKind = "max"
	// NormalizationByValue divides every sample by a fixed divisor.
	NormalizationByValue NormalizationKind = "value"
)

// Normalization describes a transform applied to raw sample values. The
// descriptor is carried in metadata so readers know the stored values are
// normalized.
type Normalization struct {
	Kind    NormalizationKind `json:"kind"`
	Divisor float64           `json:"divisor,omitempty"`
}

// NormalizeByMax returns a max-normalization descriptor.
func NormalizeByMax() *Normalization {
	return &Normalization{Kind: NormalizationMax}
}

// NormalizeByValue returns a fixed-divisor normalization descriptor.
func NormalizeByValue(divisor float64) *Normalization {
	return &Normalization{Kind: NormalizationByValue, Divisor: divisor}
}

// Apply transforms data in place. For max normalization the computed
// divisor is recorded on the descriptor.
func (n *Normalization) Apply(data []float64) error {
	switch n.Kind {
	case NormalizationMax:
		max := 0.0
		for _, v := range data {
			if a := math.Abs(v); a > max {
				max = a
			}
		}
		if max == 0 {
			return errors.Wrap(errors.ErrInvalidSeries, "cannot max-normalize all-zero data")
		}
		n.Divisor = max
	case NormalizationByValue:
		if n.Divisor == 0 {
			return errors.Wrap(errors.ErrInvalidSeries, "normalization divisor must not be zero")
		}
	default:
		return errors.Wrapf(errors.ErrUnimplemented, "normalization kind %q", n.Kind)
	}

	for i := range data {
		data[i] /= n.Divisor
	}
	return nil
}
