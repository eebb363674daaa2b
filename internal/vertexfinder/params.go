package vertexfinder

import "fmt"

// Clustering defaults, matching the pixel vertex finder's DBSCAN settings.
const (
	DefaultMinT    = 2
	DefaultEps     = 0.07
	DefaultErrMax  = 0.01
	DefaultChi2Max = 9.0

	// BucketWidth is the z extent of one bucket of the neighbour index.
	// Eps must not exceed it.
	BucketWidth = 0.1
)

// Params configures ClusterTracksDBSCAN.
type Params struct {
	MinT    int     // minimum number of neighbours for a core track
	Eps     float32 // maximum absolute z distance to a neighbour
	ErrMax  float32 // maximum z error for a track to be a core
	Chi2Max float32 // maximum normalised distance when attaching edges

	// Verify enables the consistency checks between phases. A failed check
	// is fatal.
	Verify bool
}

// DefaultParams returns the production clustering parameters.
func DefaultParams() Params {
	return Params{
		MinT:    DefaultMinT,
		Eps:     DefaultEps,
		ErrMax:  DefaultErrMax,
		Chi2Max: DefaultChi2Max,
	}
}

// VarianceCeiling is the largest z variance a core track may have.
func (p Params) VarianceCeiling() float32 {
	return p.ErrMax * p.ErrMax
}

// Validate checks the numeric preconditions of the kernel.
func (p Params) Validate() error {
	if p.MinT < 1 {
		return fmt.Errorf("min_t must be at least 1, got %d", p.MinT)
	}
	if !(p.Eps > 0 && p.Eps <= BucketWidth) {
		return fmt.Errorf("eps must be in (0, %g], got %g", BucketWidth, p.Eps)
	}
	if !(p.ErrMax > 0) {
		return fmt.Errorf("errmax must be positive, got %g", p.ErrMax)
	}
	if !(p.Chi2Max > 0) {
		return fmt.Errorf("chi2max must be positive, got %g", p.Chi2Max)
	}
	return nil
}
