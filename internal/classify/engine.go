package classify

import (
	"context"
	"errors"
)

var (
	ErrEngineNotLoaded = errors.New("QGIS Algorithm not loaded")
	ErrAlgorithmFailed = errors.New("Algorithm reported failure")
)

// Results are the output values reported by the algorithm, e.g. the path
// of RASTER_OUTPUT.
type Results map[string]any

// Engine runs the classification algorithm. Implementations are not safe
// for concurrent use; callers serialize access through a Gate.
type Engine interface {
	Run(ctx context.Context, params Params) (Results, error)
}
