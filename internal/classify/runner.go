package classify

import (
	"context"
	"errors"
	"fmt"
	"geo-backend/internal/storage"
	"geo-backend/pkg/api"
	"log/slog"
	"os"
	"path"
	"path/filepath"
)

const (
	UploadedStatus = "Uploaded to S3"
	SkippedStatus  = "Skipped S3 (Output path invalid)"

	uploadPrefix = "data_storage"
)

// Runner merges request overrides into the defaults, runs the engine under
// the gate and uploads the output folder.
type Runner struct {
	engine   Engine
	gate     *Gate
	store    storage.ObjectStore
	defaults Params
}

// NewRunner accepts a nil engine, in which case every request reports
// ErrEngineNotLoaded.
func NewRunner(engine Engine, gate *Gate, store storage.ObjectStore, defaults Params) *Runner {
	if defaults == nil {
		defaults = DefaultParams()
	}
	return &Runner{engine: engine, gate: gate, store: store, defaults: defaults}
}

func (r *Runner) Defaults() Params {
	return r.defaults.Merge(nil)
}

// Classify returns an error only when the engine is not loaded or ctx ends
// before the engine becomes free. Algorithm failures are reported in the
// response status.
func (r *Runner) Classify(ctx context.Context, overrides map[string]any) (api.ClassificationResponse, error) {
	if r.engine == nil {
		return api.ClassificationResponse{}, ErrEngineNotLoaded
	}

	params := r.defaults.Merge(overrides)
	slog.Info("received classification request", "overrides", len(overrides))

	if err := r.gate.Acquire(ctx); err != nil {
		return api.ClassificationResponse{}, fmt.Errorf("waiting for classification engine: %w", err)
	}
	results, err := r.engine.Run(ctx, params)
	r.gate.Release()

	if err != nil {
		if errors.Is(err, ErrAlgorithmFailed) {
			return api.ClassificationResponse{Status: api.ClassificationFailure, Message: ErrAlgorithmFailed.Error()}, nil
		}
		slog.Error("error during classification", "error", err)
		return api.ClassificationResponse{Status: api.ClassificationError, Message: err.Error()}, nil
	}

	status := SkippedStatus
	if output, ok := results[RasterOutputParam].(string); ok && output != "" {
		if _, err := os.Stat(output); err == nil {
			r.uploadFolder(ctx, filepath.Dir(output))
			status = UploadedStatus
		}
	}

	return api.ClassificationResponse{
		Status:  api.ClassificationSuccess,
		Message: "Classification complete. " + status,
		Result:  results,
	}, nil
}

// uploadFolder copies every file below folder to data_storage/<folder name>/.
// Individual upload failures are logged and skipped.
func (r *Runner) uploadFolder(ctx context.Context, folder string) {
	name := filepath.Base(folder)
	slog.Info("starting upload of classification output", "folder", name)

	if err := r.store.UploadDir(ctx, path.Join(uploadPrefix, name), folder); err != nil {
		slog.Error("error uploading classification output", "folder", folder, "error", err)
		return
	}
	slog.Info("uploaded classification output", "folder", name)
}
