package classify_test

import (
	"context"
	"errors"
	"geo-backend/internal/classify"
	"geo-backend/internal/storage"
	"geo-backend/pkg/api"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	run func(ctx context.Context, params classify.Params) (classify.Results, error)

	active, maxActive atomic.Int32
	lastParams        classify.Params
	mu                sync.Mutex
}

func (e *fakeEngine) Run(ctx context.Context, params classify.Params) (classify.Results, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		m := e.maxActive.Load()
		if n <= m || e.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	e.mu.Lock()
	e.lastParams = params
	e.mu.Unlock()

	return e.run(ctx, params)
}

func setupRunner(t *testing.T, engine classify.Engine) (*classify.Runner, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalObjectStore(dir)
	require.NoError(t, err)
	return classify.NewRunner(engine, classify.NewGate(), store, nil), dir
}

func writeOutputFolder(t *testing.T) string {
	t.Helper()
	folder := filepath.Join(t.TempDir(), "RandomForest-2025")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "reports"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "classification.tif"), []byte("tif"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "reports", "accuracy.csv"), []byte("csv"), 0o644))
	return filepath.Join(folder, "classification.tif")
}

func TestClassifyUploadsOutputFolder(t *testing.T) {
	output := writeOutputFolder(t)
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		return classify.Results{"RASTER_OUTPUT": output}, nil
	}}
	runner, storeDir := setupRunner(t, engine)

	resp, err := runner.Classify(context.Background(), map[string]any{"CLASSIFICATION_FOLDER": "/data/out"})
	require.NoError(t, err)

	assert.Equal(t, api.ClassificationSuccess, resp.Status)
	assert.Equal(t, "Classification complete. Uploaded to S3", resp.Message)
	assert.Equal(t, output, resp.Result["RASTER_OUTPUT"])

	assert.Equal(t, "/data/out", engine.lastParams["CLASSIFICATION_FOLDER"])
	assert.Equal(t, "relu", engine.lastParams["MLP_ACTIVATION"])

	data, err := os.ReadFile(filepath.Join(storeDir, "data_storage", "RandomForest-2025", "classification.tif"))
	require.NoError(t, err)
	assert.Equal(t, "tif", string(data))

	data, err = os.ReadFile(filepath.Join(storeDir, "data_storage", "RandomForest-2025", "reports", "accuracy.csv"))
	require.NoError(t, err)
	assert.Equal(t, "csv", string(data))
}

func TestClassifySkipsUploadForInvalidOutput(t *testing.T) {
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		return classify.Results{"RASTER_OUTPUT": "/does/not/exist.tif"}, nil
	}}
	runner, storeDir := setupRunner(t, engine)

	resp, err := runner.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, api.ClassificationSuccess, resp.Status)
	assert.Equal(t, "Classification complete. Skipped S3 (Output path invalid)", resp.Message)

	entries, err := os.ReadDir(storeDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClassifyAlgorithmFailure(t *testing.T) {
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		return nil, classify.ErrAlgorithmFailed
	}}
	runner, _ := setupRunner(t, engine)

	resp, err := runner.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, api.ClassificationResponse{Status: api.ClassificationFailure, Message: "Algorithm reported failure"}, resp)
}

func TestClassifyEngineError(t *testing.T) {
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		return nil, errors.New("band files missing")
	}}
	runner, _ := setupRunner(t, engine)

	resp, err := runner.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, api.ClassificationResponse{Status: api.ClassificationError, Message: "band files missing"}, resp)
}

func TestClassifyEngineNotLoaded(t *testing.T) {
	runner, _ := setupRunner(t, nil)

	_, err := runner.Classify(context.Background(), nil)
	require.ErrorIs(t, err, classify.ErrEngineNotLoaded)
}

func TestClassifyRunsOneAtATime(t *testing.T) {
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		time.Sleep(10 * time.Millisecond)
		return classify.Results{}, nil
	}}
	runner, _ := setupRunner(t, engine)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := runner.Classify(context.Background(), nil)
			assert.NoError(t, err)
			assert.Equal(t, api.ClassificationSuccess, resp.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), engine.maxActive.Load())
}

func TestGateHonoursContext(t *testing.T) {
	gate := classify.NewGate()
	require.NoError(t, gate.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, gate.Acquire(ctx), context.DeadlineExceeded)

	gate.Release()
	require.NoError(t, gate.Acquire(context.Background()))
	gate.Release()
}
