package classify_test

import (
	"context"
	"encoding/json"
	"geo-backend/internal/classify"
	"geo-backend/internal/database"
	"geo-backend/internal/messaging"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

type recordedTask struct {
	queue                   string
	payload                 []byte
	acked, nacked, rejected bool
}

func (t *recordedTask) Type() string    { return t.queue }
func (t *recordedTask) Payload() []byte { return t.payload }
func (t *recordedTask) Ack() error      { t.acked = true; return nil }
func (t *recordedTask) Nack() error     { t.nacked = true; return nil }
func (t *recordedTask) Reject() error   { t.rejected = true; return nil }

func jobTask(t *testing.T, jobId uuid.UUID) *recordedTask {
	data, err := json.Marshal(messaging.ClassificationTaskPayload{JobId: jobId})
	require.NoError(t, err)
	return &recordedTask{queue: messaging.ClassificationQueue, payload: data}
}

func TestProcessTaskCompletesJob(t *testing.T) {
	db := createDB(t)
	output := writeOutputFolder(t)
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		return classify.Results{"RASTER_OUTPUT": output}, nil
	}}
	runner, _ := setupRunner(t, engine)

	job, err := database.CreateJob(context.Background(), db, map[string]any{"TRAINING_SIZE": 0.5})
	require.NoError(t, err)

	task := jobTask(t, job.Id)
	classify.NewJobProcessor(db, runner, messaging.NewInMemoryQueue()).ProcessTask(task)
	assert.True(t, task.acked)

	stored, err := database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, stored.Status)
	assert.True(t, stored.CompletionTime.Valid)
	assert.Equal(t, "Classification complete. "+classify.UploadedStatus, stored.Message)

	var results map[string]any
	require.NoError(t, json.Unmarshal(stored.Results, &results))
	assert.Equal(t, output, results["RASTER_OUTPUT"])
	assert.Equal(t, 0.5, engine.lastParams["TRAINING_SIZE"])
}

func TestProcessTaskFailedAlgorithm(t *testing.T) {
	db := createDB(t)
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		return nil, classify.ErrAlgorithmFailed
	}}
	runner, _ := setupRunner(t, engine)

	job, err := database.CreateJob(context.Background(), db, nil)
	require.NoError(t, err)

	task := jobTask(t, job.Id)
	classify.NewJobProcessor(db, runner, messaging.NewInMemoryQueue()).ProcessTask(task)
	assert.True(t, task.acked)

	stored, err := database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, stored.Status)
	assert.Equal(t, classify.ErrAlgorithmFailed.Error(), stored.Message)
}

func TestProcessTaskEngineNotLoaded(t *testing.T) {
	db := createDB(t)
	runner, _ := setupRunner(t, nil)

	job, err := database.CreateJob(context.Background(), db, nil)
	require.NoError(t, err)

	task := jobTask(t, job.Id)
	classify.NewJobProcessor(db, runner, messaging.NewInMemoryQueue()).ProcessTask(task)
	assert.True(t, task.acked)

	stored, err := database.GetJob(context.Background(), db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, stored.Status)
	assert.Equal(t, classify.ErrEngineNotLoaded.Error(), stored.Message)
}

func TestProcessTaskMalformedPayload(t *testing.T) {
	db := createDB(t)
	runner, _ := setupRunner(t, &fakeEngine{})

	task := &recordedTask{queue: messaging.ClassificationQueue, payload: []byte("{not json")}
	classify.NewJobProcessor(db, runner, messaging.NewInMemoryQueue()).ProcessTask(task)
	assert.True(t, task.rejected)
	assert.False(t, task.acked)
}

func TestProcessTaskUnknownJob(t *testing.T) {
	db := createDB(t)
	runner, _ := setupRunner(t, &fakeEngine{})

	task := jobTask(t, uuid.New())
	classify.NewJobProcessor(db, runner, messaging.NewInMemoryQueue()).ProcessTask(task)
	assert.True(t, task.nacked)
}

func TestJobProcessorConsumesQueue(t *testing.T) {
	db := createDB(t)
	engine := &fakeEngine{run: func(ctx context.Context, params classify.Params) (classify.Results, error) {
		return classify.Results{}, nil
	}}
	runner, _ := setupRunner(t, engine)

	queue := messaging.NewInMemoryQueue()
	proc := classify.NewJobProcessor(db, runner, queue)

	done := make(chan struct{})
	go func() {
		proc.Start()
		close(done)
	}()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job, err := database.CreateJob(context.Background(), db, nil)
		require.NoError(t, err)
		require.NoError(t, queue.PublishClassificationTask(context.Background(), messaging.ClassificationTaskPayload{JobId: job.Id}))
		ids = append(ids, job.Id)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := database.GetJob(context.Background(), db, id)
			if err != nil || job.Status != database.JobCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	proc.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop after queue closed")
	}
	assert.Equal(t, int32(1), engine.maxActive.Load())

	err := queue.PublishClassificationTask(context.Background(), messaging.ClassificationTaskPayload{JobId: uuid.New()})
	assert.ErrorIs(t, err, messaging.ErrQueueClosed)
}
