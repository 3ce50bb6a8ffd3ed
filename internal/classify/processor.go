package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"geo-backend/internal/database"
	"geo-backend/internal/messaging"
	"geo-backend/pkg/api"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobProcessor consumes queued classification jobs and runs them one by one
// through the shared Runner.
type JobProcessor struct {
	db       *gorm.DB
	runner   *Runner
	receiver messaging.Receiver
}

func NewJobProcessor(db *gorm.DB, runner *Runner, receiver messaging.Receiver) *JobProcessor {
	return &JobProcessor{db: db, runner: runner, receiver: receiver}
}

func (proc *JobProcessor) Start() {
	slog.Info("starting classification job processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *JobProcessor) Stop() {
	slog.Info("stopping classification job processor")
	proc.receiver.Close()
}

func (proc *JobProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	if task.Type() != messaging.ClassificationQueue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var payload messaging.ClassificationTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling classification task", "error", err)
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err := proc.processJob(ctx, payload); err != nil {
		slog.Error("error processing classification job", "job_id", payload.JobId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
		return
	}

	slog.Info("successfully processed classification job", "job_id", payload.JobId)
	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message from queue", "error", err)
	}
}

func (proc *JobProcessor) processJob(ctx context.Context, payload messaging.ClassificationTaskPayload) error {
	job, err := database.GetJob(ctx, proc.db, payload.JobId)
	if err != nil {
		return fmt.Errorf("error getting classification job: %w", err)
	}

	if job.Status != database.JobQueued {
		slog.Warn("classification job is not queued, skipping", "job_id", job.Id, "status", job.Status)
		return nil
	}

	var overrides map[string]any
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &overrides); err != nil {
			return proc.fail(ctx, job.Id, fmt.Sprintf("invalid job params: %v", err))
		}
	}

	if err := database.UpdateJobStatus(ctx, proc.db, job.Id, database.JobRunning); err != nil {
		return fmt.Errorf("error marking classification job running: %w", err)
	}

	slog.Info("running classification job", "job_id", job.Id)
	resp, err := proc.runner.Classify(ctx, overrides)
	if err != nil {
		if errors.Is(err, ErrEngineNotLoaded) {
			return proc.fail(ctx, job.Id, err.Error())
		}
		return proc.fail(ctx, job.Id, fmt.Sprintf("classification interrupted: %v", err))
	}

	status := database.JobFailed
	if resp.Status == api.ClassificationSuccess {
		status = database.JobCompleted
	}

	if err := database.FinishJob(ctx, proc.db, job.Id, status, resp.Message, resp.Result); err != nil {
		return fmt.Errorf("error saving classification job result: %w", err)
	}
	return nil
}

func (proc *JobProcessor) fail(ctx context.Context, jobId uuid.UUID, message string) error {
	slog.Error("classification job failed", "job_id", jobId, "message", message)
	if err := database.FinishJob(ctx, proc.db, jobId, database.JobFailed, message, nil); err != nil {
		return fmt.Errorf("error marking classification job failed: %w", err)
	}
	return nil
}
