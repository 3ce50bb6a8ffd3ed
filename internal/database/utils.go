package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("classification job not found")

func CreateJob(ctx context.Context, txn *gorm.DB, params map[string]any) (*ClassificationJob, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("error serializing job params: %w", err)
	}

	job := &ClassificationJob{
		Id:           uuid.New(),
		Status:       JobQueued,
		Params:       datatypes.JSON(data),
		CreationTime: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(job).Error; err != nil {
		slog.Error("error creating classification job", "error", err)
		return nil, err
	}
	return job, nil
}

func GetJob(ctx context.Context, txn *gorm.DB, jobId uuid.UUID) (*ClassificationJob, error) {
	var job ClassificationJob
	if err := txn.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the newest jobs first. An empty status matches all jobs
// and a non-positive limit means no limit.
func ListJobs(ctx context.Context, txn *gorm.DB, status string, limit int) ([]ClassificationJob, error) {
	query := txn.WithContext(ctx).Order("creation_time DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []ClassificationJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&ClassificationJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating classification job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

// FinishJob records the outcome of a job and marks it COMPLETED or FAILED.
func FinishJob(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status, message string, results map[string]any) error {
	updates := map[string]any{
		"status":          status,
		"message":         message,
		"completion_time": time.Now().UTC(),
	}

	if results != nil {
		data, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("error serializing job results: %w", err)
		}
		updates["results"] = datatypes.JSON(data)
	}

	if err := txn.WithContext(ctx).Model(&ClassificationJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error saving classification job result", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}
