package api

import (
	"encoding/json"
	"errors"
	"geo-backend/internal/classify"
	"geo-backend/internal/database"
	"geo-backend/internal/messaging"
	"geo-backend/pkg/api"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const maxOverridesBytes = 1 << 20

type ClassifierService struct {
	db        *gorm.DB
	runner    *classify.Runner
	publisher messaging.Publisher
}

func NewClassifierService(db *gorm.DB, runner *classify.Runner, publisher messaging.Publisher) *ClassifierService {
	return &ClassifierService{db: db, runner: runner, publisher: publisher}
}

func (s *ClassifierService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/ml-request", func(r chi.Router) {
		r.Post("/", s.Classify)
		r.Get("/params", RestHandler(s.GetParams))
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", RestHandler(s.SubmitJob))
			r.Get("/", RestHandler(s.ListJobs))
			r.Get("/{job_id}", RestHandler(s.GetJob))
		})
	})
}

// GetParams reports the parameters a request with no overrides would run
// with.
func (s *ClassifierService) GetParams(r *http.Request) (any, error) {
	return s.runner.Defaults(), nil
}

// parseOverrides reads an optional JSON object from the request body. An
// empty body means no overrides.
func parseOverrides(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxOverridesBytes))
	if err != nil {
		slog.Error("error reading request body", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read request body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var overrides map[string]any
	if err := json.Unmarshal(data, &overrides); err != nil {
		slog.Error("error parsing classification overrides", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "request body must be a JSON object of parameter overrides")
	}
	return overrides, nil
}

// Classify runs the algorithm synchronously. Failure and error outcomes are
// reported with status 500 and the classification response body.
func (s *ClassifierService) Classify(w http.ResponseWriter, r *http.Request) {
	overrides, err := parseOverrides(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp, err := s.runner.Classify(r.Context(), overrides)
	if err != nil {
		if errors.Is(err, classify.ErrEngineNotLoaded) {
			WriteError(w, CodedError(http.StatusInternalServerError, err))
			return
		}
		WriteError(w, CodedErrorf(http.StatusServiceUnavailable, "classification engine unavailable: %v", err))
		return
	}

	code := http.StatusOK
	if resp.Status != api.ClassificationSuccess {
		code = http.StatusInternalServerError
	}
	WriteJson(w, code, resp)
}

func (s *ClassifierService) SubmitJob(r *http.Request) (any, error) {
	overrides, err := parseOverrides(r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	job, err := database.CreateJob(ctx, s.db, overrides)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create classification job")
	}

	if err := s.publisher.PublishClassificationTask(ctx, messaging.ClassificationTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing classification task", "job_id", job.Id, "error", err)
		if err := database.FinishJob(ctx, s.db, job.Id, database.JobFailed, "failed to queue classification job", nil); err != nil {
			slog.Error("error marking unqueued job failed", "job_id", job.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue classification job")
	}

	slog.Info("submitted classification job", "job_id", job.Id)
	return api.SubmitJobResponse{JobId: job.Id}, nil
}

func (s *ClassifierService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	job, err := database.GetJob(r.Context(), s.db, jobId)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "classification job not found")
		}
		slog.Error("error getting classification job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving classification job")
	}

	return convertJob(*job), nil
}

var jobStatuses = map[string]bool{
	database.JobQueued:    true,
	database.JobRunning:   true,
	database.JobCompleted: true,
	database.JobFailed:    true,
}

func (s *ClassifierService) ListJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListJobsParams](r)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(params.Status)
	if status != "" && !jobStatuses[status] {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid job status '%s'", params.Status)
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must be non-negative")
	}

	jobs, err := database.ListJobs(r.Context(), s.db, status, params.Limit)
	if err != nil {
		slog.Error("error listing classification jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing classification jobs")
	}

	results := make([]api.ClassificationJob, 0, len(jobs))
	for _, job := range jobs {
		results = append(results, convertJob(job))
	}
	return results, nil
}

func convertJob(job database.ClassificationJob) api.ClassificationJob {
	result := api.ClassificationJob{
		Id:           job.Id,
		Status:       job.Status,
		Message:      job.Message,
		CreationTime: job.CreationTime,
	}

	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &result.Params); err != nil {
			slog.Error("error parsing stored job params", "job_id", job.Id, "error", err)
		}
	}
	if len(job.Results) > 0 {
		if err := json.Unmarshal(job.Results, &result.Results); err != nil {
			slog.Error("error parsing stored job results", "job_id", job.Id, "error", err)
		}
	}
	if job.CompletionTime.Valid {
		completed := job.CompletionTime.Time
		result.CompletionTime = &completed
	}

	return result
}
