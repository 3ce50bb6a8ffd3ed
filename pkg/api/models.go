package api

import (
	"time"

	"github.com/google/uuid"
)

// FileStructure maps a run id to the files stored under it.
type FileStructure map[string][]string

type RasterMetadata struct {
	Bounds   [4]float64 `json:"bounds"`
	CRS      string     `json:"crs"`
	FileType string     `json:"file_type"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	ClassificationSuccess = "success"
	ClassificationFailure = "failure"
	ClassificationError   = "error"
)

type ClassificationResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Result  map[string]any `json:"result,omitempty"`
}

type SubmitJobResponse struct {
	JobId uuid.UUID `json:"job_id"`
}

type ListJobsParams struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type ClassificationJob struct {
	Id             uuid.UUID
	Status         string
	Message        string         `json:"Message,omitempty"`
	Params         map[string]any `json:"Params,omitempty"`
	Results        map[string]any `json:"Results,omitempty"`
	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}
