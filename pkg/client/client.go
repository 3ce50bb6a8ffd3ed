package client

import (
	"context"
	"encoding/json"
	"fmt"
	"geo-backend/pkg/api"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the conversion server and the classification server.
type Client struct {
	conversion *resty.Client
	classifier *resty.Client
}

func New(conversionURL, classifierURL string) *Client {
	return &Client{
		conversion: resty.New().SetBaseURL(conversionURL).SetTimeout(2 * time.Minute),
		classifier: resty.New().SetBaseURL(classifierURL),
	}
}

func apiError(res *resty.Response) error {
	var body api.ErrorResponse
	if err := json.Unmarshal(res.Body(), &body); err == nil && body.Error != "" {
		return &APIError{StatusCode: res.StatusCode(), Message: body.Error}
	}
	return &APIError{StatusCode: res.StatusCode(), Message: res.String()}
}

func do[T any](req *resty.Request, method, path string) (T, error) {
	var result T
	res, err := req.Execute(method, path)
	if err != nil {
		return result, fmt.Errorf("error sending request to %s: %w", path, err)
	}
	if !res.IsSuccess() {
		return result, apiError(res)
	}
	if err := json.Unmarshal(res.Body(), &result); err != nil {
		return result, fmt.Errorf("error parsing response from %s: %w", path, err)
	}
	return result, nil
}

func (c *Client) FileStructure(ctx context.Context, folder string) (api.FileStructure, error) {
	return do[api.FileStructure](c.conversion.R().SetContext(ctx), http.MethodGet, "/api/get-file-structure/"+url.PathEscape(folder))
}

func (c *Client) Metadata(ctx context.Context, runId, fileName string) (api.RasterMetadata, error) {
	return do[api.RasterMetadata](c.conversion.R().SetContext(ctx), http.MethodGet, dataPath("metadata", runId, fileName))
}

func dataPath(command, runId, fileName string) string {
	return "/api/" + command + "/" + url.PathEscape(runId) + "/" + url.PathEscape(fileName)
}

// Download is a streamed get-data response. The caller must close Body.
type Download struct {
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// GetData streams a converted file: PNG bytes for rasters and GeoJSON for
// vectors. Size is -1 when the server does not report a length.
func (c *Client) GetData(ctx context.Context, runId, fileName string) (*Download, error) {
	res, err := c.conversion.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(dataPath("get-data", runId, fileName))
	if err != nil {
		return nil, fmt.Errorf("error requesting %s/%s: %w", runId, fileName, err)
	}

	raw := res.RawBody()
	if !res.IsSuccess() {
		defer raw.Close()
		data, _ := io.ReadAll(raw)
		var body api.ErrorResponse
		if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
			return nil, &APIError{StatusCode: res.StatusCode(), Message: body.Error}
		}
		return nil, &APIError{StatusCode: res.StatusCode(), Message: string(data)}
	}

	size := int64(-1)
	if length := res.Header().Get("Content-Length"); length != "" {
		if n, err := strconv.ParseInt(length, 10, 64); err == nil {
			size = n
		}
	}

	return &Download{ContentType: res.Header().Get("Content-Type"), Size: size, Body: raw}, nil
}

// Classify runs a synchronous classification. Algorithm failures are
// returned in the response with a nil error. An unloaded engine or an
// unreachable server is an error.
func (c *Client) Classify(ctx context.Context, overrides map[string]any) (api.ClassificationResponse, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}

	res, err := c.classifier.R().SetContext(ctx).SetBody(overrides).Post("/ml-request")
	if err != nil {
		return api.ClassificationResponse{}, fmt.Errorf("error sending classification request: %w", err)
	}

	var result api.ClassificationResponse
	if err := json.Unmarshal(res.Body(), &result); err == nil && result.Status != "" {
		return result, nil
	}
	if !res.IsSuccess() {
		return api.ClassificationResponse{}, apiError(res)
	}
	return api.ClassificationResponse{}, fmt.Errorf("unexpected classification response: %s", res.String())
}

// Params returns the classifier's default parameters.
func (c *Client) Params(ctx context.Context) (map[string]any, error) {
	return do[map[string]any](c.classifier.R().SetContext(ctx), http.MethodGet, "/ml-request/params")
}

func (c *Client) SubmitJob(ctx context.Context, overrides map[string]any) (uuid.UUID, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}

	res, err := do[api.SubmitJobResponse](c.classifier.R().SetContext(ctx).SetBody(overrides), http.MethodPost, "/ml-request/jobs")
	if err != nil {
		return uuid.Nil, err
	}
	return res.JobId, nil
}

func (c *Client) GetJob(ctx context.Context, jobId uuid.UUID) (api.ClassificationJob, error) {
	return do[api.ClassificationJob](c.classifier.R().SetContext(ctx), http.MethodGet, "/ml-request/jobs/"+jobId.String())
}

func (c *Client) ListJobs(ctx context.Context, params api.ListJobsParams) ([]api.ClassificationJob, error) {
	req := c.classifier.R().SetContext(ctx)
	if params.Status != "" {
		req.SetQueryParam("status", params.Status)
	}
	if params.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(params.Limit))
	}
	return do[[]api.ClassificationJob](req, http.MethodGet, "/ml-request/jobs")
}

// WaitForJob polls until the job is COMPLETED or FAILED.
func (c *Client) WaitForJob(ctx context.Context, jobId uuid.UUID, interval time.Duration) (api.ClassificationJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobId)
		if err != nil {
			return job, err
		}
		if job.Status == "COMPLETED" || job.Status == "FAILED" {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
