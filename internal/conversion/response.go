package conversion

import (
	"encoding/base64"
	"encoding/json"
	"geo-backend/pkg/api"
	"log/slog"
	"net/http"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypePNG  = "image/png"
)

// Response is the envelope returned for every request. It serializes to the
// API Gateway proxy response shape.
type Response struct {
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`
}

func headers(contentType string) map[string]string {
	return map[string]string{
		"Content-Type":                contentType,
		"Access-Control-Allow-Origin": "*",
	}
}

func JSONResponse(status int, body any) Response {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		return ErrorResponse(err)
	}
	return RawJSONResponse(status, data)
}

func RawJSONResponse(status int, data []byte) Response {
	return Response{
		StatusCode: status,
		Headers:    headers(ContentTypeJSON),
		Body:       string(data),
	}
}

func PNGResponse(data []byte) Response {
	return Response{
		StatusCode:      http.StatusOK,
		Headers:         headers(ContentTypePNG),
		Body:            base64.StdEncoding.EncodeToString(data),
		IsBase64Encoded: true,
	}
}

func ErrorResponse(err error) Response {
	data, _ := json.Marshal(api.ErrorResponse{Error: errorMessage(err)})
	return RawJSONResponse(StatusCode(err), data)
}

// Payload returns the raw body bytes, decoding base64 bodies.
func (r Response) Payload() ([]byte, error) {
	if r.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(r.Body)
	}
	return []byte(r.Body), nil
}
