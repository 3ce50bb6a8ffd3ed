package main

import (
	"geo-backend/internal/conversion"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
)

func TestRequestPath(t *testing.T) {
	req := events.APIGatewayProxyRequest{
		Path:           "/prod/api/get-data/run-1/a.tif",
		PathParameters: map[string]string{"proxy": "api/get-data/run-1/a.tif"},
	}
	assert.Equal(t, "/api/get-data/run-1/a.tif", requestPath(req))

	req = events.APIGatewayProxyRequest{Path: "/api/metadata/run-1/a.tif"}
	assert.Equal(t, "/api/metadata/run-1/a.tif", requestPath(req))
}

func TestToProxyResponse(t *testing.T) {
	resp := toProxyResponse(conversion.PNGResponse([]byte{0x89, 'P', 'N', 'G'}))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsBase64Encoded)
	assert.Equal(t, "image/png", resp.Headers["Content-Type"])
	assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "iVBORw==", resp.Body)
}
