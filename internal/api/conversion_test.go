package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	backend "geo-backend/internal/api"
	"geo-backend/internal/conversion"
	"geo-backend/internal/geo/geotest"
	"geo-backend/internal/storage"
	"geo-backend/pkg/api"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupConversionRouter(t *testing.T) (chi.Router, storage.ObjectStore) {
	t.Helper()
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	service := backend.NewConversionService(conversion.NewService(store, t.TempDir()))
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router, store
}

func doGet(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestConversionHealth(t *testing.T) {
	router, _ := setupConversionRouter(t)

	rec := doGet(router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversionFileStructure(t *testing.T) {
	router, store := setupConversionRouter(t)
	ctx := context.Background()
	require.NoError(t, store.PutObject(ctx, "data_storage/run-1/a.tif", strings.NewReader("a")))
	require.NoError(t, store.PutObject(ctx, "data_storage/run-1/b.geojson", strings.NewReader("b")))
	require.NoError(t, store.PutObject(ctx, "data_storage/run-2/c.gpkg", strings.NewReader("c")))

	rec := doGet(router, "/api/get-file-structure/data_storage")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var structure api.FileStructure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &structure))
	assert.Equal(t, api.FileStructure{
		"run-1": {"a.tif", "b.geojson"},
		"run-2": {"c.gpkg"},
	}, structure)
}

func TestConversionRasterIsRawPNG(t *testing.T) {
	router, store := setupConversionRouter(t)
	data, err := geotest.GeoTIFF{Width: 2, Height: 2, Pixels: []uint16{1, 2, 3, 4}}.Encode()
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), "data_storage/run-1/image.tif", bytes.NewReader(data)))

	rec := doGet(router, "/api/get-data/run-1/image.tif")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
}

func TestConversionErrors(t *testing.T) {
	router, _ := setupConversionRouter(t)

	cases := []struct {
		path    string
		code    int
		message string
	}{
		{"/api", http.StatusBadRequest, "Invalid URL structure."},
		{"/api/get-data/run-1/notes.txt", http.StatusNotFound, "Unsupported extension"},
		{"/api/metadata/run-1/parcels.geojson", http.StatusNotFound, "Unsupported route"},
		{"/api/unknown/run-1/image.tif", http.StatusNotFound, "Unsupported route"},
	}

	for _, c := range cases {
		rec := doGet(router, c.path)
		assert.Equal(t, c.code, rec.Code, c.path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), c.path)

		var body api.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), c.path)
		assert.Equal(t, c.message, body.Error, c.path)
	}
}

func TestConversionMissingObject(t *testing.T) {
	router, _ := setupConversionRouter(t)

	rec := doGet(router, "/api/get-data/run-1/missing.tif")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteEnvelopeBadPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	backend.WriteEnvelope(rec, conversion.Response{StatusCode: http.StatusOK, Body: "%%%", IsBase64Encoded: true})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
