package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"geo-backend/internal/conversion"
	"geo-backend/internal/geo/geotest"
	"geo-backend/internal/storage"
	"geo-backend/pkg/api"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func TestS3ObjectStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := setupObjectStore(t, ctx, bucketName)

	require.NoError(t, store.PutObject(ctx, "data_storage/run-1/a.geojson", strings.NewReader("a")))
	require.NoError(t, store.PutObject(ctx, "data_storage/run-2/b.tif", strings.NewReader("bb")))

	objects, err := store.ListObjects(ctx, "data_storage/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []storage.Object{
		{Name: "data_storage/run-1/a.geojson", Size: 1},
		{Name: "data_storage/run-2/b.tif", Size: 2},
	}, objects)

	local := filepath.Join(t.TempDir(), "b.tif")
	require.NoError(t, store.DownloadObject(ctx, "data_storage/run-2/b.tif", local))
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))

	missing := filepath.Join(t.TempDir(), "missing.tif")
	err = store.DownloadObject(ctx, "data_storage/run-2/missing.tif", missing)
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "reports"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(src, "classification.tif"), []byte("tif"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "reports", "accuracy.csv"), []byte("csv"), 0o644))
	require.NoError(t, store.UploadDir(ctx, "data_storage/RandomForest-1", src))

	objects, err = store.ListObjects(ctx, "data_storage/RandomForest-1/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestConversionOverS3(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := setupObjectStore(t, ctx, bucketName)
	service := conversion.NewService(store, t.TempDir())

	tif, err := geotest.GeoTIFF{
		Width: 4, Height: 4, Pixels: geotest.Ramp(4, 4, 0),
		EPSG: 32630, OriginX: 500000, OriginY: 5700000, PixelWidth: 100, PixelHeight: 100,
	}.Encode()
	require.NoError(t, err)
	require.NoError(t, store.PutObject(ctx, "data_storage/run-1/scene.tif", bytes.NewReader(tif)))
	require.NoError(t, store.PutObject(ctx, "data_storage/run-1/points.geojson", strings.NewReader(
		`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Point","coordinates":[1,2]}}]}`,
	)))

	resp := service.Handle(ctx, "/api/get-file-structure/data_storage")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var structure api.FileStructure
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &structure))
	assert.ElementsMatch(t, []string{"points.geojson", "scene.tif"}, structure["run-1"])

	resp = service.Handle(ctx, "/api/metadata/run-1/scene.tif")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	var meta api.RasterMetadata
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &meta))
	assert.Equal(t, "original: EPSG:32630, converted to EPSG:4326", meta.CRS)
	assert.LessOrEqual(t, meta.Bounds[0], meta.Bounds[2])
	assert.LessOrEqual(t, meta.Bounds[1], meta.Bounds[3])

	resp = service.Handle(ctx, "/api/get-data/run-1/scene.tif")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.True(t, resp.IsBase64Encoded)

	resp = service.Handle(ctx, "/api/get-data/run-1/points.geojson")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Contains(t, resp.Body, `"FeatureCollection"`)

	resp = service.Handle(ctx, "/api/get-data/run-1/absent.geojson")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
