package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"geo-backend/internal/geo"
	"geo-backend/internal/storage"
	"geo-backend/pkg/api"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const DefaultPrefix = "data_storage"

type Service struct {
	store      storage.ObjectStore
	scratchDir string
	prefix     string
}

// NewService creates a conversion service that reads objects under
// data_storage/ and uses scratchDir (or the OS temp dir when empty) for
// downloads.
func NewService(store storage.ObjectStore, scratchDir string) *Service {
	return &Service{store: store, scratchDir: scratchDir, prefix: DefaultPrefix}
}

// Handle routes a request path and always returns a complete response.
func (s *Service) Handle(ctx context.Context, path string) Response {
	route, err := ParseRoute(path)
	if err != nil {
		slog.Info("rejected request path", "path", path, "error", err)
		return ErrorResponse(err)
	}

	if route.IsListing() {
		structure, err := s.FileStructure(ctx, route.ListFolder)
		if err != nil {
			slog.Error("error listing file structure", "folder", route.ListFolder, "error", err)
			return ErrorResponse(err)
		}
		return JSONResponse(http.StatusOK, structure)
	}

	if err := route.Validate(); err != nil {
		slog.Info("unsupported request", "command", route.Command, "file", route.FileName, "error", err)
		return ErrorResponse(err)
	}

	resp, err := s.convert(ctx, route)
	if err != nil {
		if StatusCode(err) >= http.StatusInternalServerError {
			slog.Error("error converting file", "command", route.Command, "run_id", route.RunId, "file", route.FileName, "error", err)
		} else {
			slog.Warn("conversion rejected", "command", route.Command, "run_id", route.RunId, "file", route.FileName, "error", err)
		}
		return ErrorResponse(err)
	}
	return resp
}

// FileStructure groups every object under folder/ by run id. Keys with fewer
// than three segments are ignored.
func (s *Service) FileStructure(ctx context.Context, folder string) (api.FileStructure, error) {
	objects, err := s.store.ListObjects(ctx, folder+"/")
	if err != nil {
		return nil, fmt.Errorf("error listing objects in %s: %w", folder, err)
	}

	structure := make(api.FileStructure)
	for _, obj := range objects {
		parts := splitPath(obj.Name)
		if len(parts) < 3 {
			continue
		}
		run, file := parts[1], parts[2]
		files := structure[run]
		// Nested keys list their first sub-directory once per object; keys
		// come back sorted, so only consecutive repeats need collapsing.
		if len(files) > 0 && files[len(files)-1] == file {
			continue
		}
		structure[run] = append(files, file)
	}

	return structure, nil
}

func (s *Service) convert(ctx context.Context, route Route) (Response, error) {
	scratch, err := os.MkdirTemp(s.scratchDir, "convert-")
	if err != nil {
		return Response{}, fmt.Errorf("error creating scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			slog.Error("error removing scratch directory", "dir", scratch, "error", err)
		}
	}()

	local := filepath.Join(scratch, route.LocalName())
	if err := s.download(ctx, route, local); err != nil {
		return Response{}, err
	}

	switch route.Command {
	case CommandMetadata:
		meta, err := s.metadata(local)
		if err != nil {
			return Response{}, err
		}
		return JSONResponse(http.StatusOK, meta), nil

	case CommandGetData:
		if geo.IsRaster(route.FileName) {
			png, err := s.rasterPNG(local)
			if err != nil {
				return Response{}, err
			}
			return PNGResponse(png), nil
		}

		data, err := s.vectorGeoJSON(local)
		if err != nil {
			return Response{}, err
		}
		return RawJSONResponse(http.StatusOK, data), nil
	}

	return Response{}, ErrUnsupportedRoute
}

func (s *Service) download(ctx context.Context, route Route, local string) error {
	key := route.ObjectKey(s.prefix)
	if err := s.store.DownloadObject(ctx, key, local); err != nil {
		return fmt.Errorf("error downloading %s: %w", key, err)
	}

	ext := filepath.Ext(route.FileName)
	if !strings.EqualFold(ext, geo.ExtSHP) {
		return nil
	}

	keyBase, localBase := strings.TrimSuffix(key, ext), strings.TrimSuffix(local, ext)
	for _, sidecar := range geo.ShapefileSidecars {
		err := s.store.DownloadObject(ctx, keyBase+sidecar, localBase+sidecar)
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("error downloading %s: %w", keyBase+sidecar, err)
		}
	}
	return nil
}

func (s *Service) metadata(local string) (api.RasterMetadata, error) {
	meta, err := geo.ReadRasterMetadata(local)
	if err != nil {
		return api.RasterMetadata{}, fmt.Errorf("error reading raster metadata: %w", err)
	}
	return api.RasterMetadata{
		Bounds:   meta.Bounds,
		CRS:      fmt.Sprintf("original: %s, converted to %s", meta.SourceCRS, geo.WGS84),
		FileType: "raster",
	}, nil
}

func (s *Service) rasterPNG(local string) ([]byte, error) {
	out := local + "_temp_output.png"
	defer os.Remove(out)

	if err := geo.RasterToPNG(local, out); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("error reading png output: %w", err)
	}
	return data, nil
}

func (s *Service) vectorGeoJSON(local string) ([]byte, error) {
	fc, err := geo.ReadVector(local)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("error serializing geojson: %w", err)
	}
	return data, nil
}
