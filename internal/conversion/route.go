package conversion

import (
	"fmt"
	"geo-backend/internal/geo"
	"slices"
	"strings"
)

const (
	CommandMetadata = "api/metadata"
	CommandGetData  = "api/get-data"

	fileStructureSegment = "get-file-structure"
)

// Route is a parsed request path. Either ListFolder is set, or Command,
// RunId and FileName are.
type Route struct {
	Command  string
	RunId    string
	FileName string

	ListFolder string
}

func (r Route) IsListing() bool {
	return r.ListFolder != ""
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// ParseRoute splits /{command...}/{run_id}/{file_name}. A path of the form
// /{anything}/get-file-structure/{folder} is a listing request. Relative
// segments are rejected since every segment ends up in an object key or a
// scratch file name.
func ParseRoute(path string) (Route, error) {
	parts := splitPath(path)
	if slices.ContainsFunc(parts, func(p string) bool { return p == "." || p == ".." }) {
		return Route{}, ErrMalformedRoute
	}

	if len(parts) == 3 && parts[1] == fileStructureSegment {
		return Route{ListFolder: parts[2]}, nil
	}

	if len(parts) < 3 {
		return Route{}, ErrMalformedRoute
	}

	n := len(parts)
	return Route{
		Command:  strings.Join(parts[:n-2], "/"),
		RunId:    parts[n-2],
		FileName: parts[n-1],
	}, nil
}

// Validate rejects command and extension combinations that cannot be served,
// so that no download is attempted for them.
func (r Route) Validate() error {
	if r.IsListing() {
		return nil
	}

	switch r.Command {
	case CommandMetadata:
		if !geo.IsRaster(r.FileName) {
			return fmt.Errorf("%w: metadata is only available for rasters", ErrUnsupportedRoute)
		}
	case CommandGetData:
		if !geo.IsRaster(r.FileName) && !geo.IsVector(r.FileName) {
			return ErrUnsupportedExtension
		}
	default:
		return ErrUnsupportedRoute
	}
	return nil
}

// ObjectKey is where the route's file lives in the bucket.
func (r Route) ObjectKey(prefix string) string {
	return prefix + "/" + r.RunId + "/" + r.FileName
}

// LocalName is the scratch file name, unique per run and file.
func (r Route) LocalName() string {
	return r.RunId + "_" + r.FileName
}
