package geo

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

var ErrUnsupportedVector = errors.New("unsupported vector format")

const (
	ExtTIF     = ".tif"
	ExtGeoJSON = ".geojson"
	ExtGPKG    = ".gpkg"
	ExtSHP     = ".shp"
)

// ShapefileSidecars are the companion files a .shp needs to be read with
// attributes and a CRS.
var ShapefileSidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

func IsRaster(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ExtTIF
}

func IsVector(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ExtGeoJSON, ExtGPKG, ExtSHP:
		return true
	}
	return false
}

// VectorLayer is a decoded feature table with the CRS its coordinates are in.
type VectorLayer struct {
	CRS      CRS
	Features []*geojson.Feature
}

// ReadVector loads a vector file and returns its features reprojected to
// WGS84, with ids assigned in order starting at "0".
func ReadVector(path string) (*geojson.FeatureCollection, error) {
	var (
		layer *VectorLayer
		err   error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ExtGeoJSON:
		layer, err = readGeoJSON(path)
	case ExtGPKG:
		layer, err = readGeoPackage(path)
	case ExtSHP:
		layer, err = readShapefile(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVector, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading vector file %s: %w", filepath.Base(path), err)
	}

	if err := layer.ToWGS84(); err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for i, f := range layer.Features {
		f.ID = strconv.Itoa(i)
		fc.Append(f)
	}
	return fc, nil
}

// ToWGS84 reprojects every geometry in place.
func (l *VectorLayer) ToWGS84() error {
	if l.CRS == WGS84 {
		return nil
	}
	if l.CRS == Undefined {
		for _, f := range l.Features {
			if f.Geometry != nil {
				return fmt.Errorf("cannot transform naive geometries: %w", ErrMissingCRS)
			}
		}
		l.CRS = WGS84
		return nil
	}

	transform, err := NewWGS84Transformer(l.CRS)
	if err != nil {
		return err
	}

	var projErr error
	proj := transform.Projection(&projErr)
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		f.Geometry = project.Geometry(orb.Clone(f.Geometry), proj)
		if projErr != nil {
			return projErr
		}
	}

	l.CRS = WGS84
	return nil
}
