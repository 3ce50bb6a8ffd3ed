package geo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
)

// legacyCRS is the pre-RFC 7946 "crs" member still written by GDAL for
// non-WGS84 output.
type legacyCRS struct {
	CRS *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
	Type string `json:"type"`
}

func readGeoJSON(path string) (*VectorLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeGeoJSON(data)
}

func decodeGeoJSON(data []byte) (*VectorLayer, error) {
	var head legacyCRS
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid geojson: %w", err)
	}

	crs := WGS84
	if head.CRS != nil && head.CRS.Properties.Name != "" {
		parsed, err := ParseCRS(head.CRS.Properties.Name)
		if err != nil {
			return nil, err
		}
		crs = parsed
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("invalid geojson feature collection: %w", err)
		}
		return &VectorLayer{CRS: crs, Features: fc.Features}, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("invalid geojson feature: %w", err)
		}
		return &VectorLayer{CRS: crs, Features: []*geojson.Feature{f}}, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("invalid geojson geometry: %w", err)
		}
		return &VectorLayer{CRS: crs, Features: []*geojson.Feature{geojson.NewFeature(g.Geometry())}}, nil
	}
}
