package geo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

func readShapefile(path string) (layer *VectorLayer, err error) {
	// go-shp panics on truncated records instead of returning errors.
	defer func() {
		if r := recover(); r != nil {
			layer, err = nil, fmt.Errorf("malformed shapefile: %v", r)
		}
	}()

	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening shapefile: %w", err)
	}
	defer reader.Close()

	crs, err := readPrj(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return nil, err
	}

	fields := reader.Fields()
	features := make([]*geojson.Feature, 0)

	for reader.Next() {
		row, shape := reader.Shape()

		geom, err := shapeToGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row, err)
		}

		f := geojson.NewFeature(geom)
		for i, field := range fields {
			f.Properties[field.String()] = parseAttribute(field, reader.ReadAttribute(row, i))
		}
		features = append(features, f)
	}

	return &VectorLayer{CRS: crs, Features: features}, nil
}

func shapeToGeometry(shape shp.Shape) (orb.Geometry, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(s.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(s.Points), nil
	case *shp.MultiPointM:
		return multiPoint(s.Points), nil
	case *shp.PolyLine:
		return lines(s.Parts, s.Points), nil
	case *shp.PolyLineZ:
		return lines(s.Parts, s.Points), nil
	case *shp.PolyLineM:
		return lines(s.Parts, s.Points), nil
	case *shp.Polygon:
		return polygons(s.Parts, s.Points), nil
	case *shp.PolygonZ:
		return polygons(s.Parts, s.Points), nil
	case *shp.PolygonM:
		return polygons(s.Parts, s.Points), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", shape)
	}
}

func multiPoint(points []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, orb.Point{p.X, p.Y})
	}
	return mp
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func lines(parts []int32, points []shp.Point) orb.Geometry {
	split := splitParts(parts, points)
	if len(split) == 1 {
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, 0, len(split))
	for _, part := range split {
		mls = append(mls, orb.LineString(part))
	}
	return mls
}

// polygons groups rings into polygons. Outer rings are clockwise, holes are
// counter-clockwise and belong to the outer ring that contains them.
func polygons(parts []int32, points []shp.Point) orb.Geometry {
	var (
		polys orb.MultiPolygon
		holes []orb.Ring
	)
	for _, part := range splitParts(parts, points) {
		ring := orb.Ring(part)
		if ring.Orientation() == orb.CCW {
			holes = append(holes, ring)
			continue
		}
		polys = append(polys, orb.Polygon{ring})
	}

	for _, hole := range holes {
		placed := false
		for i := range polys {
			if len(hole) > 0 && planar.RingContains(polys[i][0], hole[0]) {
				polys[i] = append(polys[i], hole)
				placed = true
				break
			}
		}
		if !placed {
			// An unmatched ring is treated as its own shell.
			polys = append(polys, orb.Polygon{hole})
		}
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	return polys
}

func parseAttribute(field shp.Field, raw string) any {
	value := strings.TrimSpace(strings.Trim(raw, "\x00"))

	switch field.Fieldtype {
	case 'N', 'F':
		if value == "" || strings.Trim(value, "*") == "" {
			return nil
		}
		if field.Fieldtype == 'N' && field.Precision == 0 {
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				return n
			}
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return value
	case 'L':
		switch strings.ToUpper(value) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		default:
			return nil
		}
	default:
		return value
	}
}

var (
	prjAuthority = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	prjName      = regexp.MustCompile(`^\s*(?:PROJCS|GEOGCS|PROJCRS|GEOGCRS)\[\s*"([^"]+)"`)
	prjUTM       = regexp.MustCompile(`(?i)^WGS_1984_UTM_Zone_(\d{1,2})([NS])$`)
	prjETRSUTM   = regexp.MustCompile(`(?i)^ETRS_1989_UTM_Zone_(?:N)?(\d{1,2})(?:N)?$`)
)

// esriNames covers .prj files written without EPSG authority codes.
var esriNames = map[string]CRS{
	"GCS_WGS_1984":                           WGS84,
	"WGS 84":                                 WGS84,
	"GCS_ETRS_1989":                          4258,
	"British_National_Grid":                  27700,
	"OSGB_1936_British_National_Grid":        27700,
	"WGS_1984_Web_Mercator_Auxiliary_Sphere": 3857,
	"Popular_Visualisation_CRS_Mercator":     3857,
	"WGS_84_Pseudo_Mercator":                 3857,
	"WGS 84 / Pseudo-Mercator":               3857,
}

// readPrj returns Undefined when the shapefile has no .prj.
func readPrj(path string) (CRS, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Undefined, nil
	}
	if err != nil {
		return Undefined, fmt.Errorf("error reading prj: %w", err)
	}
	return ParseWKT(string(data))
}

// ParseWKT resolves the EPSG code of a WKT1 definition. The last AUTHORITY
// node belongs to the outermost CRS.
func ParseWKT(wkt string) (CRS, error) {
	if matches := prjAuthority.FindAllStringSubmatch(wkt, -1); len(matches) > 0 {
		code, err := strconv.Atoi(matches[len(matches)-1][1])
		if err != nil {
			return Undefined, fmt.Errorf("invalid epsg authority: %w", err)
		}
		return CRS(code), nil
	}

	m := prjName.FindStringSubmatch(wkt)
	if m == nil {
		return Undefined, fmt.Errorf("%w: unrecognized prj", ErrUnsupportedCRS)
	}
	name := m[1]

	if crs, ok := esriNames[name]; ok {
		return crs, nil
	}
	if zm := prjUTM.FindStringSubmatch(name); zm != nil {
		zone, _ := strconv.Atoi(zm[1])
		if strings.EqualFold(zm[2], "S") {
			return CRS(32700 + zone), nil
		}
		return CRS(32600 + zone), nil
	}
	if zm := prjETRSUTM.FindStringSubmatch(name); zm != nil {
		zone, _ := strconv.Atoi(zm[1])
		return CRS(25800 + zone), nil
	}

	return Undefined, fmt.Errorf("%w: %q", ErrUnsupportedCRS, name)
}
