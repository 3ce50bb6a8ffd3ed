package geo

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// CRS is an EPSG code. The zero value means the dataset declared no
// coordinate reference system.
type CRS int

const (
	Undefined CRS = 0
	WGS84     CRS = 4326
)

var (
	ErrMissingCRS     = errors.New("dataset has no coordinate reference system")
	ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")
)

func (c CRS) String() string {
	if c == Undefined {
		return "undefined"
	}
	return fmt.Sprintf("EPSG:%d", int(c))
}

var epsgCodePattern = regexp.MustCompile(`(?i)EPSG:{1,2}(?:[0-9.]*:)?(\d+)$`)

// ParseCRS understands "EPSG:4326", "urn:ogc:def:crs:EPSG::27700" and the
// OGC CRS84 aliases used by GeoJSON.
func ParseCRS(name string) (CRS, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Undefined, ErrMissingCRS
	}

	upper := strings.ToUpper(name)
	if strings.HasSuffix(upper, "CRS84") || strings.HasSuffix(upper, "CRS:84") {
		return WGS84, nil
	}

	if m := epsgCodePattern.FindStringSubmatch(name); m != nil {
		code, err := strconv.Atoi(m[1])
		if err != nil {
			return Undefined, fmt.Errorf("invalid epsg code in %q: %w", name, err)
		}
		return CRS(code), nil
	}

	return Undefined, fmt.Errorf("%w: %q", ErrUnsupportedCRS, name)
}

// Transformer converts x/y pairs from one CRS into lon/lat on WGS84.
type Transformer func(x, y float64) (lon, lat float64, err error)

func NewWGS84Transformer(from CRS) (Transformer, error) {
	if from == Undefined {
		return nil, ErrMissingCRS
	}
	if from == WGS84 {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}

	epsg := wgs84.EPSG()
	source := epsg.Code(int(from))
	if source == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCRS, from)
	}
	transform := wgs84.Transform(source, epsg.Code(int(WGS84)))

	return func(x, y float64) (float64, float64, error) {
		lon, lat, _ := transform(x, y, 0)
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			return 0, 0, fmt.Errorf("unable to transform (%v, %v) from %s to %s", x, y, from, WGS84)
		}
		return lon, lat, nil
	}, nil
}

// Projection adapts the transformer to orb. Points that fail to transform
// are recorded in errp and left unchanged.
func (t Transformer) Projection(errp *error) orb.Projection {
	return func(p orb.Point) orb.Point {
		lon, lat, err := t(p[0], p[1])
		if err != nil {
			if *errp == nil {
				*errp = err
			}
			return p
		}
		return orb.Point{lon, lat}
	}
}
