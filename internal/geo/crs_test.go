package geo_test

import (
	"geo-backend/internal/geo"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCRS(t *testing.T) {
	cases := map[string]geo.CRS{
		"EPSG:4326":                      geo.WGS84,
		"epsg:3857":                      3857,
		"urn:ogc:def:crs:EPSG::27700":    27700,
		"urn:ogc:def:crs:EPSG:6.6:32630": 32630,
		"urn:ogc:def:crs:OGC:1.3:CRS84":  geo.WGS84,
		"OGC:CRS84":                      geo.WGS84,
	}
	for name, expected := range cases {
		crs, err := geo.ParseCRS(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, crs, name)
	}

	_, err := geo.ParseCRS("")
	assert.ErrorIs(t, err, geo.ErrMissingCRS)

	_, err = geo.ParseCRS("LOCAL_CS[\"arbitrary\"]")
	assert.ErrorIs(t, err, geo.ErrUnsupportedCRS)
}

func TestCRSString(t *testing.T) {
	assert.Equal(t, "EPSG:4326", geo.WGS84.String())
	assert.Equal(t, "EPSG:32630", geo.CRS(32630).String())
}

func TestWGS84TransformerIdentity(t *testing.T) {
	transform, err := geo.NewWGS84Transformer(geo.WGS84)
	require.NoError(t, err)

	lon, lat, err := transform(12.5, -45)
	require.NoError(t, err)
	assert.Equal(t, 12.5, lon)
	assert.Equal(t, -45.0, lat)
}

func TestWGS84TransformerWebMercator(t *testing.T) {
	transform, err := geo.NewWGS84Transformer(3857)
	require.NoError(t, err)

	lon, lat, err := transform(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, lon, 1e-9)
	assert.InDelta(t, 0, lat, 1e-9)

	lon, lat, err = transform(10018754.171394622, 0)
	require.NoError(t, err)
	assert.InDelta(t, 90, lon, 1e-6)
	assert.InDelta(t, 0, lat, 1e-6)

	lon, _, err = transform(20037508.342789244, 0)
	require.NoError(t, err)
	assert.InDelta(t, 180, math.Abs(lon), 1e-6)
}

func TestWGS84TransformerUTMOutsideZone(t *testing.T) {
	transform, err := geo.NewWGS84Transformer(32630)
	require.NoError(t, err)

	// Zone 30 ends at 0 degrees; tiles routinely extend past it.
	lon, lat, err := transform(800000, 5700000)
	require.NoError(t, err)
	assert.Greater(t, lon, 0.5)
	assert.Less(t, lon, 2.5)
	assert.InDelta(t, 51.4, lat, 0.3)
}

func TestWGS84TransformerUnknownCode(t *testing.T) {
	_, err := geo.NewWGS84Transformer(99999)
	require.ErrorIs(t, err, geo.ErrUnsupportedCRS)
}

func TestWGS84TransformerUndefined(t *testing.T) {
	_, err := geo.NewWGS84Transformer(geo.Undefined)
	require.ErrorIs(t, err, geo.ErrMissingCRS)
}

func TestParseWKT(t *testing.T) {
	cases := map[string]geo.CRS{
		`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`: geo.WGS84,
		`PROJCS["WGS_1984_UTM_Zone_30N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]]],PROJECTION["Transverse_Mercator"]]`: 32630,
		`PROJCS["WGS_1984_UTM_Zone_33S",GEOGCS["GCS_WGS_1984"]]`: 32733,
		`PROJCS["ETRS_1989_UTM_Zone_32N",GEOGCS["GCS_ETRS_1989"]]`: 25832,
		`PROJCS["British_National_Grid",GEOGCS["GCS_OSGB_1936"]]`: 27700,
		`PROJCS["WGS 84 / UTM zone 31N",GEOGCS["WGS 84",AUTHORITY["EPSG","4326"]],AUTHORITY["EPSG","32631"]]`: 32631,
	}
	for wkt, expected := range cases {
		crs, err := geo.ParseWKT(wkt)
		require.NoError(t, err, wkt)
		assert.Equal(t, expected, crs, wkt)
	}

	_, err := geo.ParseWKT(`PROJCS["Some_Local_Grid"]`)
	assert.ErrorIs(t, err, geo.ErrUnsupportedCRS)
}
