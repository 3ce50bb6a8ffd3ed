package geo

import (
	"database/sql"
	"encoding/binary"
	"geo-backend/internal/geo/geotest"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertWGS84(t *testing.T, fc *geojson.FeatureCollection) {
	t.Helper()
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		assert.GreaterOrEqual(t, b.Min[0], -180.0)
		assert.LessOrEqual(t, b.Max[0], 180.0)
		assert.GreaterOrEqual(t, b.Min[1], -90.0)
		assert.LessOrEqual(t, b.Max[1], 90.0)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadVectorGeoJSON(t *testing.T) {
	path := writeFile(t, "parcels.geojson", `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"name": "a"}, "geometry": {"type": "Point", "coordinates": [10, 20]}},
			{"type": "Feature", "properties": {"name": "b"}, "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}}
		]
	}`)

	fc, err := ReadVector(path)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	assert.Equal(t, "0", fc.Features[0].ID)
	assert.Equal(t, "1", fc.Features[1].ID)
	assert.Equal(t, orb.Point{10, 20}, fc.Features[0].Geometry)
	assert.Equal(t, "a", fc.Features[0].Properties["name"])
	assertWGS84(t, fc)
}

func TestReadVectorGeoJSONLegacyCRS(t *testing.T) {
	path := writeFile(t, "mercator.geojson", `{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::3857"}},
		"features": [
			{"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [0, 0]}},
			{"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [10018754.171394622, 0]}}
		]
	}`)

	fc, err := ReadVector(path)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	p0 := fc.Features[0].Geometry.(orb.Point)
	p1 := fc.Features[1].Geometry.(orb.Point)
	assert.InDelta(t, 0, p0.Lon(), 1e-9)
	assert.InDelta(t, 90, p1.Lon(), 1e-6)
	assertWGS84(t, fc)
}

func TestReadVectorGeoJSONSingleFeature(t *testing.T) {
	path := writeFile(t, "one.geojson", `{"type": "Feature", "properties": {"k": 1}, "geometry": {"type": "Point", "coordinates": [1, 2]}}`)

	fc, err := ReadVector(path)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "0", fc.Features[0].ID)
}

func TestReadVectorInvalidGeoJSON(t *testing.T) {
	path := writeFile(t, "broken.geojson", `{"type": "FeatureCollection", "features": [`)

	_, err := ReadVector(path)
	require.Error(t, err)
}

func TestReadVectorUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "data.kml", "<kml/>")

	_, err := ReadVector(path)
	require.ErrorIs(t, err, ErrUnsupportedVector)
}

func gpkgBlob(t *testing.T, geom orb.Geometry, srsId int32, withEnvelope bool) []byte {
	t.Helper()
	payload, err := wkb.Marshal(geom, binary.LittleEndian)
	require.NoError(t, err)

	flags := byte(0x01)
	header := []byte{'G', 'P', 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(header[4:], uint32(srsId))
	if withEnvelope {
		flags |= 1 << 1
		b := geom.Bound()
		envelope := make([]byte, 32)
		for i, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
			binary.LittleEndian.PutUint64(envelope[8*i:], math.Float64bits(v))
		}
		header = append(header, envelope...)
	}
	header[3] = flags
	return append(header, payload...)
}

func createGeoPackage(t *testing.T, srsId int32, org string, code int, features []orb.Geometry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layer.gpkg")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (srs_name TEXT NOT NULL, srs_id INTEGER PRIMARY KEY, organization TEXT NOT NULL, organization_coordsys_id INTEGER NOT NULL, definition TEXT NOT NULL, description TEXT)`,
		`CREATE TABLE gpkg_contents (table_name TEXT NOT NULL PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT NOT NULL, column_name TEXT NOT NULL, geometry_type_name TEXT NOT NULL, srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL)`,
		`CREATE TABLE fields (fid INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB, name TEXT, area REAL)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	_, err = db.Exec(`INSERT INTO gpkg_spatial_ref_sys VALUES ('crs', ?, ?, ?, 'undefined', '')`, srsId, org, code)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gpkg_contents VALUES ('notes', 'attributes', 'notes', NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gpkg_contents VALUES ('fields', 'features', 'fields', ?)`, srsId)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gpkg_geometry_columns VALUES ('fields', 'geom', 'GEOMETRY', ?, 0, 0)`, srsId)
	require.NoError(t, err)

	for i, g := range features {
		var blob any
		if g != nil {
			blob = gpkgBlob(t, g, srsId, i%2 == 1)
		}
		_, err := db.Exec(`INSERT INTO fields (geom, name, area) VALUES (?, ?, ?)`, blob, string(rune('a'+i)), float64(i)*1.5)
		require.NoError(t, err)
	}

	return path
}

func TestReadVectorGeoPackage(t *testing.T) {
	polygon := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	path := createGeoPackage(t, 4326, "EPSG", 4326, []orb.Geometry{orb.Point{5, 6}, polygon, nil})

	fc, err := ReadVector(path)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)

	assert.Equal(t, orb.Point{5, 6}, fc.Features[0].Geometry)
	assert.Equal(t, polygon, fc.Features[1].Geometry)
	assert.Nil(t, fc.Features[2].Geometry)

	assert.Equal(t, "a", fc.Features[0].Properties["name"])
	assert.Equal(t, 1.5, fc.Features[1].Properties["area"])
	assert.NotContains(t, fc.Features[0].Properties, "fid")
	assert.NotContains(t, fc.Features[0].Properties, "geom")
	assert.Equal(t, "2", fc.Features[2].ID)
}

func TestReadVectorGeoPackageProjected(t *testing.T) {
	path := createGeoPackage(t, 32630, "EPSG", 32630, []orb.Geometry{orb.Point{500000, 5700000}})

	fc, err := ReadVector(path)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	p := fc.Features[0].Geometry.(orb.Point)
	assert.InDelta(t, -3.0, p.Lon(), 1e-6)
	assert.InDelta(t, 51.44, p.Lat(), 0.05)
	assertWGS84(t, fc)
}

func TestReadVectorGeoPackageUndefinedCRS(t *testing.T) {
	path := createGeoPackage(t, -1, "NONE", -1, []orb.Geometry{orb.Point{500000, 5700000}})

	_, err := ReadVector(path)
	require.ErrorIs(t, err, ErrMissingCRS)
}

func TestDecodeGeoPackageBinaryEmpty(t *testing.T) {
	blob := []byte{'G', 'P', 0, 0x11, 0, 0, 0, 0}
	geom, err := decodeGeoPackageBinary(blob)
	require.NoError(t, err)
	assert.Nil(t, geom)

	_, err = decodeGeoPackageBinary([]byte("XX"))
	require.Error(t, err)
}

func writeShapefile(t *testing.T, shapeType shp.ShapeType, shapes []shp.Shape, prj string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parcels.shp")

	w, err := shp.Create(path, shapeType)
	require.NoError(t, err)

	fields := []shp.Field{
		shp.StringField("NAME", 16),
		shp.NumberField("COUNT", 8),
		shp.FloatField("AREA", 12, 3),
	}
	require.NoError(t, w.SetFields(fields))

	for i, s := range shapes {
		row := int(w.Write(s))
		require.NoError(t, w.WriteAttribute(row, 0, string(rune('a'+i))))
		require.NoError(t, w.WriteAttribute(row, 1, i+1))
		require.NoError(t, w.WriteAttribute(row, 2, float64(i)+0.5))
	}
	require.NoError(t, geotest.CloseShapefile(w, path))

	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "parcels.prj"), []byte(prj), 0o644))
	}
	return path
}

func TestReadVectorShapefile(t *testing.T) {
	path := writeShapefile(t, shp.POINT,
		[]shp.Shape{&shp.Point{X: 500000, Y: 5700000}, &shp.Point{X: 510000, Y: 5710000}},
		`PROJCS["WGS_1984_UTM_Zone_30N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]]],PROJECTION["Transverse_Mercator"]]`,
	)

	fc, err := ReadVector(path)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	p := fc.Features[0].Geometry.(orb.Point)
	assert.InDelta(t, -3.0, p.Lon(), 1e-6)
	assert.Equal(t, "a", fc.Features[0].Properties["NAME"])
	assert.Equal(t, int64(2), fc.Features[1].Properties["COUNT"])
	assert.InDelta(t, 1.5, fc.Features[1].Properties["AREA"], 1e-9)
	assert.Equal(t, "1", fc.Features[1].ID)
	assertWGS84(t, fc)
}

func TestReadVectorShapefileWithoutPrj(t *testing.T) {
	path := writeShapefile(t, shp.POINT, []shp.Shape{&shp.Point{X: 1, Y: 2}}, "")

	_, err := ReadVector(path)
	require.ErrorIs(t, err, ErrMissingCRS)
}

func TestReadVectorShapefilePolygonWithHole(t *testing.T) {
	// Outer ring clockwise, hole counter-clockwise.
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}}
	polygon := shp.Polygon(*shp.NewPolyLine([][]shp.Point{outer, hole}))

	path := writeShapefile(t, shp.POLYGON, []shp.Shape{&polygon}, `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]`)

	fc, err := ReadVector(path)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	poly, ok := fc.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok, "expected polygon, got %T", fc.Features[0].Geometry)
	require.Len(t, poly, 2)
	assert.Len(t, poly[0], 5)
	assert.Equal(t, orb.Point{2, 2}, poly[1][0])
}

func TestPolygonsSplitsShells(t *testing.T) {
	a := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}}
	b := []shp.Point{{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 5}, {X: 5, Y: 5}}

	geom := polygons([]int32{0, 5}, append(a, b...))
	mp, ok := geom.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
}

func TestParseAttribute(t *testing.T) {
	number := shp.NumberField("N", 8)
	assert.Equal(t, int64(12), parseAttribute(number, "      12"))
	assert.Nil(t, parseAttribute(number, "        "))
	assert.Nil(t, parseAttribute(number, "********"))

	logical := shp.Field{Fieldtype: 'L', Size: 1}
	assert.Equal(t, true, parseAttribute(logical, "T"))
	assert.Equal(t, false, parseAttribute(logical, "n"))
	assert.Nil(t, parseAttribute(logical, "?"))

	assert.Equal(t, "text", parseAttribute(shp.StringField("S", 10), "text      "))
}
