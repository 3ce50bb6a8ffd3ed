package geo

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"
)

var ErrNoFeatureTable = errors.New("geopackage has no feature table")

type gpkgLayer struct {
	table    string
	geomCol  string
	srsId    int64
	pkCol    string
	propCols []string
}

func readGeoPackage(path string) (*VectorLayer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening geopackage: %w", err)
	}
	defer db.Close()

	layer, err := firstFeatureTable(db)
	if err != nil {
		return nil, err
	}

	crs, err := gpkgCRS(db, layer.srsId)
	if err != nil {
		return nil, err
	}

	if err := layer.loadColumns(db); err != nil {
		return nil, err
	}

	features, err := layer.readFeatures(db)
	if err != nil {
		return nil, err
	}

	return &VectorLayer{CRS: crs, Features: features}, nil
}

func firstFeatureTable(db *sql.DB) (*gpkgLayer, error) {
	row := db.QueryRow(`
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.rowid
		LIMIT 1`)

	var layer gpkgLayer
	if err := row.Scan(&layer.table, &layer.geomCol, &layer.srsId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoFeatureTable
		}
		return nil, fmt.Errorf("error reading gpkg_contents: %w", err)
	}
	return &layer, nil
}

func gpkgCRS(db *sql.DB, srsId int64) (CRS, error) {
	var (
		org  string
		code int64
	)
	err := db.QueryRow(
		`SELECT organization, organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, srsId,
	).Scan(&org, &code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Undefined, fmt.Errorf("srs_id %d: %w", srsId, ErrMissingCRS)
		}
		return Undefined, fmt.Errorf("error reading gpkg_spatial_ref_sys: %w", err)
	}

	// -1 and 0 are the reserved undefined cartesian/geographic systems.
	if code <= 0 {
		return Undefined, nil
	}
	if !strings.EqualFold(org, "EPSG") {
		return Undefined, fmt.Errorf("%w: %s:%d", ErrUnsupportedCRS, org, code)
	}
	return CRS(code), nil
}

func (l *gpkgLayer) loadColumns(db *sql.DB) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(l.table)))
	if err != nil {
		return fmt.Errorf("error reading columns of %s: %w", l.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("error scanning column info: %w", err)
		}
		switch {
		case name == l.geomCol:
		case pk > 0 && l.pkCol == "":
			l.pkCol = name
		default:
			l.propCols = append(l.propCols, name)
		}
	}
	return rows.Err()
}

func (l *gpkgLayer) readFeatures(db *sql.DB) ([]*geojson.Feature, error) {
	cols := []string{quoteIdent(l.geomCol)}
	for _, c := range l.propCols {
		cols = append(cols, quoteIdent(c))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(l.table))
	if l.pkCol != "" {
		query += " ORDER BY " + quoteIdent(l.pkCol)
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error querying %s: %w", l.table, err)
	}
	defer rows.Close()

	features := make([]*geojson.Feature, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("error scanning feature: %w", err)
		}

		var geom orb.Geometry
		if blob, ok := values[0].([]byte); ok && len(blob) > 0 {
			geom, err = decodeGeoPackageBinary(blob)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", len(features), err)
			}
		}

		f := geojson.NewFeature(geom)
		for i, name := range l.propCols {
			v := values[i+1]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			f.Properties[name] = v
		}
		features = append(features, f)
	}

	return features, rows.Err()
}

// decodeGeoPackageBinary strips the "GP" header from a GeoPackage geometry
// blob and decodes the WKB payload. Empty geometries decode to nil.
func decodeGeoPackageBinary(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errors.New("invalid geopackage geometry header")
	}

	flags := blob[3]
	if flags&0x10 != 0 {
		return nil, nil
	}

	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
		envelope = 0
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, fmt.Errorf("invalid geopackage envelope indicator %d", (flags>>1)&0x07)
	}

	offset := 8 + envelope
	if len(blob) < offset {
		return nil, errors.New("truncated geopackage geometry")
	}

	geom, err := wkb.Unmarshal(blob[offset:])
	if err != nil {
		return nil, fmt.Errorf("invalid wkb: %w", err)
	}
	return geom, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
