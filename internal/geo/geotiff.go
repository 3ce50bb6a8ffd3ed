package geo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagSamplesPerPixel     = 277
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113

	keyModelType     = 1024
	keyRasterType    = 1025
	keyGeographicCRS = 2048
	keyProjectedCRS  = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
	userDefinedKey      = 32767
)

var ErrNotGeoreferenced = errors.New("raster is not georeferenced")

// Bounds is an envelope in the order rasterio reports it.
type Bounds struct {
	Left, Bottom, Right, Top float64
}

// GeoTIFFHeader holds the georeferencing tags of the first image.
type GeoTIFFHeader struct {
	Width, Height   int
	SamplesPerPixel int
	CRS             CRS
	Bounds          Bounds
	NoData          *float64
}

// Raster is band 1 of a GeoTIFF in row-major order.
type Raster struct {
	GeoTIFFHeader
	Band []float64
}

func (r *Raster) IsNoData(v float64) bool {
	if r.NoData == nil {
		return false
	}
	if math.IsNaN(*r.NoData) {
		return math.IsNaN(v)
	}
	return v == *r.NoData
}

type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

type tiffReader struct {
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

var fieldSizes = map[uint16]uint32{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

func parseIFD(data []byte) (*tiffReader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("tiff header truncated")
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a tiff file")
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, fmt.Errorf("unsupported tiff version (bigtiff is not supported)")
	}

	offset := order.Uint32(data[4:8])
	if int(offset)+2 > len(data) {
		return nil, fmt.Errorf("ifd offset %d out of range", offset)
	}

	n := int(order.Uint16(data[offset : offset+2]))
	start := int(offset) + 2
	if start+12*n > len(data) {
		return nil, fmt.Errorf("ifd with %d entries truncated", n)
	}

	r := &tiffReader{order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := 0; i < n; i++ {
		e := data[start+12*i : start+12*(i+1)]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])

		size, ok := fieldSizes[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(count)
		if total > uint64(len(data)) {
			return nil, fmt.Errorf("tag %d with %d values exceeds file size", tag, count)
		}

		var value []byte
		if total <= 4 {
			value = e[8 : 8+total]
		} else {
			at := uint64(order.Uint32(e[8:12]))
			if at+total > uint64(len(data)) {
				return nil, fmt.Errorf("tag %d value out of range", tag)
			}
			value = data[at : at+total]
		}
		r.entries[tag] = ifdEntry{typ: typ, count: count, data: value}
	}

	return r, nil
}

func (r *tiffReader) uints(tag uint16) ([]uint32, bool) {
	e, ok := r.entries[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint32, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case 1, 7:
			out = append(out, uint32(e.data[i]))
		case 3:
			out = append(out, uint32(r.order.Uint16(e.data[2*i:])))
		case 4:
			out = append(out, r.order.Uint32(e.data[4*i:]))
		default:
			return nil, false
		}
	}
	return out, true
}

func (r *tiffReader) doubles(tag uint16) ([]float64, bool) {
	e, ok := r.entries[tag]
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case 12:
			out = append(out, math.Float64frombits(r.order.Uint64(e.data[8*i:])))
		case 11:
			out = append(out, float64(math.Float32frombits(r.order.Uint32(e.data[4*i:]))))
		default:
			return nil, false
		}
	}
	return out, true
}

func (r *tiffReader) ascii(tag uint16) (string, bool) {
	e, ok := r.entries[tag]
	if !ok || e.typ != 2 {
		return "", false
	}
	return strings.TrimRight(string(e.data), "\x00"), true
}

func (r *tiffReader) first(tag uint16, fallback int) int {
	vals, ok := r.uints(tag)
	if !ok || len(vals) == 0 {
		return fallback
	}
	return int(vals[0])
}

func (r *tiffReader) geoKeys() map[uint16]uint16 {
	keys := make(map[uint16]uint16)
	vals, ok := r.uints(tagGeoKeyDirectory)
	if !ok || len(vals) < 4 {
		return keys
	}
	n := int(vals[3])
	for i := 0; i < n && 4+4*i+3 < len(vals); i++ {
		entry := vals[4+4*i : 8+4*i]
		// Only SHORT values stored inline in the directory are needed here.
		if entry[1] == 0 {
			keys[uint16(entry[0])] = uint16(entry[3])
		}
	}
	return keys
}

func (r *tiffReader) crs() (CRS, error) {
	keys := r.geoKeys()
	if len(keys) == 0 {
		return Undefined, ErrMissingCRS
	}

	projected, hasProjected := keys[keyProjectedCRS]
	geographic, hasGeographic := keys[keyGeographicCRS]

	switch {
	case keys[keyModelType] == modelTypeProjected && hasProjected:
		if projected == userDefinedKey {
			return Undefined, fmt.Errorf("%w: user defined projection", ErrUnsupportedCRS)
		}
		return CRS(projected), nil
	case hasGeographic:
		if geographic == userDefinedKey {
			return Undefined, fmt.Errorf("%w: user defined geographic crs", ErrUnsupportedCRS)
		}
		return CRS(geographic), nil
	case hasProjected && projected != userDefinedKey:
		return CRS(projected), nil
	case keys[keyModelType] == modelTypeGeographic:
		return WGS84, nil
	}
	return Undefined, ErrMissingCRS
}

func (r *tiffReader) bounds(width, height int) (Bounds, error) {
	pixelIsPoint := r.geoKeys()[keyRasterType] == rasterPixelIsPoint

	if m, ok := r.doubles(tagModelTransformation); ok && len(m) >= 8 {
		shift := 0.0
		if pixelIsPoint {
			shift = -0.5
		}
		corner := func(i, j float64) (float64, float64) {
			i, j = i+shift, j+shift
			return m[0]*i + m[1]*j + m[3], m[4]*i + m[5]*j + m[7]
		}
		b := Bounds{Left: math.Inf(1), Bottom: math.Inf(1), Right: math.Inf(-1), Top: math.Inf(-1)}
		for _, c := range [][2]float64{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}} {
			x, y := corner(c[0], c[1])
			b.Left, b.Right = math.Min(b.Left, x), math.Max(b.Right, x)
			b.Bottom, b.Top = math.Min(b.Bottom, y), math.Max(b.Top, y)
		}
		return b, nil
	}

	scale, okScale := r.doubles(tagModelPixelScale)
	tie, okTie := r.doubles(tagModelTiepoint)
	if !okScale || !okTie || len(scale) < 2 || len(tie) < 6 {
		return Bounds{}, ErrNotGeoreferenced
	}

	left := tie[3] - tie[0]*scale[0]
	top := tie[4] + tie[1]*scale[1]
	if pixelIsPoint {
		left -= scale[0] / 2
		top += scale[1] / 2
	}

	return Bounds{
		Left:   left,
		Bottom: top - float64(height)*scale[1],
		Right:  left + float64(width)*scale[0],
		Top:    top,
	}, nil
}

func (r *tiffReader) noData() (*float64, error) {
	s, ok := r.ascii(tagGDALNoData)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nodata value %q: %w", s, err)
	}
	return &v, nil
}

func (r *tiffReader) header() (*GeoTIFFHeader, error) {
	var err error
	h := &GeoTIFFHeader{
		Width:           r.first(tagImageWidth, 0),
		Height:          r.first(tagImageLength, 0),
		SamplesPerPixel: r.first(tagSamplesPerPixel, 1),
	}
	if h.Width <= 0 || h.Height <= 0 {
		return nil, fmt.Errorf("invalid raster dimensions %dx%d", h.Width, h.Height)
	}

	if h.NoData, err = r.noData(); err != nil {
		return nil, err
	}

	// A raster without a CRS can still be stretched to PNG, so CRS and bounds
	// errors are left for the metadata path to report.
	h.CRS, _ = r.crs()
	if b, err := r.bounds(h.Width, h.Height); err == nil {
		h.Bounds = b
	}

	return h, nil
}

// ReadGeoTIFFHeader reads georeferencing information without decoding pixels.
func ReadGeoTIFFHeader(path string) (*GeoTIFFHeader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	r, err := parseIFD(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	h, err := r.header()
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	if h.CRS, err = r.crs(); err != nil {
		return nil, err
	}
	if h.Bounds, err = r.bounds(h.Width, h.Height); err != nil {
		return nil, err
	}

	return h, nil
}

// ReadGeoTIFF decodes band 1 of the first image.
func ReadGeoTIFF(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return decodeGeoTIFF(data)
}

func decodeGeoTIFF(data []byte) (*Raster, error) {
	r, err := parseIFD(data)
	if err != nil {
		return nil, err
	}

	h, err := r.header()
	if err != nil {
		return nil, err
	}

	if r.needsSampleDecoder() {
		band, err := r.decodeBand(data, h.Width, h.Height)
		if err != nil {
			return nil, fmt.Errorf("error decoding tiff pixels: %w", err)
		}
		return &Raster{GeoTIFFHeader: *h, Band: band}, nil
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding tiff pixels: %w", err)
	}

	return &Raster{GeoTIFFHeader: *h, Band: firstBand(img)}, nil
}

func firstBand(img image.Image) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())

	switch im := img.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float64(im.GrayAt(x, y).Y))
			}
		}
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float64(im.Gray16At(x, y).Y))
			}
		}
	case *image.Paletted:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float64(im.ColorIndexAt(x, y)))
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float64(im.NRGBAAt(x, y).R))
			}
		}
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float64(im.RGBAAt(x, y).R))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y))
			}
		}
	}

	return out
}
