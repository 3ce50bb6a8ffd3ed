package geo

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"
)

const (
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339

	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3

	planarSeparate = 2

	maxRasterPixels = 1 << 28
)

var ErrUnsupportedRaster = errors.New("unsupported raster layout")

type sampleLayout struct {
	format      int
	bits        int
	spp         int
	planar      bool
	compression int
	predictor   int
}

// needsSampleDecoder reports whether band 1 has to be decoded here. x/image/tiff
// only reads unsigned samples of up to 16 bits.
func (r *tiffReader) needsSampleDecoder() bool {
	return r.first(tagSampleFormat, sampleUint) != sampleUint || r.first(tagBitsPerSample, 1) > 16
}

func (r *tiffReader) layout() (sampleLayout, error) {
	l := sampleLayout{
		format:      r.first(tagSampleFormat, sampleUint),
		bits:        r.first(tagBitsPerSample, 1),
		spp:         r.first(tagSamplesPerPixel, 1),
		planar:      r.first(tagPlanarConfiguration, 1) == planarSeparate,
		compression: r.first(tagCompression, compressionNone),
		predictor:   r.first(tagPredictor, predictorNone),
	}

	switch l.format {
	case sampleUint, sampleInt:
		if l.bits != 8 && l.bits != 16 && l.bits != 32 && l.bits != 64 {
			return l, fmt.Errorf("%w: %d bit integer samples", ErrUnsupportedRaster, l.bits)
		}
		if l.predictor != predictorNone && l.predictor != predictorHorizontal {
			return l, fmt.Errorf("%w: predictor %d for integer samples", ErrUnsupportedRaster, l.predictor)
		}
	case sampleFloat:
		if l.bits != 32 && l.bits != 64 {
			return l, fmt.Errorf("%w: %d bit float samples", ErrUnsupportedRaster, l.bits)
		}
		if l.predictor != predictorNone && l.predictor != predictorFloat {
			return l, fmt.Errorf("%w: predictor %d for float samples", ErrUnsupportedRaster, l.predictor)
		}
	default:
		return l, fmt.Errorf("%w: sample format %d", ErrUnsupportedRaster, l.format)
	}

	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return l, fmt.Errorf("%w: compression %d", ErrUnsupportedRaster, l.compression)
	}

	if l.spp < 1 {
		return l, fmt.Errorf("%w: %d samples per pixel", ErrUnsupportedRaster, l.spp)
	}
	return l, nil
}

// decodeBand reads band 1 from the strips or tiles of the first image.
func (r *tiffReader) decodeBand(data []byte, width, height int) ([]float64, error) {
	if width > maxRasterPixels || height > maxRasterPixels || width*height > maxRasterPixels {
		return nil, fmt.Errorf("%w: %dx%d raster is too large", ErrUnsupportedRaster, width, height)
	}

	l, err := r.layout()
	if err != nil {
		return nil, err
	}

	tiled := false
	chunkW, chunkH := width, min(r.first(tagRowsPerStrip, height), height)
	offsets, okOffsets := r.uints(tagStripOffsets)
	counts, okCounts := r.uints(tagStripByteCounts)
	if _, ok := r.entries[tagTileOffsets]; ok {
		tiled = true
		chunkW, chunkH = r.first(tagTileWidth, 0), r.first(tagTileLength, 0)
		offsets, okOffsets = r.uints(tagTileOffsets)
		counts, okCounts = r.uints(tagTileByteCounts)
	}
	if !okOffsets || !okCounts || len(offsets) != len(counts) {
		return nil, fmt.Errorf("%w: missing strip or tile offsets", ErrUnsupportedRaster)
	}
	if chunkW <= 0 || chunkH <= 0 || chunkW > maxRasterPixels || chunkH > maxRasterPixels || chunkW*chunkH > maxRasterPixels {
		return nil, fmt.Errorf("%w: invalid %dx%d strip or tile", ErrUnsupportedRaster, chunkW, chunkH)
	}

	across := (width + chunkW - 1) / chunkW
	down := (height + chunkH - 1) / chunkH
	if len(offsets) < across*down {
		return nil, fmt.Errorf("%w: expected %d strips or tiles, found %d", ErrUnsupportedRaster, across*down, len(offsets))
	}

	chunkSpp := l.spp
	if l.planar {
		chunkSpp = 1
	}
	bytesPerSample := l.bits / 8
	rowSamples := chunkW * chunkSpp
	rowBytes := rowSamples * bytesPerSample

	// Band 1 is the first plane when samples are stored separately, so the
	// first across*down chunks cover it either way.
	band := make([]float64, width*height)
	for idx := 0; idx < across*down; idx++ {
		cx, cy := idx%across, idx/across
		rows := chunkH
		if !tiled {
			rows = min(chunkH, height-cy*chunkH)
		}

		raw, err := readChunk(data, offsets[idx], counts[idx], l.compression, rowBytes*rows)
		if err != nil {
			return nil, err
		}

		for y := 0; y < rows; y++ {
			row := raw[y*rowBytes : (y+1)*rowBytes]
			switch l.predictor {
			case predictorHorizontal:
				undoHorizontalPredictor(row, rowSamples, chunkSpp, bytesPerSample, r.order)
			case predictorFloat:
				undoFloatPredictor(row, rowSamples, chunkSpp, bytesPerSample, r.order)
			}

			py := cy*chunkH + y
			if py >= height {
				break
			}
			for x := 0; x < chunkW; x++ {
				px := cx*chunkW + x
				if px >= width {
					break
				}
				band[py*width+px] = l.sample(row[x*chunkSpp*bytesPerSample:], r.order)
			}
		}
	}

	return band, nil
}

func readChunk(data []byte, offset, count uint32, compression, size int) ([]byte, error) {
	end := uint64(offset) + uint64(count)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("strip or tile at offset %d out of range", offset)
	}
	src := bytes.NewReader(data[offset:end])

	var rd io.Reader = src
	switch compression {
	case compressionLZW:
		lr := lzw.NewReader(src, lzw.MSB, 8)
		defer lr.Close()
		rd = lr
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("error opening deflate stream: %w", err)
		}
		defer zr.Close()
		rd = zr
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, fmt.Errorf("error reading strip or tile at offset %d: %w", offset, err)
	}
	return buf, nil
}

// undoHorizontalPredictor reverses integer differencing, where each sample
// holds the difference from the sample stride positions before it.
func undoHorizontalPredictor(row []byte, samples, stride, bytesPerSample int, order binary.ByteOrder) {
	for i := stride; i < samples; i++ {
		at, prev := i*bytesPerSample, (i-stride)*bytesPerSample
		switch bytesPerSample {
		case 1:
			row[at] += row[prev]
		case 2:
			order.PutUint16(row[at:], order.Uint16(row[at:])+order.Uint16(row[prev:]))
		case 4:
			order.PutUint32(row[at:], order.Uint32(row[at:])+order.Uint32(row[prev:]))
		case 8:
			order.PutUint64(row[at:], order.Uint64(row[at:])+order.Uint64(row[prev:]))
		}
	}
}

// undoFloatPredictor reverses byte differencing over a row whose samples
// were split into byte planes, most significant plane first.
func undoFloatPredictor(row []byte, samples, stride, bytesPerSample int, order binary.ByteOrder) {
	for i := stride; i < len(row); i++ {
		row[i] += row[i-stride]
	}

	planes := make([]byte, len(row))
	copy(planes, row)
	bigEndian := order == binary.BigEndian
	for s := 0; s < samples; s++ {
		for b := 0; b < bytesPerSample; b++ {
			v := planes[b*samples+s]
			if bigEndian {
				row[s*bytesPerSample+b] = v
			} else {
				row[s*bytesPerSample+bytesPerSample-1-b] = v
			}
		}
	}
}

func (l sampleLayout) sample(b []byte, order binary.ByteOrder) float64 {
	switch l.format {
	case sampleInt:
		switch l.bits {
		case 8:
			return float64(int8(b[0]))
		case 16:
			return float64(int16(order.Uint16(b)))
		case 32:
			return float64(int32(order.Uint32(b)))
		default:
			return float64(int64(order.Uint64(b)))
		}
	case sampleFloat:
		if l.bits == 32 {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
		return math.Float64frombits(order.Uint64(b))
	default:
		switch l.bits {
		case 8:
			return float64(b[0])
		case 16:
			return float64(order.Uint16(b))
		case 32:
			return float64(order.Uint32(b))
		default:
			return float64(order.Uint64(b))
		}
	}
}
