package geo

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
)

var ErrUniformRaster = errors.New("TIF data is uniform and cannot be scaled.")

// DensifyPoints matches the edge sampling rasterio uses in transform_bounds.
const DensifyPoints = 21

// ValidRange returns the min and max of band 1, skipping no-data pixels.
func (r *Raster) ValidRange() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range r.Band {
		if r.IsNoData(v) || math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}

// ScaleToGray linearly stretches band 1 into 0-255. No-data pixels become 0.
func ScaleToGray(r *Raster) (*image.Gray, error) {
	lo, hi, ok := r.ValidRange()
	if !ok || hi-lo <= 0 {
		return nil, ErrUniformRaster
	}
	rng := hi - lo

	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	for i, v := range r.Band {
		if r.IsNoData(v) || math.IsNaN(v) {
			img.Pix[i] = 0
			continue
		}
		scaled := math.Trunc((v - lo) / rng * 255)
		img.Pix[i] = uint8(math.Max(0, math.Min(255, scaled)))
	}

	return img, nil
}

// RasterToPNG writes band 1 of the GeoTIFF at src as an 8-bit grayscale PNG
// at dst. Nothing is written when the raster cannot be scaled.
func RasterToPNG(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("raster source file not found: %w", err)
	}

	raster, err := ReadGeoTIFF(src)
	if err != nil {
		return fmt.Errorf("error processing TIF: %w", err)
	}

	if len(raster.Band) != raster.Width*raster.Height {
		return fmt.Errorf("error processing TIF: decoded %d pixels for %dx%d raster", len(raster.Band), raster.Width, raster.Height)
	}

	img, err := ScaleToGray(raster)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating png %s: %w", dst, err)
	}
	defer out.Close()

	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("error encoding png %s: %w", dst, err)
	}

	return nil
}

type RasterMetadata struct {
	SourceCRS CRS
	// Bounds are [west, south, east, north] on WGS84.
	Bounds [4]float64
}

func ReadRasterMetadata(path string) (*RasterMetadata, error) {
	header, err := ReadGeoTIFFHeader(path)
	if err != nil {
		return nil, err
	}

	wgs, err := TransformBounds(header.Bounds, header.CRS, DensifyPoints)
	if err != nil {
		return nil, err
	}

	return &RasterMetadata{
		SourceCRS: header.CRS,
		Bounds:    [4]float64{wgs.Left, wgs.Bottom, wgs.Right, wgs.Top},
	}, nil
}

// TransformBounds reprojects an envelope to WGS84 by sampling densify points
// along every edge and taking the extent of the transformed samples.
func TransformBounds(b Bounds, from CRS, densify int) (Bounds, error) {
	transform, err := NewWGS84Transformer(from)
	if err != nil {
		return Bounds{}, err
	}
	if densify < 2 {
		densify = 2
	}

	out := Bounds{Left: math.Inf(1), Bottom: math.Inf(1), Right: math.Inf(-1), Top: math.Inf(-1)}
	add := func(x, y float64) error {
		lon, lat, err := transform(x, y)
		if err != nil {
			return err
		}
		out.Left, out.Right = math.Min(out.Left, lon), math.Max(out.Right, lon)
		out.Bottom, out.Top = math.Min(out.Bottom, lat), math.Max(out.Top, lat)
		return nil
	}

	for i := 0; i < densify; i++ {
		t := float64(i) / float64(densify-1)
		x := b.Left + t*(b.Right-b.Left)
		y := b.Bottom + t*(b.Top-b.Bottom)

		for _, p := range [][2]float64{{x, b.Bottom}, {x, b.Top}, {b.Left, y}, {b.Right, y}} {
			if err := add(p[0], p[1]); err != nil {
				return Bounds{}, err
			}
		}
	}

	return out, nil
}
