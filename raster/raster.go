// Package raster implements the immutable 4-band raster that feeds the tile
// pyramid. Every transform returns a new, independently owned Image; the
// receiver is never mutated, so siblings can be derived from the same raster
// concurrently.
package raster

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/mapforge/rastile/engine"
	"github.com/mapforge/rastile/mathhelp"
)

// Bands is the band count of every raster entering the pyramid (R,G,B,A).
const Bands = 4

var ErrInvalidArgument = errors.New("invalid argument")

// XY is a position in tile-grid units. A fractional part means the raster
// starts that far into a tile, e.g. X=1.5 is half a tile into column 1.
type XY struct {
	X float64
	Y float64
}

// Image is an immutable RGBA raster bound to the engine that created it.
type Image struct {
	eng *engine.Engine
	pix *image.NRGBA
}

// NewBlank returns an all-transparent canvas of the given size.
func NewBlank(eng *engine.Engine, width, height int) (*Image, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrInvalidArgument, width, height)
	}
	return &Image{eng: eng, pix: image.NewNRGBA(image.Rect(0, 0, width, height))}, nil
}

// FromImage copies src into a new raster. Non-RGBA sources are converted.
func FromImage(eng *engine.Engine, src image.Image) (*Image, error) {
	bounds := src.Bounds()
	if bounds.Dx() < 1 || bounds.Dy() < 1 {
		return nil, fmt.Errorf("%w: source image is empty", ErrInvalidArgument)
	}
	return &Image{eng: eng, pix: imaging.Clone(src)}, nil
}

// Wrap returns a new image whose pixel contents are identical to other at the
// moment of the call, with no further aliasing between the two.
func Wrap(other *Image) *Image {
	return &Image{eng: other.eng, pix: imaging.Clone(other.pix)}
}

func (im *Image) Width() int {
	return im.pix.Rect.Dx()
}

func (im *Image) Height() int {
	return im.pix.Rect.Dy()
}

func (im *Image) Bands() int {
	return Bands
}

// Bytes returns a copy of the raw RGBA pixel content, row-major.
func (im *Image) Bytes() []byte {
	clone := imaging.Clone(im.pix)
	return clone.Pix
}

// NRGBA returns a copy of the underlying pixel buffer for encoding.
func (im *Image) NRGBA() *image.NRGBA {
	return imaging.Clone(im.pix)
}

// Stretch enlarges the image. Both scale factors must be >= 1.0. Fractional
// results are rounded to the nearest whole pixel, ties away from zero.
func (im *Image) Stretch(xscale, yscale float64) (*Image, error) {
	if xscale < 1.0 || yscale < 1.0 {
		return nil, fmt.Errorf("%w: stretch scales must be >= 1.0, got %v and %v", ErrInvalidArgument, xscale, yscale)
	}
	width := int(math.Round(float64(im.Width()) * xscale))
	height := int(math.Round(float64(im.Height()) * yscale))
	return &Image{eng: im.eng, pix: imaging.Resize(im.pix, width, height, imaging.NearestNeighbor)}, nil
}

// Shrink reduces the image. Both scale factors must be in (0.0, 1.0].
// Fractional results are floored, never rounded.
func (im *Image) Shrink(xscale, yscale float64) (*Image, error) {
	if xscale <= 0.0 || xscale > 1.0 || yscale <= 0.0 || yscale > 1.0 {
		return nil, fmt.Errorf("%w: shrink scales must be in (0.0, 1.0], got %v and %v", ErrInvalidArgument, xscale, yscale)
	}
	width := int(math.Floor(float64(im.Width()) * xscale))
	height := int(math.Floor(float64(im.Height()) * yscale))
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: shrinking %dx%d by %v and %v would leave no pixels",
			ErrInvalidArgument, im.Width(), im.Height(), xscale, yscale)
	}
	return &Image{eng: im.eng, pix: imaging.Resize(im.pix, width, height, imaging.Box)}, nil
}

// AlignToTileGrid pads the image with transparent pixels so that its edges
// land exactly on tile boundaries. The fractional part of offset is the
// distance the image starts into its first tile; the image is embedded at
// that pixel position in a canvas spanning whole tiles. If the offset is
// integral and the image is already a whole multiple of the tile size, the
// image is returned unchanged. Output dimensions are always exact multiples
// of the tile dimensions.
func (im *Image) AlignToTileGrid(tileWidth, tileHeight int, offset XY) (*Image, error) {
	if tileWidth < 1 || tileHeight < 1 {
		return nil, fmt.Errorf("%w: tile dimensions must be positive, got %dx%d", ErrInvalidArgument, tileWidth, tileHeight)
	}
	padX := int(math.Round(mathhelp.Frac(offset.X) * float64(tileWidth)))
	padY := int(math.Round(mathhelp.Frac(offset.Y) * float64(tileHeight)))
	width := im.Width()
	height := im.Height()

	if padX == 0 && padY == 0 && width%tileWidth == 0 && height%tileHeight == 0 {
		return im, nil
	}

	canvas := image.NewNRGBA(image.Rect(0, 0,
		mathhelp.CeilDiv(width+padX, tileWidth)*tileWidth,
		mathhelp.CeilDiv(height+padY, tileHeight)*tileHeight))
	im.drawAt(canvas, padX, padY)
	return &Image{eng: im.eng, pix: canvas}, nil
}

// Region returns a copy of the w*h pixel region with top-left corner (x, y).
// The region is clamped to the image bounds.
func (im *Image) Region(x, y, w, h int) *Image {
	return &Image{eng: im.eng, pix: imaging.Crop(im.pix, image.Rect(x, y, x+w, y+h))}
}

// drawAt copies the image into dst with top-left corner (x, y), splitting the
// rows over the engine's worker count.
func (im *Image) drawAt(dst *image.NRGBA, x, y int) {
	height := im.Height()
	rowBytes := im.Width() * Bands
	workers := 1
	if im.eng != nil {
		workers = im.eng.Concurrency()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > height {
		workers = height
	}
	chunk := mathhelp.CeilDiv(height, workers)

	wg := sync.WaitGroup{}
	for start := 0; start < height; start += chunk {
		end := start + chunk
		if end > height {
			end = height
		}
		wg.Add(1)
		go func(rowFrom, rowTo int) {
			defer wg.Done()
			for row := rowFrom; row < rowTo; row++ {
				src := im.pix.Pix[row*im.pix.Stride : row*im.pix.Stride+rowBytes]
				off := (y+row)*dst.Stride + x*Bands
				copy(dst.Pix[off:off+rowBytes], src)
			}
		}(start, end)
	}
	wg.Wait()
}
