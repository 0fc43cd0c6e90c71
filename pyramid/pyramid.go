// Package pyramid derives the multi-resolution tile pyramid from a single
// aligned raster. A Level binds one raster to a tile grid at one zoom
// resolution; Downsample and Upsample construct sibling levels, and a Cascade
// feeds every requested level's tiles to the storage targets.
package pyramid

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mapforge/rastile/mathhelp"
	"github.com/mapforge/rastile/processing"
	"github.com/mapforge/rastile/raster"
)

// ErrPrecondition signals a level request that violates the pyramid's
// contract, e.g. downsampling below resolution 0. It marks a programming or
// configuration error in the caller and is never retried.
var ErrPrecondition = errors.New("precondition violated")

// Level is immutable. Deriving a sibling never alters the receiver, so
// multiple siblings can be derived from the same base concurrently.
type Level struct {
	image      *raster.Image
	sink       processing.Target
	tileWidth  int
	tileHeight int
	offset     raster.XY
	resolution int
}

// NewLevel binds an aligned raster to a tile grid at the given resolution.
// The sink may be nil if the level is only used for derivation.
func NewLevel(image *raster.Image, sink processing.Target, tileWidth, tileHeight int, offset raster.XY, resolution int) (*Level, error) {
	if tileWidth < 1 || tileHeight < 1 {
		return nil, fmt.Errorf("%w: tile dimensions must be positive, got %dx%d", raster.ErrInvalidArgument, tileWidth, tileHeight)
	}
	if resolution < 0 {
		return nil, fmt.Errorf("%w: resolution must be >= 0, got %d", raster.ErrInvalidArgument, resolution)
	}
	return &Level{
		image:      image,
		sink:       sink,
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
		offset:     offset,
		resolution: resolution,
	}, nil
}

func (l *Level) Image() *raster.Image {
	return l.image
}

// ImageWidth is always the wrapped image's current width.
func (l *Level) ImageWidth() int {
	return l.image.Width()
}

// ImageHeight is always the wrapped image's current height.
func (l *Level) ImageHeight() int {
	return l.image.Height()
}

func (l *Level) TileWidth() int {
	return l.tileWidth
}

func (l *Level) TileHeight() int {
	return l.tileHeight
}

func (l *Level) Offset() raster.XY {
	return l.offset
}

func (l *Level) Resolution() int {
	return l.resolution
}

// Downsample derives the sibling levels down, i.e. the raster shrunk by
// 2^-levels at resolution-levels. The grid offset scales with the
// resolution; a raster smaller than 2^levels tiles shrinks below a
// whole-tile multiple, so the shrunk raster is re-aligned to the grid at
// the scaled offset. Tile dimensions and sink carry over unchanged.
func (l *Level) Downsample(levels int) (*Level, error) {
	if levels < 1 {
		return nil, fmt.Errorf("%w: levels must be >= 1, got %d", ErrPrecondition, levels)
	}
	if l.resolution-levels < 0 {
		return nil, fmt.Errorf("%w: downsampling %d level(s) from resolution %d would go below 0",
			ErrPrecondition, levels, l.resolution)
	}
	scale := 1 / float64(mathhelp.Pow2(uint(levels)))
	return l.resample(scale, l.resolution-levels)
}

// Upsample derives the sibling levels up, i.e. the raster stretched by
// 2^levels at resolution+levels. The grid offset scales with the
// resolution.
func (l *Level) Upsample(levels int) (*Level, error) {
	if levels < 1 {
		return nil, fmt.Errorf("%w: levels must be >= 1, got %d", ErrPrecondition, levels)
	}
	scale := float64(mathhelp.Pow2(uint(levels)))
	return l.resample(scale, l.resolution+levels)
}

// resample scales the raster and the grid offset together and pads the
// result back onto whole-tile boundaries. The fractional remainder of the
// scaled offset becomes padding, so the new level's offset is its floor.
func (l *Level) resample(scale float64, resolution int) (*Level, error) {
	offset := raster.XY{X: l.offset.X * scale, Y: l.offset.Y * scale}
	var image *raster.Image
	var err error
	if scale < 1 {
		image, err = l.image.Shrink(scale, scale)
	} else {
		image, err = l.image.Stretch(scale, scale)
	}
	if err != nil {
		return nil, err
	}
	aligned, err := image.AlignToTileGrid(l.tileWidth, l.tileHeight, offset)
	if err != nil {
		return nil, err
	}
	return &Level{
		image:      aligned,
		sink:       l.sink,
		tileWidth:  l.tileWidth,
		tileHeight: l.tileHeight,
		offset:     raster.XY{X: math.Floor(offset.X), Y: math.Floor(offset.Y)},
		resolution: resolution,
	}, nil
}

// Slice cuts the level's raster into whole tiles and sends them on the
// channel. The raster must already be tile-aligned. Tile coordinates are
// anchored at the whole-tile part of the level's offset, so a raster that
// does not start at the grid origin emits its true grid positions.
func (l *Level) Slice(tiles chan<- processing.Tile) error {
	if l.ImageWidth()%l.tileWidth != 0 || l.ImageHeight()%l.tileHeight != 0 {
		return fmt.Errorf("%w: %dx%d raster is not aligned to %dx%d tiles",
			ErrPrecondition, l.ImageWidth(), l.ImageHeight(), l.tileWidth, l.tileHeight)
	}
	columns := l.ImageWidth() / l.tileWidth
	rows := l.ImageHeight() / l.tileHeight
	originX := int(math.Floor(l.offset.X))
	originY := int(math.Floor(l.offset.Y))
	for row := 0; row < rows; row++ {
		for column := 0; column < columns; column++ {
			tiles <- &gridTile{
				image:  l.image.Region(column*l.tileWidth, row*l.tileHeight, l.tileWidth, l.tileHeight),
				column: uint(originX + column),
				row:    uint(originY + row),
				zoom:   l.resolution,
			}
		}
	}
	return nil
}

// Emit consumes the level: its tiles are extracted and pushed to the sink.
func (l *Level) Emit() error {
	if l.sink == nil {
		return fmt.Errorf("%w: level has no sink", ErrPrecondition)
	}
	tiles := make(chan processing.Tile)
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.sink.WriteTiles(tiles)
	}()
	err := l.Slice(tiles)
	close(tiles)
	wg.Wait()
	return err
}

type gridTile struct {
	image  *raster.Image
	column uint
	row    uint
	zoom   int
}

func (t *gridTile) Image() *raster.Image { return t.image }
func (t *gridTile) Column() uint         { return t.column }
func (t *gridTile) Row() uint            { return t.row }
func (t *gridTile) Zoom() int            { return t.zoom }
