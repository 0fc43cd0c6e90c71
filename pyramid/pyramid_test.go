package pyramid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapforge/rastile/engine"
	"github.com/mapforge/rastile/processing"
	"github.com/mapforge/rastile/raster"
)

const tileSide = 16

func testLevel(t *testing.T, width, height, tileW, tileH, resolution int) *Level {
	t.Helper()
	eng, err := engine.New(15)
	require.NoError(t, err)
	image, err := raster.NewBlank(eng, width, height)
	require.NoError(t, err)
	level, err := NewLevel(image, nil, tileW, tileH, raster.XY{}, resolution)
	require.NoError(t, err)
	return level
}

type recordingSink struct {
	tiles []processing.Tile
}

func (s *recordingSink) WriteTiles(tiles <-chan processing.Tile) {
	for tile := range tiles {
		s.tiles = append(s.tiles, tile)
	}
}

func TestLevelDimensions(t *testing.T) {
	// very small world map
	level := testLevel(t, 2, 1, 1, 1, 0)
	assert.Equal(t, 2, level.ImageWidth())
	assert.Equal(t, 1, level.ImageHeight())
}

func TestNewLevelValidation(t *testing.T) {
	eng, err := engine.New(15)
	require.NoError(t, err)
	image, err := raster.NewBlank(eng, 4, 4)
	require.NoError(t, err)

	_, err = NewLevel(image, nil, 0, 16, raster.XY{}, 0)
	assert.ErrorIs(t, err, raster.ErrInvalidArgument)
	_, err = NewLevel(image, nil, 16, 16, raster.XY{}, -1)
	assert.ErrorIs(t, err, raster.ErrInvalidArgument)
}

func TestDownsample(t *testing.T) {
	resolution := 2
	level := testLevel(t, tileSide*4, tileSide*4, tileSide, tileSide, resolution)

	_, err := level.Downsample(0)
	assert.ErrorIs(t, err, ErrPrecondition)

	one, err := level.Downsample(1)
	require.NoError(t, err)
	assert.Equal(t, tileSide*2, one.ImageWidth())
	assert.Equal(t, tileSide*2, one.ImageHeight())
	assert.Equal(t, resolution-1, one.Resolution())

	two, err := level.Downsample(2)
	require.NoError(t, err)
	assert.Equal(t, tileSide, two.ImageWidth())
	assert.Equal(t, tileSide, two.ImageHeight())
	assert.Equal(t, resolution-2, two.Resolution())

	// two single-level steps end up identical to one double-level step
	stepped, err := one.Downsample(1)
	require.NoError(t, err)
	assert.Equal(t, two.ImageWidth(), stepped.ImageWidth())
	assert.Equal(t, two.ImageHeight(), stepped.ImageHeight())
	assert.Equal(t, two.Resolution(), stepped.Resolution())

	// would go below resolution 0
	_, err = level.Downsample(3)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestUpsample(t *testing.T) {
	level := testLevel(t, tileSide, tileSide, tileSide, tileSide, 0)

	_, err := level.Upsample(0)
	assert.ErrorIs(t, err, ErrPrecondition)

	one, err := level.Upsample(1)
	require.NoError(t, err)
	assert.Equal(t, tileSide*2, one.ImageWidth())
	assert.Equal(t, tileSide*2, one.ImageHeight())
	assert.Equal(t, 1, one.Resolution())

	two, err := level.Upsample(2)
	require.NoError(t, err)
	assert.Equal(t, tileSide*4, two.ImageWidth())
	assert.Equal(t, tileSide*4, two.ImageHeight())
	assert.Equal(t, 2, two.Resolution())

	stepped, err := one.Upsample(1)
	require.NoError(t, err)
	assert.Equal(t, two.ImageWidth(), stepped.ImageWidth())
	assert.Equal(t, two.ImageHeight(), stepped.ImageHeight())
	assert.Equal(t, two.Resolution(), stepped.Resolution())
}

func TestDownsampleRealignsSubTileLevels(t *testing.T) {
	// a single-tile base shrinks below one tile; the result must be
	// padded back onto the grid so it can still be sliced
	level := testLevel(t, tileSide, tileSide, tileSide, tileSide, 2)

	one, err := level.Downsample(1)
	require.NoError(t, err)
	assert.Equal(t, tileSide, one.ImageWidth())
	assert.Equal(t, tileSide, one.ImageHeight())
	assert.Equal(t, 1, one.Resolution())

	two, err := one.Downsample(1)
	require.NoError(t, err)
	assert.Equal(t, tileSide, two.ImageWidth())
	assert.Equal(t, 0, two.Resolution())

	sink := &recordingSink{}
	tiles := make(chan processing.Tile, 1)
	require.NoError(t, two.Slice(tiles))
	close(tiles)
	sink.WriteTiles(tiles)
	assert.Len(t, sink.tiles, 1)
}

func TestDownsampleScalesOffset(t *testing.T) {
	eng, err := engine.New(15)
	require.NoError(t, err)
	image, err := raster.NewBlank(eng, tileSide, tileSide)
	require.NoError(t, err)
	level, err := NewLevel(image, nil, tileSide, tileSide, raster.XY{X: 2, Y: 1}, 1)
	require.NoError(t, err)

	one, err := level.Downsample(1)
	require.NoError(t, err)
	// the scaled offset (1, 0.5) turns into half a tile of top padding
	assert.Equal(t, tileSide, one.ImageWidth())
	assert.Equal(t, tileSide, one.ImageHeight())
	assert.Equal(t, raster.XY{X: 1, Y: 0}, one.Offset())
}

func TestUpsampleScalesOffset(t *testing.T) {
	eng, err := engine.New(15)
	require.NoError(t, err)
	image, err := raster.NewBlank(eng, tileSide, tileSide)
	require.NoError(t, err)
	level, err := NewLevel(image, nil, tileSide, tileSide, raster.XY{X: 1, Y: 1}, 0)
	require.NoError(t, err)

	one, err := level.Upsample(1)
	require.NoError(t, err)
	assert.Equal(t, tileSide*2, one.ImageWidth())
	assert.Equal(t, tileSide*2, one.ImageHeight())
	assert.Equal(t, raster.XY{X: 2, Y: 2}, one.Offset())
}

func TestSiblingsDoNotAlterBase(t *testing.T) {
	level := testLevel(t, tileSide*2, tileSide*2, tileSide, tileSide, 1)

	down, err := level.Downsample(1)
	require.NoError(t, err)
	up, err := level.Upsample(1)
	require.NoError(t, err)

	assert.Equal(t, tileSide*2, level.ImageWidth())
	assert.Equal(t, tileSide*2, level.ImageHeight())
	assert.Equal(t, 1, level.Resolution())
	assert.Equal(t, tileSide, down.ImageWidth())
	assert.Equal(t, tileSide*4, up.ImageWidth())
	assert.Equal(t, level.TileWidth(), down.TileWidth())
	assert.Equal(t, level.TileHeight(), up.TileHeight())
	assert.Equal(t, level.Offset(), down.Offset())
}

func TestSlice(t *testing.T) {
	level := testLevel(t, tileSide*2, tileSide*2, tileSide, tileSide, 1)

	sink := &recordingSink{}
	tiles := make(chan processing.Tile)
	done := make(chan struct{})
	go func() {
		sink.WriteTiles(tiles)
		close(done)
	}()
	require.NoError(t, level.Slice(tiles))
	close(tiles)
	<-done

	require.Len(t, sink.tiles, 4)
	seen := map[[2]uint]bool{}
	for _, tile := range sink.tiles {
		assert.Equal(t, 1, tile.Zoom())
		assert.Equal(t, tileSide, tile.Image().Width())
		assert.Equal(t, tileSide, tile.Image().Height())
		seen[[2]uint{tile.Column(), tile.Row()}] = true
	}
	assert.Len(t, seen, 4)
}

func TestSliceEmitsGridCoordinates(t *testing.T) {
	eng, err := engine.New(15)
	require.NoError(t, err)
	image, err := raster.NewBlank(eng, tileSide, tileSide)
	require.NoError(t, err)
	level, err := NewLevel(image, nil, tileSide, tileSide, raster.XY{X: 1, Y: 1}, 1)
	require.NoError(t, err)

	tiles := make(chan processing.Tile, 1)
	require.NoError(t, level.Slice(tiles))
	close(tiles)

	tile := <-tiles
	assert.Equal(t, uint(1), tile.Column())
	assert.Equal(t, uint(1), tile.Row())
}

func TestSliceRejectsUnalignedRaster(t *testing.T) {
	level := testLevel(t, tileSide*2-1, tileSide, tileSide, tileSide, 0)

	tiles := make(chan processing.Tile, 4)
	err := level.Slice(tiles)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestEmit(t *testing.T) {
	eng, err := engine.New(15)
	require.NoError(t, err)
	image, err := raster.NewBlank(eng, tileSide*2, tileSide)
	require.NoError(t, err)
	sink := &recordingSink{}
	level, err := NewLevel(image, sink, tileSide, tileSide, raster.XY{}, 0)
	require.NoError(t, err)

	require.NoError(t, level.Emit())
	assert.Len(t, sink.tiles, 2)
}

func TestCascade(t *testing.T) {
	base := testLevel(t, tileSide*4, tileSide*4, tileSide, tileSide, 2)

	cascade, err := NewCascade(base, []int{3, 0, 1, 2})
	require.NoError(t, err)
	levels, err := cascade.Levels()
	require.NoError(t, err)

	require.Len(t, levels, 4)
	for i, level := range levels {
		assert.Equal(t, i, level.Resolution())
		assert.Equal(t, tileSide<<i, level.ImageWidth())
	}

	// deriving the cascade left the base untouched
	assert.Equal(t, 2, base.Resolution())
	assert.Equal(t, tileSide*4, base.ImageWidth())
}

func TestCascadeValidation(t *testing.T) {
	base := testLevel(t, tileSide, tileSide, tileSide, tileSide, 0)

	_, err := NewCascade(base, nil)
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = NewCascade(base, []int{-1})
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestCascadeReadTiles(t *testing.T) {
	base := testLevel(t, tileSide*2, tileSide*2, tileSide, tileSide, 1)

	cascade, err := NewCascade(base, []int{0, 1})
	require.NoError(t, err)

	sink := &recordingSink{}
	tiles := make(chan processing.Tile)
	done := make(chan struct{})
	go func() {
		sink.WriteTiles(tiles)
		close(done)
	}()
	cascade.ReadTiles(tiles)
	<-done

	// 1 tile at resolution 0, 4 at resolution 1, coarsest first
	require.Len(t, sink.tiles, 5)
	assert.Equal(t, 0, sink.tiles[0].Zoom())
	assert.Equal(t, 1, sink.tiles[4].Zoom())
}
