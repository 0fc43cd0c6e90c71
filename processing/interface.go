package processing

import (
	"github.com/mapforge/rastile/raster"
)

// Tile is one rendered tile-grid cell, ready for persistence.
type Tile interface {
	Image() *raster.Image
	Column() uint
	Row() uint
	Zoom() int
}

// Source produces tiles. ReadTiles sends every tile it has and closes the
// channel when done.
type Source interface {
	ReadTiles(chan<- Tile)
}

// Target persists tiles. WriteTiles consumes the channel until it is closed.
type Target interface {
	WriteTiles(<-chan Tile)
}
