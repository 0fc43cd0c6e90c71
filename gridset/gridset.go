// Package gridset provides the tile-grid profiles a pyramid is built
// against: the square tile size, the zoom bounds and the geographic extent
// of the grid. Profiles are embedded as JSON.
package gridset

import (
	"embed"
	"encoding/json"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/perimeterx/marshmallow"

	"github.com/mapforge/rastile/mathhelp"
	"github.com/mapforge/rastile/raster"
)

var (
	//go:embed gridsets/*.json
	embeddedGridSetsJSONFS embed.FS
	embeddedGridSetsCache  = make(map[string]*GridSet)
)

// GridSet describes one quad-tree tile grid: square tiles, 2^zoom tiles per
// axis, a fixed geographic extent in the grid's CRS.
type GridSet struct {
	// Grid set identifier
	ID string `validate:"required" json:"id"`
	// Title of this grid set, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Reference to the Coordinate Reference System (CRS) of the grid
	CRS string `validate:"required,uri" json:"crs"`
	// Side length of the square tiles, in pixels
	TileSize uint `default:"256" validate:"required,min=1" json:"tileSize,omitempty"`
	// Lowest and highest zoom level served from this grid
	MinZoom int `validate:"min=0" json:"minZoom"`
	MaxZoom int `validate:"required,gtefield=MinZoom" json:"maxZoom"`
	// Full extent of the grid in CRS coordinates: minx, miny, maxx, maxy
	Extent [4]float64 `validate:"required" json:"extent"`
}

func (gs *GridSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(gs)
	if err != nil {
		return err
	}

	_, err = marshmallow.Unmarshal(data, gs, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(gs)
}

func LoadEmbeddedGridSet(id string) (GridSet, error) {
	var gs GridSet
	cached, ok := embeddedGridSetsCache[id]
	if ok {
		return *cached, nil
	}
	gsJSON, err := embeddedGridSetsJSONFS.ReadFile("gridsets/" + id + ".json")
	if err != nil {
		return gs, err
	}
	err = json.Unmarshal(gsJSON, &gs)
	if err != nil {
		return gs, err
	}
	embeddedGridSetsCache[id] = &gs
	return gs, nil
}

// GeomExtent returns the grid's full extent.
func (gs *GridSet) GeomExtent() *geom.Extent {
	return &geom.Extent{gs.Extent[0], gs.Extent[1], gs.Extent[2], gs.Extent[3]}
}

// MatrixSize is the number of tiles per axis at the given zoom.
func (gs *GridSet) MatrixSize(zoom int) uint {
	return mathhelp.Pow2(uint(zoom))
}

// TileSpan is the extent covered by one tile at the given zoom, per axis.
func (gs *GridSet) TileSpan(zoom int) (x, y float64) {
	size := float64(gs.MatrixSize(zoom))
	return (gs.Extent[2] - gs.Extent[0]) / size, (gs.Extent[3] - gs.Extent[1]) / size
}

// OffsetForExtent converts a raster's geographic extent to its fractional
// tile-grid offset at the given zoom. The offset is measured from the grid's
// top-left corner to the extent's top-left corner, in tile units.
func (gs *GridSet) OffsetForExtent(extent *geom.Extent, zoom int) raster.XY {
	spanX, spanY := gs.TileSpan(zoom)
	return raster.XY{
		X: (extent.MinX() - gs.Extent[0]) / spanX,
		Y: (gs.Extent[3] - extent.MaxY()) / spanY,
	}
}
