// Package mbtiles implements a processing.Target that persists rendered
// tiles to an MBTiles archive (SQLite).
package mbtiles

import (
	"bytes"
	"database/sql"
	"fmt"
	"log"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/go-spatial/geom"
	_ "github.com/mattn/go-sqlite3"
	"github.com/muesli/reflow/truncate"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mapforge/rastile/mathhelp"
	"github.com/mapforge/rastile/processing"
)

const logValueWidth = 48

type Target struct {
	pagesize int
	handle   *sql.DB
}

func (target *Target) Init(file string, pagesize int) error {
	if pagesize < 1 {
		return fmt.Errorf("pagesize must be >= 1, got %d", pagesize)
	}
	handle, err := sql.Open("sqlite3", file)
	if err != nil {
		return fmt.Errorf("error opening target MBTiles %s: %w", file, err)
	}
	target.handle = handle
	target.pagesize = pagesize
	return nil
}

func (target *Target) Close() {
	_ = target.handle.Close()
}

// CreateTables creates the MBTiles schema and writes the metadata rows in
// the given order.
func (target *Target) CreateTables(metadata *orderedmap.OrderedMap[string, string]) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS metadata (name TEXT NOT NULL, value TEXT, PRIMARY KEY (name));`,
		`CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB,
			PRIMARY KEY (zoom_level, tile_column, tile_row));`,
	}
	for _, statement := range statements {
		if _, err := target.handle.Exec(statement); err != nil {
			return fmt.Errorf("error creating MBTiles schema: %w", err)
		}
	}

	for pair := metadata.Oldest(); pair != nil; pair = pair.Next() {
		_, err := target.handle.Exec(`INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`,
			pair.Key, pair.Value)
		if err != nil {
			return fmt.Errorf("error writing metadata %s: %w", pair.Key, err)
		}
		log.Printf("  metadata %s = %s", pair.Key, truncate.StringWithTail(pair.Value, logValueWidth, "…"))
	}
	return nil
}

// Metadata builds the standard MBTiles metadata rows in write order.
func Metadata(name string, extent *geom.Extent, minZoom, maxZoom int) *orderedmap.OrderedMap[string, string] {
	metadata := orderedmap.New[string, string]()
	metadata.Set("name", name)
	metadata.Set("type", "overlay")
	metadata.Set("version", "1")
	metadata.Set("format", "png")
	if extent != nil {
		metadata.Set("bounds", fmt.Sprintf("%v,%v,%v,%v",
			extent.MinX(), extent.MinY(), extent.MaxX(), extent.MaxY()))
	}
	metadata.Set("minzoom", strconv.Itoa(minZoom))
	metadata.Set("maxzoom", strconv.Itoa(maxZoom))
	return metadata
}

// WriteTiles collects the tiles from the channel and writes them to the
// archive, one transaction per pagesize tiles.
func (target *Target) WriteTiles(tiles <-chan processing.Tile) {
	var page []processing.Tile

	for {
		tile, hasMore := <-tiles
		if !hasMore {
			target.writeTiles(page)
			break
		}
		page = append(page, tile)

		if len(page)%target.pagesize == 0 {
			target.writeTiles(page)
			page = nil
		}
	}
}

func (target *Target) writeTiles(page []processing.Tile) {
	if len(page) == 0 {
		return
	}
	tx, err := target.handle.Begin()
	if err != nil {
		log.Fatalf("could not start a transaction: %s", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		log.Fatalf("could not prepare a statement: %s", err)
	}

	for _, tile := range page {
		blob := bytes.Buffer{}
		if err := imaging.Encode(&blob, tile.Image().NRGBA(), imaging.PNG); err != nil {
			log.Fatalf("could not encode tile %d/%d/%d: %s", tile.Zoom(), tile.Column(), tile.Row(), err)
		}
		_, err = stmt.Exec(tile.Zoom(), tile.Column(), flipRow(tile.Zoom(), tile.Row()), blob.Bytes())
		if err != nil {
			log.Fatalf("could not write tile %d/%d/%d: %s", tile.Zoom(), tile.Column(), tile.Row(), err)
		}
	}
	stmt.Close()
	if err = tx.Commit(); err != nil {
		log.Fatalf("could not commit a transaction: %s", err)
	}
	log.Printf("    wrote %d tile(s)", len(page))
}

// flipRow converts a top-left grid row to the bottom-left TMS scheme MBTiles
// uses.
func flipRow(zoom int, row uint) uint {
	return mathhelp.Pow2(uint(zoom)) - 1 - row
}
