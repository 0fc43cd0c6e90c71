package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/disintegration/imaging"
	"github.com/go-spatial/geom"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/mapforge/rastile/engine"
	"github.com/mapforge/rastile/gridset"
	"github.com/mapforge/rastile/processing"
	"github.com/mapforge/rastile/processing/mbtiles"
	"github.com/mapforge/rastile/pyramid"
	"github.com/mapforge/rastile/raster"
)

const SOURCE string = `sourceImage`
const TARGET string = `targetMbtiles`
const OVERWRITE string = `overwrite`
const GRIDSET string = `gridset`
const EXTENT string = `extent`
const RESOLUTION string = `resolution`
const ZOOMLEVELS string = `zoomlevels`
const CONCURRENCY string = `concurrency`
const PAGESIZE string = `pagesize`

// minKernelVersion is the oldest resampling kernel binding this build works
// with.
const minKernelVersion = 15

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "rastile"
	app.Usage = "A Golang raster tile pyramid builder"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     SOURCE,
			Aliases:  []string{"s"},
			Usage:    "Source raster image (PNG, JPEG or TIFF)",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(SOURCE)},
		},
		&cli.StringFlag{
			Name:     TARGET,
			Aliases:  []string{"t"},
			Usage:    "Target MBTiles (prefix). One MBTiles per zoom level will be created and the filename will be suffixed. E.g. target_6.mbtiles",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(TARGET)},
		},
		&cli.BoolFlag{
			Name:     OVERWRITE,
			Aliases:  []string{"o"},
			Usage:    "Overwrite a target MBTiles if it exists",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
		},
		&cli.StringFlag{
			Name:     GRIDSET,
			Aliases:  []string{"g"},
			Usage:    `ID of a (built-in) grid set. E.g.: WebMercatorQuad`,
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(GRIDSET)},
		},
		&cli.StringFlag{
			Name:     EXTENT,
			Aliases:  []string{"e"},
			Usage:    `Geographic extent of the source raster in the grid set's CRS. JSON array: [minx,miny,maxx,maxy]`,
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(EXTENT)},
		},
		&cli.IntFlag{
			Name:     RESOLUTION,
			Aliases:  []string{"r"},
			Usage:    "Native zoom resolution of the source raster",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(RESOLUTION)},
		},
		&cli.StringFlag{
			Name:     ZOOMLEVELS,
			Aliases:  []string{"z"},
			Usage:    `Zoom levels to derive and persist. JSON array of integers. E.g.: [4,5,6,7,8]`,
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(ZOOMLEVELS)},
		},
		&cli.IntFlag{
			Name:     CONCURRENCY,
			Aliases:  []string{"c"},
			Usage:    "Worker count for raster operations, 0 = auto-detect",
			Value:    0,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(CONCURRENCY)},
		},
		&cli.IntFlag{
			Name:     PAGESIZE,
			Aliases:  []string{"p"},
			Usage:    "Page Size, how many tiles are written per transaction to a target MBTiles",
			Value:    1000,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(PAGESIZE)},
		},
	}

	app.Action = func(c *cli.Context) error {
		gridSet, err := gridset.LoadEmbeddedGridSet(c.String(GRIDSET))
		if err != nil {
			return err
		}
		var zoomLevels []int
		err = json.Unmarshal([]byte(c.String(ZOOMLEVELS)), &zoomLevels)
		if err != nil {
			return err
		}
		var extentValues [4]float64
		err = json.Unmarshal([]byte(c.String(EXTENT)), &extentValues)
		if err != nil {
			return err
		}
		extent := geom.Extent(extentValues)

		eng, err := engine.New(minKernelVersion)
		if err != nil {
			return err
		}
		err = eng.SetConcurrency(c.Int(CONCURRENCY))
		if err != nil {
			return err
		}

		sourceImage, err := imaging.Open(c.String(SOURCE))
		if err != nil {
			log.Fatalf("error opening source raster: %s", err)
		}
		source, err := raster.FromImage(eng, sourceImage)
		if err != nil {
			return err
		}

		resolution := c.Int(RESOLUTION)
		tileSize := int(gridSet.TileSize)
		offset := gridSet.OffsetForExtent(&extent, resolution)
		aligned, err := source.AlignToTileGrid(tileSize, tileSize, offset)
		if err != nil {
			return err
		}
		log.Printf("  source %dx%d aligned to %dx%d at offset %v,%v",
			source.Width(), source.Height(), aligned.Width(), aligned.Height(), offset.X, offset.Y)

		targetPathFmt := injectSuffixIntoPath(c.String(TARGET))

		mbtilesTargets := make(map[int]*mbtiles.Target, len(zoomLevels))
		overwrite := c.Bool(OVERWRITE)
		pagesize := c.Int(PAGESIZE)
		for _, zoom := range zoomLevels {
			mbtilesTargets[zoom] = initMBTilesTarget(targetPathFmt, zoom, overwrite, pagesize)
			defer mbtilesTargets[zoom].Close() // yes, supposed to go here, want to close all at end of func
		}
		name := path.Base(c.String(SOURCE))
		for zoom, target := range mbtilesTargets {
			err = target.CreateTables(mbtiles.Metadata(name, &extent, zoom, zoom))
			if err != nil {
				log.Fatalf("error initializing the target MBTiles: %s", err)
			}
		}

		base, err := pyramid.NewLevel(aligned, nil, tileSize, tileSize, offset, resolution)
		if err != nil {
			return err
		}
		cascade, err := pyramid.NewCascade(base, zoomLevels)
		if err != nil {
			return err
		}

		log.Println("=== start tiling ===")

		// need a copied map because of type difference processing.Target vs mbtiles.Target
		targets := make(map[int]processing.Target, len(mbtilesTargets))
		for zoom, target := range mbtilesTargets {
			targets[zoom] = target
		}
		processing.ProcessTiles(cascade, targets)

		log.Println("=== done tiling ===")
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func initMBTilesTarget(targetPathFmt string, zoom int, overwrite bool, pagesize int) *mbtiles.Target {
	targetPath := fmt.Sprintf(targetPathFmt, zoom)
	if overwrite {
		err := os.Remove(targetPath)
		var pathError *os.PathError
		if err != nil {
			if !(errors.As(err, &pathError) && errors.Is(pathError.Err, syscall.ENOENT)) {
				log.Fatalf("could not remove target file: %e", err)
			}
		}
	}
	target := mbtiles.Target{}
	if err := target.Init(targetPath, pagesize); err != nil {
		log.Fatalf("error opening target MBTiles: %s", err)
	}
	return &target
}

func injectSuffixIntoPath(p string) string {
	dir, file := path.Split(p)
	ext := path.Ext(file)
	name := file[:len(file)-len(ext)]
	return path.Join(dir, name+"_%v"+ext)
}
