package pyramid

import (
	"fmt"
	"log"
	"sync"

	"github.com/umpc/go-sortedmap"

	"github.com/mapforge/rastile/processing"
)

// Cascade derives the levels for a set of zoom resolutions from one base
// level. Each sibling is a pure function of the shared base, so the levels
// are resampled in parallel. A Cascade is a processing.Source.
type Cascade struct {
	base  *Level
	zooms []int
}

// NewCascade validates the requested zooms against the pyramid contract.
// The list does not have to be contiguous or contain the base resolution.
func NewCascade(base *Level, zooms []int) (*Cascade, error) {
	if len(zooms) == 0 {
		return nil, fmt.Errorf("%w: no zoom levels requested", ErrPrecondition)
	}
	for _, zoom := range zooms {
		if zoom < 0 {
			return nil, fmt.Errorf("%w: zoom levels must be >= 0, got %d", ErrPrecondition, zoom)
		}
	}
	return &Cascade{base: base, zooms: zooms}, nil
}

// Levels resamples the base once per requested zoom and returns the derived
// levels ordered by resolution, coarsest first.
func (c *Cascade) Levels() ([]*Level, error) {
	derived := make(map[int]*Level, len(c.zooms))
	mu := sync.Mutex{}
	wg := sync.WaitGroup{}
	var firstErr error

	for _, zoom := range c.zooms {
		wg.Add(1)
		go func(zoom int) {
			defer wg.Done()
			level, err := c.levelAt(zoom)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			derived[zoom] = level
		}(zoom)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	// map of levels, sorted by resolution
	ordered := sortedmap.New(len(derived), func(x, y interface{}) bool {
		return x.(*Level).Resolution() < y.(*Level).Resolution()
	})
	for zoom, level := range derived {
		ordered.Insert(zoom, level)
	}

	levels := make([]*Level, 0, len(derived))
	for _, key := range ordered.Keys() {
		levels = append(levels, ordered.Map()[key].(*Level))
	}
	return levels, nil
}

func (c *Cascade) levelAt(zoom int) (*Level, error) {
	switch {
	case zoom == c.base.Resolution():
		return c.base, nil
	case zoom < c.base.Resolution():
		return c.base.Downsample(c.base.Resolution() - zoom)
	default:
		return c.base.Upsample(zoom - c.base.Resolution())
	}
}

// ReadTiles derives every requested level and slices it into the channel,
// coarsest level first.
func (c *Cascade) ReadTiles(tiles chan<- processing.Tile) {
	levels, err := c.Levels()
	if err != nil {
		log.Fatalf("error deriving pyramid levels: %s", err)
	}
	for _, level := range levels {
		log.Printf("  resolution %d: %dx%d", level.Resolution(), level.ImageWidth(), level.ImageHeight())
		if err := level.Slice(tiles); err != nil {
			log.Fatalf("error slicing resolution %d: %s", level.Resolution(), err)
		}
	}
	close(tiles)
}
