// Package processing takes care of the logistics around reading tiles from a
// Source and writing them to per-zoom Targets. Not the resampling itself.
package processing

import (
	"log"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// writeTilesToTargets collects the tiles the source produced and distributes
// them over the targets, one goroutine and channel per zoom level.
func writeTilesToTargets(tiles <-chan Tile, targets map[int]Target) {
	targetChannels := make(map[int]chan Tile, len(targets))
	wg := sync.WaitGroup{}

	zooms := maps.Keys(targets)
	slices.Sort(zooms)
	for _, zoom := range zooms {
		targetChannel := make(chan Tile)
		targetChannels[zoom] = targetChannel
		wg.Add(1)
		go func(target Target, tiles <-chan Tile) {
			defer wg.Done()
			target.WriteTiles(tiles)
		}(targets[zoom], targetChannel)
	}

	var written, dropped uint64
	for tile := range tiles {
		channel, ok := targetChannels[tile.Zoom()]
		if !ok {
			dropped++
			continue
		}
		channel <- tile
		written++
	}

	// close the channels, the targets will do their last writing
	for _, targetChannel := range targetChannels {
		close(targetChannel)
	}
	wg.Wait()

	log.Printf("       tiles routed: %d", written)
	if dropped > 0 {
		log.Printf("  no target, dropped: %d", dropped)
	}
}

// ProcessTiles pumps every tile the source produces into the target for its
// zoom level. It returns when all targets have finished writing.
func ProcessTiles(source Source, targets map[int]Target) {
	tiles := make(chan Tile)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		writeTilesToTargets(tiles, targets)
	}()
	go source.ReadTiles(tiles)

	wg.Wait()
}
