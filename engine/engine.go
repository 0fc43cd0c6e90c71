// Package engine binds the process to the pixel resampling kernel and owns
// the process-wide worker count that raster operations may use.
package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
)

// KernelVersion is the version of the bundled resampling kernel binding.
const KernelVersion = 16

var (
	ErrEngineUnavailable = errors.New("resampling kernel unavailable")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Engine is the process-wide handle to the resampling kernel. Create it once
// at startup. The concurrency setting may be changed at any time; a change
// applies to operations started afterwards, not to ones already running.
type Engine struct {
	version int
	workers atomic.Int64
}

// New checks that the kernel binding is at least minVersion and returns a
// handle bound to it. An older kernel is rejected here, never deeper in the
// pipeline.
func New(minVersion int) (*Engine, error) {
	if KernelVersion < minVersion {
		return nil, fmt.Errorf("%w: kernel version %d is older than required version %d",
			ErrEngineUnavailable, KernelVersion, minVersion)
	}
	eng := &Engine{version: KernelVersion}
	eng.workers.Store(int64(runtime.NumCPU()))
	return eng, nil
}

func (eng *Engine) Version() int {
	return eng.version
}

// SetConcurrency sets the worker count for subsequent raster operations.
// 0 means auto-detect from the available hardware parallelism.
func (eng *Engine) SetConcurrency(workers int) error {
	if workers < 0 {
		return fmt.Errorf("%w: concurrency must be >= 0, got %d", ErrInvalidArgument, workers)
	}
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	eng.workers.Store(int64(workers))
	return nil
}

// Concurrency returns the last value set, with 0 resolved to the detected
// hardware parallelism.
func (eng *Engine) Concurrency() int {
	return int(eng.workers.Load())
}
