package capture

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrArenaExhausted is reported when an allocation would exceed the memory budget.
var ErrArenaExhausted = errors.New("capture ran out of memory")

const defaultChunkSize = 64 * 1024

// Arena is the bounded memory budget every flow table draws from.
//
// It is owned by the capture goroutine; Usage and Peak may be read from
// anywhere. Running out of budget is fatal: the fatal handler is invoked and
// the allocation never returns.
type Arena struct {
	budget    int64
	chunkSize int
	used      atomic.Int64
	peak      atomic.Int64
	free      [][]byte
	fatal     func(error)
	logger    *zap.Logger
}

// ArenaOption customises an Arena.
type ArenaOption func(*Arena)

// WithChunkSize sets the granularity regions grow by.
func WithChunkSize(n int) ArenaOption {
	return func(a *Arena) {
		if n > 0 {
			a.chunkSize = n
		}
	}
}

// WithFatalHandler replaces the default handler (log and exit).
// The handler must not return; if it does, the arena panics.
func WithFatalHandler(fn func(error)) ArenaOption {
	return func(a *Arena) {
		a.fatal = fn
	}
}

// NewArena creates an arena with the given budget in bytes.
func NewArena(budget int64, logger *zap.Logger, opts ...ArenaOption) *Arena {
	a := &Arena{
		budget:    budget,
		chunkSize: defaultChunkSize,
		logger:    logger,
	}
	a.fatal = func(err error) {
		a.logger.Fatal("Capture memory exhausted", zap.Error(err))
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewRegion returns an empty region drawing from this arena.
func (a *Arena) NewRegion() *Region {
	return &Region{arena: a}
}

// Budget returns the configured budget in bytes.
func (a *Arena) Budget() int64 {
	return a.budget
}

// Usage returns the bytes currently held by live regions.
func (a *Arena) Usage() int64 {
	return a.used.Load()
}

// Peak returns the highest usage seen so far.
func (a *Arena) Peak() int64 {
	return a.peak.Load()
}

// Release returns every chunk of r to the arena. r must not be used afterwards.
func (a *Arena) Release(r *Region) {
	if r == nil || r.released {
		return
	}
	for _, c := range r.chunks {
		if len(c) == a.chunkSize {
			a.free = append(a.free, c)
		}
	}
	a.used.Add(-r.size)
	r.chunks = nil
	r.size = 0
	r.off = 0
	r.released = true
}

// fail reports a fatal condition. It never returns.
func (a *Arena) fail(err error) {
	a.fatal(err)
	panic(err)
}

func (a *Arena) chunk(size int) []byte {
	used := a.used.Load()
	if used+int64(size) > a.budget {
		a.fail(fmt.Errorf("%w: allocating %d bytes with %d of %d in use", ErrArenaExhausted, size, used, a.budget))
	}
	used = a.used.Add(int64(size))
	if used > a.peak.Load() {
		a.peak.Store(used)
	}

	if size == a.chunkSize && len(a.free) > 0 {
		c := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		clear(c)
		return c
	}
	return make([]byte, size)
}

// Region is a bump allocator over chunks of an Arena. A flow table owns
// exactly one region and the whole region is reclaimed at once.
type Region struct {
	arena    *Arena
	chunks   [][]byte
	off      int
	size     int64
	released bool
}

// Allocate returns size zeroed bytes.
func (r *Region) Allocate(size int) []byte {
	if r.released {
		panic("capture: allocation from a released region")
	}
	if size <= 0 {
		return nil
	}

	cs := r.arena.chunkSize
	if size > cs {
		// oversized allocations get a dedicated chunk that is not recycled
		c := r.arena.chunk(size)
		r.chunks = append(r.chunks, c)
		r.size += int64(size)
		return c[:size:size]
	}

	if n := len(r.chunks); n == 0 || len(r.chunks[n-1]) != cs || r.off+size > cs {
		r.chunks = append(r.chunks, r.arena.chunk(cs))
		r.size += int64(cs)
		r.off = 0
	}
	c := r.chunks[len(r.chunks)-1]
	b := c[r.off : r.off+size : r.off+size]
	r.off += size
	return b
}

// Size returns the bytes this region holds in the arena.
func (r *Region) Size() int64 {
	return r.size
}
