package runtime

import (
	"context"

	"github.com/pspoerri/tilepipe/tilesource"
)

// ContainerRegistry resolves a location string (path or URI) to an
// opened tile source. Satisfied by *registry.Registry; declared here as
// an interface so Runtime can bundle one without depending on the
// container packages.
type ContainerRegistry interface {
	Open(ctx context.Context, location string) (tilesource.Source, error)
}

// CacheType records a Runtime's cache policy (spec.md §4.L): memory or
// a temp-directory disk cache. No package in this module reads it;
// TraverseAllTiles buffers Push/Pop slots in whatever *cache.DiskCache
// its caller passes.
type CacheType int

const (
	CacheMemory CacheType = iota
	CacheDisk
)

// ConcurrencyLimits bounds how many tasks may run at once for I/O-bound
// and CPU-bound work respectively (spec.md §5, SPEC_FULL.md §5's
// "ConcurrencyLimits"), threaded through package tilestream and
// traversal execution instead of a bare literal.
type ConcurrencyLimits struct {
	IOBound  int
	CPUBound int
}

// Runtime is the immutable, cheap-to-copy handle spec.md §4.K
// describes: every field is a pointer or value type small enough to
// copy freely, so passing a Runtime by value down a call chain never
// deep-copies the registry, cache policy, or event bus it carries.
type Runtime struct {
	Sources     ContainerRegistry
	CacheType   CacheType
	MaxMemory   int64 // bytes; 0 means unbounded
	Concurrency ConcurrencyLimits
	Events      *EventBus
}

// New returns a Runtime bundling sources with the given cache policy
// and an empty event bus. maxMemory of 0 means unbounded; concurrency
// of 0 in either field falls back to NumCPU via ConcurrencyLimits'
// consumers.
func New(sources ContainerRegistry, cacheType CacheType, maxMemory int64, concurrency ConcurrencyLimits) *Runtime {
	return &Runtime{
		Sources:     sources,
		CacheType:   cacheType,
		MaxMemory:   maxMemory,
		Concurrency: concurrency,
		Events:      NewEventBus(),
	}
}

// NewProgress returns a ProgressHandle reporting through this runtime's
// event bus. drawTTY additionally redraws an in-place stderr status
// line, for interactive CLI use.
func (r *Runtime) NewProgress(message string, drawTTY bool) *ProgressHandle {
	return newProgressHandle(r.Events, message, drawTTY)
}
