// Package tilestream implements the ordered (TileCoord, T) sequence type
// shared by every reader, writer, and converter (spec.md §4.D). A Stream
// is backed by a channel rather than Rust's async Stream trait; sequential
// constructors and transforms preserve channel send order, parallel ones
// fan out over golang.org/x/sync/errgroup and may reorder.
package tilestream

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pspoerri/tilepipe/tilecoord"
)

// Entry pairs a tile coordinate with its payload.
type Entry[T any] struct {
	Coord tilecoord.TileCoord
	Item  T
}

// Result carries either a value or an error, used by the *_parallel
// transforms whose per-item work can fail without aborting the stream.
type Result[T any] struct {
	Value T
	Err   error
}

// Stream is a single-consumer sequence of Entry[T], read via Next until
// it returns ok=false.
type Stream[T any] struct {
	ch   <-chan Entry[T]
	errs func() error
}

// Next blocks until the next entry is available, the stream ends, or ctx
// is cancelled.
func (s Stream[T]) Next(ctx context.Context) (Entry[T], bool, error) {
	select {
	case <-ctx.Done():
		return Entry[T]{}, false, ctx.Err()
	case e, ok := <-s.ch:
		if !ok {
			if s.errs != nil {
				return Entry[T]{}, false, s.errs()
			}
			return Entry[T]{}, false, nil
		}
		return e, true, nil
	}
}

// Empty returns a stream with no entries.
func Empty[T any]() Stream[T] {
	ch := make(chan Entry[T])
	close(ch)
	return Stream[T]{ch: ch}
}

// FromVec returns a stream over a pre-materialized slice, preserving order.
func FromVec[T any](items []Entry[T]) Stream[T] {
	ch := make(chan Entry[T], len(items))
	for _, e := range items {
		ch <- e
	}
	close(ch)
	return Stream[T]{ch: ch}
}

// FromIterCoord calls fn for each coord in order, emitting an entry for
// every coord where fn returns ok.
func FromIterCoord[T any](coords []tilecoord.TileCoord, fn func(tilecoord.TileCoord) (T, bool)) Stream[T] {
	ch := make(chan Entry[T])
	go func() {
		defer close(ch)
		for _, c := range coords {
			if v, ok := fn(c); ok {
				ch <- Entry[T]{Coord: c, Item: v}
			}
		}
	}()
	return Stream[T]{ch: ch}
}

func defaultConcurrency(n int) int64 {
	if n > 0 {
		return int64(n)
	}
	return int64(runtime.NumCPU())
}

// FromBBoxParallel calls fn for every coord in bbox using up to
// concurrency worker goroutines (0 = num_cpus), emitting entries for
// coords where fn returns ok. Output order is not guaranteed.
func FromBBoxParallel[T any](ctx context.Context, bbox tilecoord.TileBBox, concurrency int, fn func(tilecoord.TileCoord) (T, bool)) Stream[T] {
	ch := make(chan Entry[T])
	sem := semaphore.NewWeighted(defaultConcurrency(concurrency))
	go func() {
		defer close(ch)
		g, gctx := errgroup.WithContext(ctx)
		bbox.IterCoords(func(c tilecoord.TileCoord) bool {
			if sem.Acquire(gctx, 1) != nil {
				return false
			}
			g.Go(func() error {
				defer sem.Release(1)
				if v, ok := fn(c); ok {
					select {
					case ch <- Entry[T]{Coord: c, Item: v}:
					case <-gctx.Done():
					}
				}
				return nil
			})
			return true
		})
		_ = g.Wait()
	}()
	return Stream[T]{ch: ch}
}

// FromBBoxAsyncParallel is FromBBoxParallel for I/O-bound work: fn takes
// a context and may return an error, which aborts the stream.
func FromBBoxAsyncParallel[T any](ctx context.Context, bbox tilecoord.TileBBox, concurrency int, fn func(context.Context, tilecoord.TileCoord) (T, bool, error)) Stream[T] {
	ch := make(chan Entry[T])
	sem := semaphore.NewWeighted(defaultConcurrency(concurrency))
	g, gctx := errgroup.WithContext(ctx)
	go func() {
		defer close(ch)
		bbox.IterCoords(func(c tilecoord.TileCoord) bool {
			if sem.Acquire(gctx, 1) != nil {
				return false
			}
			g.Go(func() error {
				defer sem.Release(1)
				v, ok, err := fn(gctx, c)
				if err != nil {
					return err
				}
				if ok {
					select {
					case ch <- Entry[T]{Coord: c, Item: v}:
					case <-gctx.Done():
					}
				}
				return nil
			})
			return true
		})
		_ = g.Wait()
	}()
	return Stream[T]{ch: ch, errs: g.Wait}
}

// FromStreams merges several streams concurrently; output order across
// streams is not guaranteed, though each input stream's relative order is
// preserved among its own entries.
func FromStreams[T any](ctx context.Context, streams []Stream[T]) Stream[T] {
	ch := make(chan Entry[T])
	go func() {
		defer close(ch)
		g, gctx := errgroup.WithContext(ctx)
		for _, s := range streams {
			s := s
			g.Go(func() error {
				for {
					e, ok, err := s.Next(gctx)
					if err != nil {
						return err
					}
					if !ok {
						return nil
					}
					select {
					case ch <- e:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			})
		}
		_ = g.Wait()
	}()
	return Stream[T]{ch: ch}
}

// MapCoord rewrites each entry's coordinate, preserving order.
func MapCoord[T any](ctx context.Context, s Stream[T], fn func(tilecoord.TileCoord) tilecoord.TileCoord) Stream[T] {
	ch := make(chan Entry[T])
	go func() {
		defer close(ch)
		for {
			e, ok, err := s.Next(ctx)
			if err != nil || !ok {
				return
			}
			select {
			case ch <- Entry[T]{Coord: fn(e.Coord), Item: e.Item}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return Stream[T]{ch: ch}
}

// FilterCoord keeps only entries whose coordinate satisfies pred, preserving order.
func FilterCoord[T any](ctx context.Context, s Stream[T], pred func(tilecoord.TileCoord) bool) Stream[T] {
	ch := make(chan Entry[T])
	go func() {
		defer close(ch)
		for {
			e, ok, err := s.Next(ctx)
			if err != nil || !ok {
				return
			}
			if pred(e.Coord) {
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return Stream[T]{ch: ch}
}

// MapItemParallel applies fn to every item using up to concurrency
// worker goroutines. Output order is not guaranteed; per-item errors are
// carried in Result rather than aborting the stream.
func MapItemParallel[T, U any](ctx context.Context, s Stream[T], concurrency int, fn func(T) (U, error)) Stream[Result[U]] {
	ch := make(chan Entry[Result[U]])
	sem := semaphore.NewWeighted(defaultConcurrency(concurrency))
	go func() {
		defer close(ch)
		g, gctx := errgroup.WithContext(ctx)
		for {
			e, ok, err := s.Next(gctx)
			if err != nil || !ok {
				break
			}
			if sem.Acquire(gctx, 1) != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				v, err := fn(e.Item)
				select {
				case ch <- Entry[Result[U]]{Coord: e.Coord, Item: Result[U]{Value: v, Err: err}}:
				case <-gctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return Stream[Result[U]]{ch: ch}
}

// FilterMapItemParallel is MapItemParallel but drops entries where fn
// returns ok=false, and aborts the whole stream on the first error.
func FilterMapItemParallel[T, U any](ctx context.Context, s Stream[T], concurrency int, fn func(T) (U, bool, error)) Stream[U] {
	ch := make(chan Entry[U])
	sem := semaphore.NewWeighted(defaultConcurrency(concurrency))
	g, gctx := errgroup.WithContext(ctx)
	go func() {
		defer close(ch)
		for {
			e, ok, err := s.Next(gctx)
			if err != nil || !ok {
				break
			}
			if sem.Acquire(gctx, 1) != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				v, keep, err := fn(e.Item)
				if err != nil {
					return err
				}
				if keep {
					select {
					case ch <- Entry[U]{Coord: e.Coord, Item: v}:
					case <-gctx.Done():
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return Stream[U]{ch: ch, errs: g.Wait}
}

// FlatMapParallel expands each entry into zero or more output entries via
// fn, run across up to concurrency goroutines; output order is not
// guaranteed.
func FlatMapParallel[T, U any](ctx context.Context, s Stream[T], concurrency int, fn func(T) []Entry[U]) Stream[U] {
	ch := make(chan Entry[U])
	sem := semaphore.NewWeighted(defaultConcurrency(concurrency))
	go func() {
		defer close(ch)
		g, gctx := errgroup.WithContext(ctx)
		for {
			e, ok, err := s.Next(gctx)
			if err != nil || !ok {
				break
			}
			if sem.Acquire(gctx, 1) != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				for _, out := range fn(e.Item) {
					select {
					case ch <- out:
					case <-gctx.Done():
						return nil
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return Stream[U]{ch: ch}
}

// Inspect calls fn for every entry as it passes through, sequentially.
func Inspect[T any](ctx context.Context, s Stream[T], fn func(Entry[T])) Stream[T] {
	ch := make(chan Entry[T])
	go func() {
		defer close(ch)
		for {
			e, ok, err := s.Next(ctx)
			if err != nil || !ok {
				return
			}
			fn(e)
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return Stream[T]{ch: ch}
}

// ToVec drains s into a slice, preserving whatever order s delivers.
func ToVec[T any](ctx context.Context, s Stream[T]) ([]Entry[T], error) {
	var out []Entry[T]
	for {
		e, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, e)
	}
}

// DrainAndCount discards every entry, returning the count consumed.
func DrainAndCount[T any](ctx context.Context, s Stream[T]) (int, error) {
	n := 0
	for {
		_, ok, err := s.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// ForEachSync calls fn for every entry in order, stopping at the first error.
func ForEachSync[T any](ctx context.Context, s Stream[T], fn func(Entry[T]) error) error {
	for {
		e, ok, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// ForEachAsync is ForEachSync where fn may itself do async/blocking work
// honoring ctx.
func ForEachAsync[T any](ctx context.Context, s Stream[T], fn func(context.Context, Entry[T]) error) error {
	for {
		e, ok, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
}

// ForEachBuffered batches entries into groups of chunkSize (the last
// group may be smaller) and calls fn once per batch, in order.
func ForEachBuffered[T any](ctx context.Context, s Stream[T], chunkSize int, fn func([]Entry[T]) error) error {
	if chunkSize < 1 {
		chunkSize = 1
	}
	batch := make([]Entry[T], 0, chunkSize)
	for {
		e, ok, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			if len(batch) > 0 {
				return fn(batch)
			}
			return nil
		}
		batch = append(batch, e)
		if len(batch) == chunkSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]Entry[T], 0, chunkSize)
		}
	}
}

// ForEachAsyncParallel calls fn for every entry using up to concurrency
// worker goroutines, returning the first error encountered.
func ForEachAsyncParallel[T any](ctx context.Context, s Stream[T], concurrency int, fn func(context.Context, Entry[T]) error) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(defaultConcurrency(concurrency))
	var streamErr error
	for {
		e, ok, err := s.Next(gctx)
		if err != nil {
			streamErr = err
			break
		}
		if !ok {
			break
		}
		if sem.Acquire(gctx, 1) != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return fn(gctx, e)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return streamErr
}
