package tilesource

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/cache"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// Batch is one (bbox, tile stream) pair handed to a TraverseAllTiles callback.
type Batch struct {
	BBox   tilecoord.TileBBox
	Stream tilestream.Stream[blob.Tile]
}

// Progress reports a running count of tiles read and written, called at
// most as often as the traversal driver advances a step. Implementations
// that want throttled UI updates should do so themselves.
type Progress func(read, written uint64)

// TraverseAllTiles is the non-object-safe extension described in
// spec.md §9: it drives the translation plan from package traversal,
// buffering through slotCache where the plan requires a Push/Pop, and
// invokes callback once per resulting (bbox, stream) batch in plan
// order. slotCache may be nil only when the plan never buffers (pure
// Stream steps); TraverseAllTiles returns an error if it does.
func TraverseAllTiles(ctx context.Context, s Source, write traversal.Traversal, ioConcurrency int, slotCache *cache.DiskCache, progress Progress, callback func(context.Context, Batch) error) error {
	meta := s.Metadata()
	steps, err := traversal.Translate(meta.BBoxPyramid, meta.Traversal, write)
	if err != nil {
		return fmt.Errorf("tilesource: %w", err)
	}

	var totalRead, totalWrite uint64
	for _, step := range steps {
		for _, b := range step.Inputs {
			totalRead += b.CountTiles()
		}
		if step.Kind != traversal.StepPush {
			totalWrite += step.Output.CountTiles()
		}
	}
	var done uint64
	report := func(n uint64) {
		done += n
		if progress != nil {
			progress(done, done*totalWrite/max1(totalRead))
		}
	}

	if ioConcurrency <= 0 {
		ioConcurrency = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(maxInt(ioConcurrency, 1)))

	for _, step := range steps {
		switch step.Kind {
		case traversal.StepStream:
			merged, err := mergeBBoxStreams(ctx, s, step.Inputs, sem)
			if err != nil {
				return err
			}
			if err := callback(ctx, Batch{BBox: step.Output, Stream: merged}); err != nil {
				return err
			}
			report(step.Output.CountTiles())

		case traversal.StepPush:
			if slotCache == nil {
				return fmt.Errorf("tilesource: plan requires a cache slot but none was provided")
			}
			g, gctx := errgroup.WithContext(ctx)
			for _, bbox := range step.Inputs {
				bbox := bbox
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				g.Go(func() error {
					defer sem.Release(1)
					st, err := s.GetTileStream(gctx, bbox)
					if err != nil {
						return err
					}
					entries, err := tilestream.ToVec(gctx, st)
					if err != nil {
						return err
					}
					for _, e := range entries {
						if err := slotCache.Push(step.Slot, &cache.CoordTileValue{Coord: e.Coord, Tile: e.Item}); err != nil {
							return err
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			var pushed uint64
			for _, b := range step.Inputs {
				pushed += b.CountTiles()
			}
			report(pushed)

		case traversal.StepPop:
			values, err := slotCache.ReadAll(step.Slot, func() cache.Value { return &cache.CoordTileValue{} })
			if err != nil {
				return err
			}
			if err := slotCache.Drop(step.Slot); err != nil {
				return err
			}
			entries := make([]tilestream.Entry[blob.Tile], len(values))
			for i, v := range values {
				ct := v.(*cache.CoordTileValue)
				entries[i] = tilestream.Entry[blob.Tile]{Coord: ct.Coord, Item: ct.Tile}
			}
			popped := tilestream.FromVec(entries)
			if err := callback(ctx, Batch{BBox: step.Output, Stream: popped}); err != nil {
				return err
			}
			report(step.Output.CountTiles())
		}
	}
	return nil
}

func mergeBBoxStreams(ctx context.Context, s Source, bboxes []tilecoord.TileBBox, sem *semaphore.Weighted) (tilestream.Stream[blob.Tile], error) {
	if len(bboxes) == 1 {
		return s.GetTileStream(ctx, bboxes[0])
	}
	streams := make([]tilestream.Stream[blob.Tile], 0, len(bboxes))
	for _, b := range bboxes {
		st, err := s.GetTileStream(ctx, b)
		if err != nil {
			return tilestream.Stream[blob.Tile]{}, err
		}
		streams = append(streams, st)
	}
	return tilestream.FromStreams(ctx, streams), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}
