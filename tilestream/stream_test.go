package tilestream

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/pspoerri/tilepipe/tilecoord"
)

func TestFromVecPreservesOrder(t *testing.T) {
	items := []Entry[int]{
		{Coord: tilecoord.TileCoord{Level: 1, X: 0, Y: 0}, Item: 10},
		{Coord: tilecoord.TileCoord{Level: 1, X: 1, Y: 0}, Item: 20},
	}
	got, err := ToVec(context.Background(), FromVec(items))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Item != 10 || got[1].Item != 20 {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestFromIterCoordFiltersOutNotOK(t *testing.T) {
	coords := []tilecoord.TileCoord{{Level: 1, X: 0, Y: 0}, {Level: 1, X: 1, Y: 0}, {Level: 1, X: 1, Y: 1}}
	s := FromIterCoord(coords, func(c tilecoord.TileCoord) (int, bool) {
		if c.X == 1 && c.Y == 0 {
			return 0, false
		}
		return int(c.X + c.Y), true
	})
	got, err := ToVec(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
}

func TestFromBBoxParallelCoversAllTiles(t *testing.T) {
	bbox, err := tilecoord.NewBBox(3, 0, 0, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	s := FromBBoxParallel(context.Background(), bbox, 4, func(c tilecoord.TileCoord) (int, bool) {
		return int(c.X*10 + c.Y), true
	})
	got, err := ToVec(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(got)) != bbox.CountTiles() {
		t.Fatalf("expected %d entries, got %d", bbox.CountTiles(), len(got))
	}

	sort.Slice(got, func(i, j int) bool { return got[i].Item < got[j].Item })
	seen := make(map[int]bool)
	for _, e := range got {
		seen[e.Item] = true
	}
	if len(seen) != len(got) {
		t.Fatalf("expected unique items, got duplicates")
	}
}

func TestFilterMapItemParallelPropagatesError(t *testing.T) {
	items := []Entry[int]{
		{Coord: tilecoord.TileCoord{Level: 1, X: 0, Y: 0}, Item: 1},
		{Coord: tilecoord.TileCoord{Level: 1, X: 1, Y: 0}, Item: 2},
	}
	boom := errors.New("boom")
	s := FilterMapItemParallel(context.Background(), FromVec(items), 2, func(v int) (int, bool, error) {
		if v == 2 {
			return 0, false, boom
		}
		return v, true, nil
	})
	_, err := ToVec(context.Background(), s)
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestForEachBufferedBatches(t *testing.T) {
	items := make([]Entry[int], 5)
	for i := range items {
		items[i] = Entry[int]{Coord: tilecoord.TileCoord{Level: 1, X: uint32(i), Y: 0}, Item: i}
	}
	var batches [][]int
	err := ForEachBuffered(context.Background(), FromVec(items), 2, func(batch []Entry[int]) error {
		var vals []int
		for _, e := range batch {
			vals = append(vals, e.Item)
		}
		batches = append(batches, vals)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 3 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batching: %+v", batches)
	}
}

func TestDrainAndCount(t *testing.T) {
	bbox, _ := tilecoord.NewBBox(2, 0, 0, 1, 1)
	s := FromBBoxParallel(context.Background(), bbox, 2, func(tilecoord.TileCoord) (struct{}, bool) {
		return struct{}{}, true
	})
	n, err := DrainAndCount(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(n) != bbox.CountTiles() {
		t.Fatalf("expected %d, got %d", bbox.CountTiles(), n)
	}
}
