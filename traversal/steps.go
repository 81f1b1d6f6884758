package traversal

import (
	"fmt"

	"github.com/pspoerri/tilepipe/tilecoord"
)

// StepKind distinguishes the three plan-step shapes.
type StepKind int

const (
	StepStream StepKind = iota
	StepPush
	StepPop
)

// Step is one instruction in a translation plan: either a direct
// Stream(inputs, output), a Push(inputs, slot) that buffers into a cache
// slot, or a Pop(slot, output) that flushes one.
type Step struct {
	Kind   StepKind
	Inputs []tilecoord.TileBBox
	Output tilecoord.TileBBox
	Slot   int
}

func (s Step) String() string {
	switch s.Kind {
	case StepStream:
		return fmt.Sprintf("Stream(%v -> %v)", s.Inputs, s.Output)
	case StepPush:
		return fmt.Sprintf("Push(%v -> slot %d)", s.Inputs, s.Slot)
	default:
		return fmt.Sprintf("Pop(slot %d -> %v)", s.Slot, s.Output)
	}
}

// Translate produces a plan bridging read to write over pyramid
// (spec.md §4.F rules 1-3).
func Translate(pyramid *tilecoord.TileBBoxPyramid, read, write Traversal) ([]Step, error) {
	if intersected, err := read.Intersect(write); err == nil {
		bboxes, err := intersected.TraversePyramid(pyramid)
		if err != nil {
			return nil, err
		}
		steps := make([]Step, len(bboxes))
		for i, b := range bboxes {
			steps[i] = Step{Kind: StepStream, Inputs: []tilecoord.TileBBox{b}, Output: b}
		}
		return steps, nil
	}

	if write.Order == AnyOrder && read.Size.Max <= write.Size.Min {
		writeSize := write.Size.Min
		readBBoxes, err := read.TraversePyramid(pyramid)
		if err != nil {
			return nil, err
		}

		type bucket struct {
			index int
			bbox  tilecoord.TileBBox
		}
		buckets := make(map[tilecoord.TileBBox]bucket)
		var steps []Step
		for _, readBBox := range readBBoxes {
			writeBBox := readBBox.Rounded(writeSize)
			b, ok := buckets[writeBBox]
			if !ok {
				b = bucket{index: len(buckets), bbox: writeBBox}
				buckets[writeBBox] = b
			}
			steps = append(steps, Step{Kind: StepPush, Inputs: []tilecoord.TileBBox{readBBox}, Slot: b.index})
		}

		ordered := make([]bucket, len(buckets))
		for _, b := range buckets {
			ordered[b.index] = b
		}
		for _, b := range ordered {
			steps = append(steps, Step{Kind: StepPop, Slot: b.index, Output: b.bbox})
		}

		steps = simplifySteps(steps)
		if err := verifySteps(steps, read.Order, read.Size.Max, write.Order, writeSize, pyramid); err != nil {
			return nil, err
		}
		return steps, nil
	}

	return nil, fmt.Errorf("traversal: no plan exists from %s[%d,%d] to %s[%d,%d]",
		read.Order, read.Size.Min, read.Size.Max, write.Order, write.Size.Min, write.Size.Max)
}

// simplifySteps applies the four simplifications from spec.md §4.F in
// order: merge adjacent same-slot Pushes, move each Pop next to its last
// Push, collapse an adjacent single-use Push+Pop pair into a Stream, and
// renumber slots to 0..n in first-appearance order.
func simplifySteps(steps []Step) []Step {
	steps = mergeAdjacentPushes(steps)
	steps = movePopsAfterLastPush(steps)
	steps = collapseSingleUsePushPop(steps)
	return renumberSlots(steps)
}

func mergeAdjacentPushes(steps []Step) []Step {
	var out []Step
	for _, s := range steps {
		if s.Kind == StepPush && len(out) > 0 {
			last := &out[len(out)-1]
			if last.Kind == StepPush && last.Slot == s.Slot {
				last.Inputs = append(last.Inputs, s.Inputs...)
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func movePopsAfterLastPush(steps []Step) []Step {
	var out []Step
	for _, s := range steps {
		if s.Kind == StepPop {
			pos := -1
			for i := len(out) - 1; i >= 0; i-- {
				if out[i].Kind == StepPush && out[i].Slot == s.Slot {
					pos = i
					break
				}
			}
			if pos < 0 {
				out = append(out, s)
				continue
			}
			out = append(out[:pos+1], append([]Step{s}, out[pos+1:]...)...)
			continue
		}
		out = append(out, s)
	}
	return out
}

func collapseSingleUsePushPop(steps []Step) []Step {
	count := make(map[int]int)
	for _, s := range steps {
		if s.Kind == StepPush {
			count[s.Slot]++
		}
	}
	var out []Step
	for _, s := range steps {
		if s.Kind == StepPop && len(out) > 0 {
			last := out[len(out)-1]
			if last.Kind == StepPush && last.Slot == s.Slot && count[s.Slot] == 1 {
				out[len(out)-1] = Step{Kind: StepStream, Inputs: last.Inputs, Output: s.Output}
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func renumberSlots(steps []Step) []Step {
	mapping := make(map[int]int)
	for i := range steps {
		if steps[i].Kind == StepStream {
			continue
		}
		if _, ok := mapping[steps[i].Slot]; !ok {
			mapping[steps[i].Slot] = len(mapping)
		}
		steps[i].Slot = mapping[steps[i].Slot]
	}
	return steps
}

// verifySteps checks §4.F's verification contract: Push/Pop pairing and
// ordering, every pushed bbox contained in its Pop's output, and that the
// flattened read/write bbox sets each cover the pyramid exactly once in
// their declared order and size.
func verifySteps(steps []Step, readOrder Order, readSize uint32, writeOrder Order, writeSize uint32, pyramid *tilecoord.TileBBoxPyramid) error {
	pushed := make(map[int][]tilecoord.TileBBox)
	popped := make(map[int]bool)
	for _, s := range steps {
		switch s.Kind {
		case StepPush:
			if popped[s.Slot] {
				return fmt.Errorf("traversal: push follows pop for slot %d", s.Slot)
			}
			pushed[s.Slot] = append(pushed[s.Slot], s.Inputs...)
		case StepPop:
			inputs, ok := pushed[s.Slot]
			if !ok {
				return fmt.Errorf("traversal: pop without push for slot %d", s.Slot)
			}
			if popped[s.Slot] {
				return fmt.Errorf("traversal: double pop for slot %d", s.Slot)
			}
			for _, in := range inputs {
				if in.IsEmpty() {
					return fmt.Errorf("traversal: pushed bbox %v is empty", in)
				}
				contains, err := s.Output.ContainsBBox(in)
				if err != nil {
					return err
				}
				if !contains {
					return fmt.Errorf("traversal: pushed bbox %v not contained in pop output %v", in, s.Output)
				}
			}
			popped[s.Slot] = true
		}
	}
	for slot := range pushed {
		if !popped[slot] {
			return fmt.Errorf("traversal: push without pop for slot %d", slot)
		}
	}

	var reads []tilecoord.TileBBox
	var writes []tilecoord.TileBBox
	for _, s := range steps {
		switch s.Kind {
		case StepPush, StepStream:
			reads = append(reads, s.Inputs...)
		}
		switch s.Kind {
		case StepPop, StepStream:
			writes = append(writes, s.Output)
		}
	}

	if err := checkOrder(reads, readOrder, readSize, pyramid); err != nil {
		return fmt.Errorf("traversal: read order check failed: %w", err)
	}
	if err := checkOrder(writes, writeOrder, writeSize, pyramid); err != nil {
		return fmt.Errorf("traversal: write order check failed: %w", err)
	}
	return nil
}

type gridKey struct {
	level uint8
	x, y  uint32
}

func checkOrder(bboxes []tilecoord.TileBBox, order Order, size uint32, pyramid *tilecoord.TileBBoxPyramid) error {
	seen := make(map[gridKey]bool, len(bboxes))
	for _, b := range bboxes {
		if b.Width() > size || b.Height() > size {
			return fmt.Errorf("bbox %v exceeds size %d", b, size)
		}
		scaled := b.ScaleDown(size)
		if scaled.Width() != 1 || scaled.Height() != 1 {
			return fmt.Errorf("bbox %v is not aligned to a single %d-grid cell", b, size)
		}
		key := gridKey{level: scaled.Level, x: scaled.XMin, y: scaled.YMin}
		if seen[key] {
			return fmt.Errorf("duplicate coverage of grid cell %+v", key)
		}
		seen[key] = true
	}

	expected := Traversal{Order: order, Size: SizeRange{Min: size, Max: size}}
	wantBBoxes, err := expected.TraversePyramid(pyramid)
	if err != nil {
		return err
	}
	for _, b := range wantBBoxes {
		scaled := b.ScaleDown(size)
		key := gridKey{level: scaled.Level, x: scaled.XMin, y: scaled.YMin}
		if !seen[key] {
			return fmt.Errorf("missing coverage of grid cell %+v", key)
		}
	}
	if len(seen) != len(wantBBoxes) {
		return fmt.Errorf("coverage count mismatch: got %d grid cells, want %d", len(seen), len(wantBBoxes))
	}
	return nil
}
