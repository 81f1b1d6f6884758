package runtime

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"
)

// progressEventInterval caps how often a ProgressHandle publishes a
// Progress event to the bus (spec.md §4.K: "throttled to <= 10
// emissions/second per handle").
const progressEventInterval = 100 * time.Millisecond

// progressRedrawInterval caps how often a ProgressHandle redraws its
// terminal status line (spec.md §4.K: "<= 2 Hz"), generalized from the
// teacher's fixed 100ms progressBar.run() ticker.
const progressRedrawInterval = 500 * time.Millisecond

// defaultTerminalWidth is used when the terminal width can't be probed.
const defaultTerminalWidth = 80

// ProgressHandle tracks one named unit of work's position against an
// optional total, publishing throttled Progress events to an EventBus
// and (when terminal output is enabled) redrawing an in-place status
// line on stderr — generalized from internal/tile/progress.go's
// progressBar from a single bar per process to one handle per unit of
// work, shared through a bus instead of owning stderr outright.
type ProgressHandle struct {
	id      string
	message string
	bus     *EventBus
	start   time.Time
	drawTTY bool

	mu         sync.Mutex
	position   uint64
	total      uint64
	finished   bool
	lastEvent  time.Time
	lastRedraw time.Time
}

// newProgressHandle constructs a handle; drawTTY controls whether it
// also redraws a stderr status line (the CLI enables this for an
// interactive terminal; library callers generally don't).
func newProgressHandle(bus *EventBus, message string, drawTTY bool) *ProgressHandle {
	return &ProgressHandle{
		id:      uuid.NewString(),
		message: message,
		bus:     bus,
		start:   time.Now(),
		drawTTY: drawTTY,
	}
}

// SetMaxValue sets the handle's total.
func (p *ProgressHandle) SetMaxValue(total uint64) {
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
	p.report(false)
}

// SetPosition sets the handle's current position.
func (p *ProgressHandle) SetPosition(position uint64) {
	p.mu.Lock()
	p.position = position
	p.mu.Unlock()
	p.report(false)
}

// Inc advances the handle's position by delta.
func (p *ProgressHandle) Inc(delta uint64) {
	p.mu.Lock()
	p.position += delta
	p.mu.Unlock()
	p.report(false)
}

// Finish marks the handle complete and always emits a final event and
// redraw, bypassing the throttle (spec.md §4.K: "the final finished=true
// event is always emitted").
func (p *ProgressHandle) Finish() {
	p.mu.Lock()
	p.finished = true
	if p.position < p.total {
		p.position = p.total
	}
	p.mu.Unlock()
	p.report(true)
	if p.drawTTY {
		fmt.Fprint(os.Stderr, "\n")
	}
}

func (p *ProgressHandle) snapshot() ProgressState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressState{
		ID:        p.id,
		Message:   p.message,
		Position:  p.position,
		Total:     p.total,
		StartTime: p.start,
		Finished:  p.finished,
	}
}

// report publishes a Progress event and redraws the terminal line,
// subject to the throttles above unless force is set.
func (p *ProgressHandle) report(force bool) {
	now := time.Now()

	p.mu.Lock()
	emitEvent := force || now.Sub(p.lastEvent) >= progressEventInterval
	if emitEvent {
		p.lastEvent = now
	}
	redraw := p.drawTTY && (force || now.Sub(p.lastRedraw) >= progressRedrawInterval)
	if redraw {
		p.lastRedraw = now
	}
	p.mu.Unlock()

	state := p.snapshot()

	if emitEvent && p.bus != nil {
		p.bus.Publish(Event{Kind: EventProgress, Progress: state})
	}
	if redraw {
		p.draw(state)
	}
}

func (p *ProgressHandle) draw(state ProgressState) {
	width := terminalWidth()
	barWidth := width - 40
	if barWidth < 10 {
		barWidth = 10
	}

	var frac float64
	if state.Total > 0 {
		frac = float64(state.Position) / float64(state.Total)
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(float64(barWidth) * frac)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	elapsed := time.Since(p.start)
	rate := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(state.Position) / secs
	}

	fmt.Fprintf(os.Stderr, "\r%s [%s] %3.0f%%  %d/%d  %.0f/s  %s\033[K",
		state.Message, bar, frac*100, state.Position, state.Total, rate, formatDuration(elapsed))
}

// terminalWidth probes stderr's width, falling back to 80 columns when
// it isn't a terminal (spec.md §4.K).
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultTerminalWidth
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}
