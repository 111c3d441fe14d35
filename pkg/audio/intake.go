package audio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

const (
	// DefaultBufferSize is the capture buffer length in samples.
	DefaultBufferSize = 1024
	// DefaultShift drops the 8 low padding bits of a left justified 24 bit word.
	DefaultShift = 8
	// DefaultPool is the number of windows in flight.
	DefaultPool = 2
	// DefaultSampleRate of the microphone filter, Hz.
	DefaultSampleRate = 8000
)

// ErrInvalidIntake is returned for a buffer size or pool the intake cannot use.
var ErrInvalidIntake = errors.New("invalid audio intake")

// Window is one fully converted capture buffer.
type Window struct {
	samples []float64
	seq     uint64
}

// Samples returns the converted samples. They stay valid until the window is released.
func (w *Window) Samples() []float64 {
	return w.samples
}

// Seq is the capture cycle the window was filled in, starting at 1.
func (w *Window) Seq() uint64 {
	return w.seq
}

// Stats counts what happened to capture cycles.
type Stats struct {
	Published uint64 // windows handed to the reader
	Dropped   uint64 // cycles lost because every window was still held by the reader
	Torn      uint64 // cycles discarded because one half notification was missing
}

// Intake converts DMA style half and full buffer notifications into complete windows.
//
// The source writes Raw and calls HalfComplete after the first half is filled and
// FullComplete after the second. Both notifications must come from the same goroutine and
// never block. A window is only published once both halves of the same cycle have been
// converted, so the reader never sees a buffer that is still being written.
type Intake struct {
	size  int
	shift uint
	raw   []int32

	free  chan *Window
	ready chan *Window

	// owned by the notifying goroutine
	cur      *Window
	half     bool
	dropping bool
	seq      uint64

	published atomic.Uint64
	dropped   atomic.Uint64
	torn      atomic.Uint64
}

// NewIntake creates an intake for size samples per cycle, converting each raw word with
// an arithmetic right shift, and pool windows in rotation.
func NewIntake(size int, shift uint, pool int) (*Intake, error) {
	if size < 2 || size%2 != 0 {
		return nil, fmt.Errorf("%w: buffer size %d must be even and >= 2", ErrInvalidIntake, size)
	}
	if pool < 1 {
		return nil, fmt.Errorf("%w: pool %d must be >= 1", ErrInvalidIntake, pool)
	}
	if shift > 31 {
		return nil, fmt.Errorf("%w: shift %d", ErrInvalidIntake, shift)
	}

	in := &Intake{
		size:  size,
		shift: shift,
		raw:   make([]int32, size),
		free:  make(chan *Window, pool),
		ready: make(chan *Window, pool),
	}
	for range pool {
		in.free <- &Window{samples: make([]float64, size)}
	}
	return in, nil
}

// Size is the number of samples per window.
func (in *Intake) Size() int {
	return in.size
}

// Shift is the conversion shift.
func (in *Intake) Shift() uint {
	return in.shift
}

// Raw is the capture buffer the source writes into.
func (in *Intake) Raw() []int32 {
	return in.raw
}

// Acquire blocks until a free window is reserved for the next cycle. A real DMA never
// waits; simulated sources call it to run in lockstep with the reader instead of dropping.
func (in *Intake) Acquire(ctx context.Context) error {
	if in.cur != nil {
		return nil
	}
	select {
	case w := <-in.free:
		in.cur = w
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HalfComplete converts the first half of Raw.
func (in *Intake) HalfComplete() {
	if in.half {
		// the full notification of the previous cycle never came
		in.torn.Add(1)
	}
	in.half = false
	in.dropping = false

	if in.cur == nil {
		select {
		case w := <-in.free:
			in.cur = w
		default:
			in.dropped.Add(1)
			in.dropping = true
			return
		}
	}

	in.convert(0, in.size/2)
	in.half = true
}

// FullComplete converts the second half of Raw and publishes the window.
func (in *Intake) FullComplete() {
	if !in.half {
		if in.dropping {
			in.dropping = false
		} else {
			in.torn.Add(1)
		}
		return
	}

	in.convert(in.size/2, in.size)
	in.seq++
	w := in.cur
	w.seq = in.seq
	in.cur = nil
	in.half = false

	// ready holds every window of the pool, so this never blocks
	in.ready <- w
	in.published.Add(1)
}

func (in *Intake) convert(from, to int) {
	dst := in.cur.samples
	for i := from; i < to; i++ {
		dst[i] = float64(in.raw[i] >> in.shift)
	}
}

// Windows delivers complete windows in capture order. There is a single reader.
func (in *Intake) Windows() <-chan *Window {
	return in.ready
}

// Release returns a window to the pool. The reader must not touch it afterwards.
func (in *Intake) Release(w *Window) {
	if w == nil {
		return
	}
	select {
	case in.free <- w:
	default:
		// not one of ours or released twice
	}
}

// Stats returns the cycle counters. Safe to call from any goroutine.
func (in *Intake) Stats() Stats {
	return Stats{
		Published: in.published.Load(),
		Dropped:   in.dropped.Load(),
		Torn:      in.torn.Load(),
	}
}
