package flashlog

import (
	"fmt"
	"iter"
	"sort"

	"github.com/rs/zerolog"

	"github.com/itohio/voicelog/pkg/flash"
	"github.com/itohio/voicelog/pkg/layout"
	"github.com/itohio/voicelog/pkg/quant"
	"github.com/itohio/voicelog/pkg/sensor"
)

// Record is one decoded reading read back from flash.
type Record struct {
	Channel sensor.Channel
	Index   int    // position within the channel, 0 is the oldest
	Addr    uint32 // slot address
	Codes   []byte // raw 8-bit codes, one per scalar
	Values  []float32
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for warnings and device faults.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// Written marks a used slot. It is stored in the first padding byte after the codes.
const Written = 0x00

// Log appends quantized readings to the per-channel regions of a flash device.
//
// Each slot is RecordWidth bytes: one code per scalar, the Written mark, then padding
// that stays erased. Cursors live in memory; Resume finds them again from the marks
// when a Log is created over a device that already holds data.
//
// A Log is not safe for concurrent use.
type Log struct {
	dev     flash.Device
	layout  *layout.Layout
	ranges  [sensor.NumChannels]quant.Range
	cursors [sensor.NumChannels]uint32
	slot    [3 * sensor.ScalarSize]byte
	logger  zerolog.Logger
}

// New creates a Log with every cursor at its region base. It does not touch the device.
func New(dev flash.Device, l *layout.Layout, ranges [sensor.NumChannels]quant.Range, opts ...Option) (*Log, error) {
	for _, c := range sensor.Channels {
		if err := ranges[c].Validate(); err != nil {
			return nil, fmt.Errorf("%s range: %w", c, err)
		}
	}

	log := &Log{
		dev:    dev,
		layout: l,
		ranges: ranges,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(log)
	}
	log.reset()
	return log, nil
}

func (l *Log) reset() {
	for _, r := range l.layout.Regions() {
		l.cursors[r.Channel] = r.Base
	}
}

// Append quantizes values and writes them at the channel's cursor.
//
// A channel outside the layout returns ErrInvalidSelector and does nothing. An append
// that would move the cursor past the region end returns a *CapacityError without
// writing. A device failure returns a *DeviceError and leaves the cursor unchanged.
func (l *Log) Append(c sensor.Channel, values []float32) error {
	region, ok := l.layout.Region(c)
	if !ok {
		l.logger.Warn().Uint8("sensor", uint8(c)).Msg("invalid sensor choice")
		return fmt.Errorf("%w: %d", ErrInvalidSelector, uint8(c))
	}
	if len(values) != c.Scalars() {
		return fmt.Errorf("%w: %s takes %d, got %d", ErrRecordWidth, c, c.Scalars(), len(values))
	}

	cursor := l.cursors[c]
	width := c.RecordWidth()
	if uint64(cursor)+uint64(width) > uint64(region.End()) {
		err := &CapacityError{Channel: c, Cursor: cursor, End: region.End()}
		l.logger.Warn().Stringer("channel", c).Msg("memory full")
		return err
	}

	slot := l.slot[:width]
	for i := range slot {
		slot[i] = flash.Erased
	}
	r := l.ranges[c]
	for i, v := range values {
		slot[i] = r.Encode(v)
	}
	slot[len(values)] = Written

	if err := l.dev.Write(slot, cursor); err != nil {
		l.logger.Error().Err(err).Str("addr", fmt.Sprintf("0x%08X", cursor)).Msg("failed to write data")
		return &DeviceError{Op: "write", Addr: cursor, Err: err}
	}

	l.cursors[c] = cursor + width
	return nil
}

// Dump returns the readings of one channel in the order they were appended.
// The sequence reads the device lazily; a read failure is yielded once and ends it.
func (l *Log) Dump(c sensor.Channel) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		l.dump(c, yield)
	}
}

// DumpAll returns every channel's readings, channels in region order.
// Iterating again re-reads the device from the start.
func (l *Log) DumpAll() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, c := range sensor.Channels {
			if !l.dump(c, yield) {
				return
			}
		}
	}
}

func (l *Log) dump(c sensor.Channel, yield func(Record, error) bool) bool {
	region, ok := l.layout.Region(c)
	if !ok {
		return yield(Record{Channel: c}, fmt.Errorf("%w: %d", ErrInvalidSelector, uint8(c)))
	}

	width := c.RecordWidth()
	end := l.cursors[c]
	r := l.ranges[c]
	buf := make([]byte, width)

	index := 0
	for addr := region.Base; addr < end; addr += width {
		if err := l.dev.Read(buf, addr); err != nil {
			l.logger.Error().Err(err).Str("addr", fmt.Sprintf("0x%08X", addr)).Msg("error reading data")
			yield(Record{Channel: c, Index: index, Addr: addr}, &DeviceError{Op: "read", Addr: addr, Err: err})
			return false
		}

		rec := Record{
			Channel: c,
			Index:   index,
			Addr:    addr,
			Codes:   make([]byte, c.Scalars()),
			Values:  make([]float32, c.Scalars()),
		}
		copy(rec.Codes, buf)
		for i, code := range rec.Codes {
			rec.Values[i] = r.Decode(code)
		}
		if !yield(rec, nil) {
			return false
		}
		index++
	}
	return true
}

// Verify reads the device geometry and checks it against the layout.
func (l *Log) Verify() error {
	g, err := l.dev.Geometry()
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to get flash info")
		return &DeviceError{Op: "get info from", Err: err}
	}
	if err := g.Check(l.layout.Geometry()); err != nil {
		l.logger.Error().Err(err).Msg("flash info incorrect")
		return fmt.Errorf("%w: %w", layout.ErrConfiguration, err)
	}
	return nil
}

// Resume moves every cursor past the slots already written on the device, so a Log
// created without an erase appends after the earlier data instead of over it.
// Slots are filled in order, which lets each region be searched by bisection.
// On a read failure the cursors are left as they were.
func (l *Log) Resume() error {
	var mark [1]byte
	cursors := l.cursors
	for _, r := range l.layout.Regions() {
		c := r.Channel
		width := c.RecordWidth()
		offset := uint32(c.Scalars())

		var readErr error
		n := sort.Search(int(r.Records()), func(i int) bool {
			if readErr != nil {
				return true
			}
			addr := r.Base + uint32(i)*width + offset
			if err := l.dev.Read(mark[:], addr); err != nil {
				readErr = &DeviceError{Op: "read", Addr: addr, Err: err}
				return true
			}
			return mark[0] == flash.Erased
		})
		if readErr != nil {
			l.logger.Error().Err(readErr).Stringer("channel", c).Msg("failed to find write position")
			return readErr
		}

		cursors[c] = r.Base + uint32(n)*width
		l.logger.Info().Stringer("channel", c).Int("records", n).Msg("resumed")
	}
	l.cursors = cursors
	return nil
}

// EraseAll wipes the whole device and moves every cursor back to its region base.
// On failure the cursors are left as they were.
func (l *Log) EraseAll() error {
	l.logger.Info().Msg("erasing chip")
	if err := l.dev.Erase(); err != nil {
		l.logger.Error().Err(err).Msg("failed to erase chip")
		return &DeviceError{Op: "erase", Err: err}
	}
	l.reset()
	return nil
}

// Cursor is the next write address of c.
func (l *Log) Cursor(c sensor.Channel) uint32 {
	if !c.Valid() {
		return 0
	}
	return l.cursors[c]
}

// Count is the number of readings appended to c since the last erase.
func (l *Log) Count(c sensor.Channel) int {
	region, ok := l.layout.Region(c)
	if !ok {
		return 0
	}
	return int((l.cursors[c] - region.Base) / c.RecordWidth())
}

// Remaining is the number of readings c can still take.
func (l *Log) Remaining(c sensor.Channel) int {
	region, ok := l.layout.Region(c)
	if !ok {
		return 0
	}
	return int((region.End() - l.cursors[c]) / c.RecordWidth())
}

// Range is the quantization range of c.
func (l *Log) Range(c sensor.Channel) quant.Range {
	if !c.Valid() {
		return quant.Range{}
	}
	return l.ranges[c]
}

// Layout returns the region layout the log writes into.
func (l *Log) Layout() *layout.Layout {
	return l.layout
}
