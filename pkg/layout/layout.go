package layout

import (
	"errors"
	"fmt"

	"github.com/itohio/voicelog/pkg/flash"
	"github.com/itohio/voicelog/pkg/sensor"
)

// ErrConfiguration marks a layout that cannot work with the device. It is a build
// misconfiguration, never a runtime condition to recover from.
var ErrConfiguration = errors.New("flash layout misconfigured")

const (
	// DefaultReserved is the number of bytes kept free at the start of the device.
	DefaultReserved = 0x50

	// Default region sizes. Every region holds 245760 readings.
	DefaultTemperatureSize   = 0x0F0000
	DefaultHumiditySize      = 0x0F0000
	DefaultAccelerometerSize = 0x2D0000
	DefaultGyroscopeSize     = 0x2D0000
)

// DefaultSizes returns the default region sizes in channel order.
func DefaultSizes() [sensor.NumChannels]uint32 {
	return [sensor.NumChannels]uint32{
		DefaultTemperatureSize,
		DefaultHumiditySize,
		DefaultAccelerometerSize,
		DefaultGyroscopeSize,
	}
}

// Region is the address range reserved for one channel.
type Region struct {
	Channel  sensor.Channel
	Base     uint32
	Capacity uint32
}

// End is the first address past the region.
func (r Region) End() uint32 {
	return r.Base + r.Capacity
}

// Records is how many readings fit in the region.
func (r Region) Records() uint32 {
	return r.Capacity / r.Channel.RecordWidth()
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%s [0x%06X, 0x%06X)", r.Channel, r.Base, r.End())
}

// Layout is the fixed partitioning of the device into one region per channel.
type Layout struct {
	geom     flash.Geometry
	reserved uint32
	regions  [sensor.NumChannels]Region
}

// New validates the device geometry against want and places the regions back to back,
// in channel order, after the reserved bytes.
func New(geom, want flash.Geometry, reserved uint32, sizes [sensor.NumChannels]uint32) (*Layout, error) {
	if err := geom.Validate(); err != nil {
		return nil, fmt.Errorf("%w: geometry: %w", ErrConfiguration, err)
	}
	if err := geom.Check(want); err != nil {
		return nil, fmt.Errorf("%w: geometry: %w", ErrConfiguration, err)
	}

	l := &Layout{geom: geom, reserved: reserved}

	next := uint64(reserved)
	for _, c := range sensor.Channels {
		size := sizes[c]
		if size == 0 {
			return nil, fmt.Errorf("%w: %s region is empty", ErrConfiguration, c)
		}
		if size%c.RecordWidth() != 0 {
			return nil, fmt.Errorf("%w: %s region size 0x%X is not a multiple of %d",
				ErrConfiguration, c, size, c.RecordWidth())
		}
		l.regions[c] = Region{Channel: c, Base: uint32(next), Capacity: size}
		next += uint64(size)
		if next > uint64(geom.Size) {
			return nil, fmt.Errorf("%w: regions need 0x%X bytes, device has 0x%X",
				ErrConfiguration, next, geom.Size)
		}
	}

	return l, nil
}

// Default builds the layout the board ships with.
func Default() *Layout {
	l, err := New(flash.MX25R6435F(), flash.MX25R6435F(), DefaultReserved, DefaultSizes())
	if err != nil {
		panic(err)
	}
	return l
}

// Region returns the region of c.
func (l *Layout) Region(c sensor.Channel) (Region, bool) {
	if !c.Valid() {
		return Region{}, false
	}
	return l.regions[c], true
}

// Regions returns every region in address order.
func (l *Layout) Regions() []Region {
	out := make([]Region, len(l.regions))
	copy(out, l.regions[:])
	return out
}

// Reserved is the size of the unused prefix.
func (l *Layout) Reserved() uint32 {
	return l.reserved
}

// Used is the number of bytes covered by the reserved prefix and all regions.
func (l *Layout) Used() uint32 {
	return l.regions[sensor.NumChannels-1].End()
}

// Geometry is the device geometry the layout was validated against.
func (l *Layout) Geometry() flash.Geometry {
	return l.geom
}
