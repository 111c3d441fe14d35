package flash

import (
	"errors"
	"fmt"
)

// MX25R6435F geometry, the QSPI NOR flash the logger is built for.
const (
	MX25R6435FSize       = 0x800000 // 64 Mbit
	MX25R6435FSectorSize = 0x1000   // 4 KiB erase sector
	MX25R6435FPageSize   = 0x100    // 256 B program page

	// Erased is the value of every byte after an erase.
	Erased = 0xFF
)

var (
	// ErrDevice is wrapped by every storage failure.
	ErrDevice = errors.New("flash device error")
	// ErrOutOfBounds is returned for accesses past the end of the device.
	ErrOutOfBounds = errors.New("address out of bounds")
	// ErrNotErased is returned when programming would need to set a bit that is cleared.
	ErrNotErased = errors.New("programming over non-erased bits")
)

// Geometry describes the device as reported by the chip.
type Geometry struct {
	Size       uint32 `yaml:"size"`
	SectorSize uint32 `yaml:"sector_size"`
	PageSize   uint32 `yaml:"page_size"`
}

// MX25R6435F returns the geometry of the board's flash chip.
func MX25R6435F() Geometry {
	return Geometry{
		Size:       MX25R6435FSize,
		SectorSize: MX25R6435FSectorSize,
		PageSize:   MX25R6435FPageSize,
	}
}

// Sectors is the number of erase sectors.
func (g Geometry) Sectors() uint32 {
	if g.SectorSize == 0 {
		return 0
	}
	return g.Size / g.SectorSize
}

// Pages is the number of program pages.
func (g Geometry) Pages() uint32 {
	if g.PageSize == 0 {
		return 0
	}
	return g.Size / g.PageSize
}

// Validate checks that the sizes are powers of two and that pages fit in sectors
// and sectors fit in the device.
func (g Geometry) Validate() error {
	for _, v := range []struct {
		name string
		n    uint32
	}{{"size", g.Size}, {"sector size", g.SectorSize}, {"page size", g.PageSize}} {
		if v.n == 0 || v.n&(v.n-1) != 0 {
			return fmt.Errorf("%s 0x%X is not a power of two", v.name, v.n)
		}
	}
	if g.PageSize > g.SectorSize || g.SectorSize > g.Size {
		return fmt.Errorf("inconsistent geometry %s", g)
	}
	return nil
}

// Check compares g with the geometry the firmware was built for.
func (g Geometry) Check(want Geometry) error {
	switch {
	case g.Size != want.Size:
		return fmt.Errorf("flash size 0x%X, want 0x%X", g.Size, want.Size)
	case g.SectorSize != want.SectorSize:
		return fmt.Errorf("sector size 0x%X, want 0x%X", g.SectorSize, want.SectorSize)
	case g.Sectors() != want.Sectors():
		return fmt.Errorf("sector count %d, want %d", g.Sectors(), want.Sectors())
	case g.PageSize != want.PageSize:
		return fmt.Errorf("page size 0x%X, want 0x%X", g.PageSize, want.PageSize)
	case g.Pages() != want.Pages():
		return fmt.Errorf("page count %d, want %d", g.Pages(), want.Pages())
	}
	return nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("size=0x%X sector=0x%X page=0x%X", g.Size, g.SectorSize, g.PageSize)
}

// Device is the raw block storage primitive. Every call either succeeds or reports a fault;
// there is no transient failure model.
type Device interface {
	// Erase wipes the whole device to Erased.
	Erase() error
	// Write programs len(p) bytes starting at addr.
	Write(p []byte, addr uint32) error
	// Read fills p from addr.
	Read(p []byte, addr uint32) error
	// Geometry reports the device layout.
	Geometry() (Geometry, error)
}

// Ensure Mem implements Device.
var _ Device = (*Mem)(nil)

// Ensure File implements Device.
var _ Device = (*File)(nil)

func bounds(g Geometry, addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(g.Size) {
		return fmt.Errorf("%w: 0x%08X+%d past 0x%X", ErrOutOfBounds, addr, n, g.Size)
	}
	return nil
}
