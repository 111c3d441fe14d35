package flash

import (
	"fmt"
	"sync"
)

// Op names a device operation for fault injection.
type Op string

const (
	OpErase Op = "erase"
	OpWrite Op = "write"
	OpRead  Op = "read"
	OpInfo  Op = "info"
)

// Mem emulates a NOR flash chip in memory. Bytes erase to 0xFF and programming can
// only clear bits, so writing the same slot twice without an erase fails.
type Mem struct {
	geom Geometry

	mu     sync.Mutex
	data   []byte
	faults map[Op]error
	counts map[Op]int
}

// NewMem creates an erased in-memory device with the given geometry.
func NewMem(geom Geometry) *Mem {
	m := &Mem{
		geom:   geom,
		data:   make([]byte, geom.Size),
		faults: make(map[Op]error),
		counts: make(map[Op]int),
	}
	m.fill()
	return m
}

func (m *Mem) fill() {
	for i := range m.data {
		m.data[i] = Erased
	}
}

// Erase implements Device.
func (m *Mem) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[OpErase]++
	if err := m.faults[OpErase]; err != nil {
		return fmt.Errorf("%w: erase: %w", ErrDevice, err)
	}
	m.fill()
	return nil
}

// Write implements Device.
func (m *Mem) Write(p []byte, addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[OpWrite]++
	if err := m.faults[OpWrite]; err != nil {
		return fmt.Errorf("%w: write at 0x%08X: %w", ErrDevice, addr, err)
	}
	if err := bounds(m.geom, addr, len(p)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrDevice, err)
	}

	dst := m.data[addr : int(addr)+len(p)]
	for i, b := range p {
		if dst[i]&b != b {
			return fmt.Errorf("%w: write at 0x%08X: %w", ErrDevice, addr+uint32(i), ErrNotErased)
		}
	}
	for i, b := range p {
		dst[i] &= b
	}
	return nil
}

// Read implements Device.
func (m *Mem) Read(p []byte, addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[OpRead]++
	if err := m.faults[OpRead]; err != nil {
		return fmt.Errorf("%w: read at 0x%08X: %w", ErrDevice, addr, err)
	}
	if err := bounds(m.geom, addr, len(p)); err != nil {
		return fmt.Errorf("%w: read: %w", ErrDevice, err)
	}
	copy(p, m.data[addr:])
	return nil
}

// Geometry implements Device.
func (m *Mem) Geometry() (Geometry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[OpInfo]++
	if err := m.faults[OpInfo]; err != nil {
		return Geometry{}, fmt.Errorf("%w: info: %w", ErrDevice, err)
	}
	return m.geom, nil
}

// Fail makes every following op fail with err. A nil err clears the fault.
func (m *Mem) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// Count returns how many times op was issued, failed attempts included.
func (m *Mem) Count(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[op]
}

// Bytes returns a copy of n bytes at addr.
func (m *Mem) Bytes(addr uint32, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	copy(out, m.data[addr:])
	return out
}
