package flash

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// File keeps a flash image in a regular file so a simulated device survives restarts.
type File struct {
	geom Geometry
	f    *os.File
}

// OpenFile opens or creates an image of geom.Size bytes. A new or short image is
// extended with erased bytes.
func OpenFile(path string, geom Geometry) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat flash image: %w", err)
	}

	d := &File{geom: geom, f: f}
	if size := info.Size(); size < int64(geom.Size) {
		if err := d.fill(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *File) fill(from int64) error {
	chunk := bytes.Repeat([]byte{Erased}, int(d.geom.SectorSize))
	for off := from; off < int64(d.geom.Size); off += int64(len(chunk)) {
		n := min(int64(len(chunk)), int64(d.geom.Size)-off)
		if _, err := d.f.WriteAt(chunk[:n], off); err != nil {
			return fmt.Errorf("%w: erase: %w", ErrDevice, err)
		}
	}
	return nil
}

// Close closes the image file.
func (d *File) Close() error {
	return d.f.Close()
}

// Erase implements Device.
func (d *File) Erase() error {
	return d.fill(0)
}

// Write implements Device. Like the chip, it refuses to set cleared bits.
func (d *File) Write(p []byte, addr uint32) error {
	if err := bounds(d.geom, addr, len(p)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrDevice, err)
	}

	cur := make([]byte, len(p))
	if _, err := d.f.ReadAt(cur, int64(addr)); err != nil && err != io.EOF {
		return fmt.Errorf("%w: write at 0x%08X: %w", ErrDevice, addr, err)
	}
	for i, b := range p {
		if cur[i]&b != b {
			return fmt.Errorf("%w: write at 0x%08X: %w", ErrDevice, addr+uint32(i), ErrNotErased)
		}
		cur[i] &= b
	}

	if _, err := d.f.WriteAt(cur, int64(addr)); err != nil {
		return fmt.Errorf("%w: write at 0x%08X: %w", ErrDevice, addr, err)
	}
	return nil
}

// Read implements Device.
func (d *File) Read(p []byte, addr uint32) error {
	if err := bounds(d.geom, addr, len(p)); err != nil {
		return fmt.Errorf("%w: read: %w", ErrDevice, err)
	}
	if _, err := d.f.ReadAt(p, int64(addr)); err != nil {
		return fmt.Errorf("%w: read at 0x%08X: %w", ErrDevice, addr, err)
	}
	return nil
}

// Geometry implements Device.
func (d *File) Geometry() (Geometry, error) {
	return d.geom, nil
}
