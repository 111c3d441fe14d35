package flashlog

import (
	"errors"
	"fmt"

	"github.com/itohio/voicelog/pkg/sensor"
)

var (
	// ErrInvalidSelector is returned for a channel outside the layout. Callers log and ignore it.
	ErrInvalidSelector = errors.New("invalid channel selector")
	// ErrRecordWidth is returned when the number of values does not match the channel.
	ErrRecordWidth = errors.New("wrong number of values for channel")
	// ErrRegionFull is matched by every CapacityError.
	ErrRegionFull = errors.New("region full")
)

// CapacityError reports an append that would run past the end of a region.
type CapacityError struct {
	Channel sensor.Channel
	Cursor  uint32
	End     uint32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("memory full for sensor %d (%s): cursor 0x%08X, end 0x%08X",
		uint8(e.Channel), e.Channel, e.Cursor, e.End)
}

// Is makes errors.Is(err, ErrRegionFull) hold.
func (e *CapacityError) Is(target error) bool {
	return target == ErrRegionFull
}

// DeviceError reports a failed storage operation. It is fatal for the session.
type DeviceError struct {
	Op   string
	Addr uint32
	Err  error
}

func (e *DeviceError) Error() string {
	switch e.Op {
	case "read", "write":
		return fmt.Sprintf("failed to %s data at address: 0x%08X: %v", e.Op, e.Addr, e.Err)
	default:
		return fmt.Sprintf("failed to %s chip: %v", e.Op, e.Err)
	}
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Fatal reports whether err must end the session.
func Fatal(err error) bool {
	var dev *DeviceError
	return errors.As(err, &dev)
}
