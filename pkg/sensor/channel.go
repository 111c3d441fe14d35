package sensor

import (
	"errors"
	"fmt"
)

// ErrInvalidChannel is returned for selectors outside Temperature..Gyroscope.
var ErrInvalidChannel = errors.New("invalid sensor channel")

// Channel selects one of the four onboard sensor streams.
// The numeric value is the selector produced by the voice classifier.
type Channel uint8

const (
	Temperature Channel = iota
	Humidity
	Accelerometer
	Gyroscope
)

// NumChannels is the number of sensor channels.
const NumChannels = 4

// ScalarSize is the width of one raw scalar (a 32-bit float) in bytes.
const ScalarSize = 4

// Channels lists every channel in region order.
var Channels = [NumChannels]Channel{Temperature, Humidity, Accelerometer, Gyroscope}

// Valid reports whether c names an existing channel.
func (c Channel) Valid() bool {
	return c < NumChannels
}

// Scalars is the number of values in one reading: 1 for temperature and humidity,
// 3 (x, y, z) for the accelerometer and gyroscope.
func (c Channel) Scalars() int {
	switch c {
	case Accelerometer, Gyroscope:
		return 3
	case Temperature, Humidity:
		return 1
	default:
		return 0
	}
}

// RecordWidth is the number of bytes one reading occupies in flash.
func (c Channel) RecordWidth() uint32 {
	return uint32(c.Scalars() * ScalarSize)
}

// Unit is the engineering unit of the channel's readings.
func (c Channel) Unit() string {
	switch c {
	case Temperature:
		return "C"
	case Humidity:
		return "%"
	case Accelerometer:
		return "g"
	case Gyroscope:
		return "dps"
	default:
		return ""
	}
}

func (c Channel) String() string {
	switch c {
	case Temperature:
		return "Temperature"
	case Humidity:
		return "Humidity"
	case Accelerometer:
		return "Accelerometer"
	case Gyroscope:
		return "Gyroscope"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
}

// Parse returns the channel with the given name (case sensitive, as printed by String)
// or its numeric selector.
func Parse(s string) (Channel, error) {
	for _, c := range Channels {
		if s == c.String() || s == fmt.Sprint(uint8(c)) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
}
