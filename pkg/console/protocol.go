// Package console speaks the text protocol the logger uses to dump its flash over the
// serial console, and turns captured dumps into CSV files.
package console

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itohio/voicelog/pkg/sensor"
)

// Key lines of a dump.
const (
	DumpStart    = "Dumping QSPI data"
	DumpEnd      = "Finished dumping QSPI data"
	ChannelStart = "Reading data for sensor "
	ChannelEnd   = "Finished reading data for sensor "
	ReadFailure  = "Error reading data at address: "
)

const number = `([\d.\-]+)`

var patterns = [sensor.NumChannels]*regexp.Regexp{
	sensor.Temperature:   regexp.MustCompile(`Temperature = ` + number),
	sensor.Humidity:      regexp.MustCompile(`Humidity = ` + number),
	sensor.Accelerometer: regexp.MustCompile(`Accelerometer x = ` + number + `, y = ` + number + `, z = ` + number),
	sensor.Gyroscope:     regexp.MustCompile(`Gyroscope x = ` + number + `, y = ` + number + `, z = ` + number),
}

// FormatValues renders one reading the way the firmware prints it, without indentation.
func FormatValues(c sensor.Channel, values []float32) string {
	if len(values) != c.Scalars() {
		return fmt.Sprintf("%s = %v", c, values)
	}
	switch c {
	case sensor.Temperature, sensor.Humidity:
		return fmt.Sprintf("%s = %f", c, values[0])
	default:
		return fmt.Sprintf("%s x = %f, y = %f, z = %f", c, values[0], values[1], values[2])
	}
}

func channelLine(prefix string, line string) (sensor.Channel, bool) {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return 0, false
	}
	c, err := sensor.Parse(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return c, true
}
