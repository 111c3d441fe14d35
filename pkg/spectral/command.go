package spectral

import (
	"fmt"

	"github.com/itohio/voicelog/pkg/sensor"
)

// Command is the classifier output: the index of the matched reference tone,
// or Inconclusive.
type Command uint8

// Inconclusive means no reference tone lies within tolerance of the dominant frequency.
const Inconclusive Command = 5

// MaxTones is the largest reference table Inconclusive can sit after.
const MaxTones = int(Inconclusive)

// Channel maps the command to the sensor it selects. Tones 0..3 select a channel,
// any other command means no acquisition this cycle.
func (c Command) Channel() (sensor.Channel, bool) {
	ch := sensor.Channel(c)
	return ch, ch.Valid()
}

func (c Command) String() string {
	if c == Inconclusive {
		return "inconclusive"
	}
	if ch, ok := c.Channel(); ok {
		return fmt.Sprintf("%d (%s)", uint8(c), ch)
	}
	return fmt.Sprintf("%d (no action)", uint8(c))
}
