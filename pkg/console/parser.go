package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/itohio/voicelog/pkg/sensor"
)

var (
	// ErrNoDump is returned when the input ends before a dump starts.
	ErrNoDump = errors.New("no dump found")
	// ErrIncomplete is returned when the input ends inside a dump.
	ErrIncomplete = errors.New("dump ended early")
	// ErrReadFailure is returned when the board reported a flash read error mid dump.
	ErrReadFailure = errors.New("board reported a read failure")
)

// Dump is a parsed console dump.
type Dump struct {
	Readings [sensor.NumChannels][][]float64
	Complete bool // the closing line was seen
}

// Len is the total number of readings.
func (d *Dump) Len() int {
	n := 0
	for _, r := range d.Readings {
		n += len(r)
	}
	return n
}

// Parse reads lines from r until a complete dump was consumed. Lines outside the dump,
// and lines inside it that are not readings of the current channel, are ignored.
//
// On ErrIncomplete and ErrReadFailure the readings parsed so far are returned with the error.
func Parse(r io.Reader) (*Dump, error) {
	d := &Dump{}
	scanner := bufio.NewScanner(r)

	started := false
	current, inChannel := sensor.Channel(0), false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !started {
			started = strings.HasPrefix(line, DumpStart)
			continue
		}

		switch {
		case strings.HasPrefix(line, DumpEnd):
			d.Complete = true
			return d, nil
		case strings.HasPrefix(line, ReadFailure):
			return d, fmt.Errorf("%w: %s", ErrReadFailure, strings.TrimPrefix(line, ReadFailure))
		case strings.HasPrefix(line, ChannelEnd):
			inChannel = false
		case strings.HasPrefix(line, ChannelStart):
			current, inChannel = channelLine(ChannelStart, line)
		case inChannel:
			values, ok := parseValues(current, line)
			if ok {
				d.Readings[current] = append(d.Readings[current], values)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return d, fmt.Errorf("failed to read dump: %w", err)
	}
	if !started {
		return d, ErrNoDump
	}
	return d, ErrIncomplete
}

func parseValues(c sensor.Channel, line string) ([]float64, bool) {
	m := patterns[c].FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	values := make([]float64, 0, len(m)-1)
	for _, s := range m[1:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}
