package console

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BufferHeader names the columns of a converted audio buffer export.
var BufferHeader = []string{"audioBufferLeft", "audioBufferRight"}

var (
	leftPattern  = regexp.MustCompile(`audioBufferLeft\[\d+\]\s+int32_t\s+(-?\d+)`)
	rightPattern = regexp.MustCompile(`audioBufferRight\[\d+\]\s+int32_t\s+(-?\d+)`)
)

// MicFileName is the CSV file name of a microphone capture taken at stamp.
func MicFileName(stamp time.Time) string {
	return fmt.Sprintf("audio_data_%s.csv", stamp.Format(StampLayout))
}

// RecordLines copies every non-empty line of r into w as a one column CSV row and
// returns how many were written. Rows are flushed as they arrive so an interrupted
// capture keeps what it got.
func RecordLines(r io.Reader, w io.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	cw := csv.NewWriter(w)

	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := cw.Write([]string{line}); err != nil {
			return n, err
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("failed to read audio: %w", err)
	}
	return n, nil
}

// Buffers holds the left and right capture buffers read from a debugger variable export.
type Buffers struct {
	Left  []int32
	Right []int32
}

// ParseBuffers collects the audioBufferLeft and audioBufferRight elements of a debugger
// variable export, in order. Both are cut to the shorter length.
func ParseBuffers(r io.Reader) (*Buffers, error) {
	b := &Buffers{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if m := leftPattern.FindStringSubmatch(line); m != nil {
			v, err := strconv.ParseInt(m[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("audioBufferLeft value %q: %w", m[1], err)
			}
			b.Left = append(b.Left, int32(v))
		}
		if m := rightPattern.FindStringSubmatch(line); m != nil {
			v, err := strconv.ParseInt(m[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("audioBufferRight value %q: %w", m[1], err)
			}
			b.Right = append(b.Right, int32(v))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read buffers: %w", err)
	}

	n := min(len(b.Left), len(b.Right))
	b.Left, b.Right = b.Left[:n], b.Right[:n]
	return b, nil
}

// WriteCSV writes the buffers side by side under BufferHeader.
func (b *Buffers) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BufferHeader); err != nil {
		return err
	}
	for i := range b.Left {
		row := []string{strconv.Itoa(int(b.Left[i])), strconv.Itoa(int(b.Right[i]))}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
