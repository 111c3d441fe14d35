package console

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/itohio/voicelog/pkg/flashlog"
	"github.com/itohio/voicelog/pkg/sensor"
)

// FirmwareEOL is the line ending the board prints.
const FirmwareEOL = "\n\r"

// Dumper yields the stored readings of one channel.
type Dumper interface {
	Dump(c sensor.Channel) iter.Seq2[flashlog.Record, error]
}

// Ensure flashlog.Log implements Dumper.
var _ Dumper = (*flashlog.Log)(nil)

// Writer prints dumps in the console protocol.
type Writer struct {
	w   io.Writer
	eol string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithEOL sets the line ending, "\n" by default.
func WithEOL(eol string) WriterOption {
	return func(w *Writer) {
		w.eol = eol
	}
}

// NewWriter creates a Writer printing to w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	cw := &Writer{w: w, eol: "\n"}
	for _, opt := range opts {
		opt(cw)
	}
	return cw
}

func (w *Writer) printf(format string, args ...any) error {
	if _, err := fmt.Fprintf(w.w, format+w.eol, args...); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

// WriteDump prints every channel of d, channels in order, each framed by its header and
// footer even when empty. A read failure is reported on the console and returned; the
// rest of the dump is abandoned.
func (w *Writer) WriteDump(d Dumper) error {
	if err := w.printf(DumpStart); err != nil {
		return err
	}

	for _, c := range sensor.Channels {
		if err := w.printf("%s%d", ChannelStart, uint8(c)); err != nil {
			return err
		}

		for rec, err := range d.Dump(c) {
			if err != nil {
				var devErr *flashlog.DeviceError
				if errors.As(err, &devErr) {
					_ = w.printf("%s0x%08X", ReadFailure, devErr.Addr)
				}
				return err
			}
			if err := w.printf("    %s", FormatValues(c, rec.Values)); err != nil {
				return err
			}
		}

		if err := w.printf("%s%d", ChannelEnd, uint8(c)); err != nil {
			return err
		}
	}

	return w.printf(DumpEnd)
}
