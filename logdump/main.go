package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/voicelog/pkg/config"
	"github.com/itohio/voicelog/pkg/console"
	"github.com/itohio/voicelog/pkg/logging"
	"github.com/itohio/voicelog/pkg/sensor"
)

func main() {
	var (
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		baudFlag    = flag.Int("baud", 0, "Baud rate override")
		configFlag  = flag.String("config", "voicelog.yaml", "Configuration file path")
		inFlag      = flag.String("in", "", "Read a captured console log from this file instead of the serial port (- for stdin)")
		outFlag     = flag.String("out", ".", "Directory for the CSV files")
		timeoutFlag = flag.Duration("timeout", 0, "Idle time that ends a serial capture (overrides config)")
		listFlag    = flag.Bool("list", false, "List serial ports and exit")
		micFlag     = flag.Bool("mic", false, "Record raw console lines (audio samples) to CSV until interrupted or idle")
		buffersFlag = flag.Bool("buffers", false, "Convert a debugger export of the audio buffers (-in) to CSV")
		levelFlag   = flag.String("log-level", "", "Log level override")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *baudFlag > 0 {
		cfg.Serial.Baud = *baudFlag
	}
	if *timeoutFlag > 0 {
		cfg.Serial.ReadTimeout = *timeoutFlag
	}
	if *levelFlag != "" {
		cfg.Session.LogLevel = *levelFlag
	}

	logger, err := logging.New(cfg.Session.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	if *listFlag {
		ports, err := console.Ports()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to list ports")
		}
		for _, p := range ports {
			fmt.Println(p.Description)
		}
		return
	}

	r, closeFn, err := open(*inFlag, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open input")
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		// unblocks a pending serial read
		<-ctx.Done()
		closeFn()
	}()

	stamp := time.Now()
	switch {
	case *micFlag:
		err = recordMic(r, *outFlag, stamp, logger)
		if err != nil && ctx.Err() != nil {
			logger.Info().Msg("recording stopped")
			err = nil
		}
	case *buffersFlag:
		err = convertBuffers(r, *outFlag, stamp, logger)
	default:
		err = capture(r, *outFlag, stamp, logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("capture failed")
		stop()
		os.Exit(1)
	}
}

func open(in string, cfg *config.Config, logger zerolog.Logger) (io.Reader, func(), error) {
	switch in {
	case "-":
		return os.Stdin, func() {}, nil
	case "":
		s := console.NewSerial(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.ReadTimeout)
		if err := s.Connect(); err != nil {
			return nil, nil, err
		}
		logger.Info().Str("port", cfg.Serial.Port).Int("baud", cfg.Serial.Baud).Msg("waiting for the board")
		return &patientReader{r: s}, func() { s.Close() }, nil
	default:
		f, err := os.Open(in)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}
}

// capture parses one dump from r and writes the CSV files. A dump cut short is still
// exported so the readings that made it are not lost.
func capture(r io.Reader, dir string, stamp time.Time, logger zerolog.Logger) error {
	dump, err := console.Parse(r)
	switch {
	case errors.Is(err, console.ErrIncomplete), errors.Is(err, console.ErrReadFailure):
		logger.Warn().Err(err).Int("readings", dump.Len()).Msg("partial dump")
	case err != nil:
		return err
	default:
		logger.Info().Msg("dump complete")
	}

	paths, exportErr := console.Export(dir, dump, stamp)
	for i, p := range paths {
		c := sensor.Channels[i]
		logger.Info().Stringer("channel", c).Int("readings", len(dump.Readings[c])).Str("file", p).Msg("written")
	}
	if exportErr != nil {
		return exportErr
	}
	return err
}

// recordMic writes every console line into one CSV file.
func recordMic(r io.Reader, dir string, stamp time.Time, logger zerolog.Logger) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, console.MicFileName(stamp))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	logger.Info().Str("file", path).Msg("recording")
	n, err := console.RecordLines(r, f)
	logger.Info().Int("lines", n).Str("file", path).Msg("written")
	return err
}

// convertBuffers turns a debugger export of the capture buffers into a CSV file.
func convertBuffers(r io.Reader, dir string, stamp time.Time, logger zerolog.Logger) error {
	b, err := console.ParseBuffers(r)
	if err != nil {
		return err
	}
	if len(b.Left) == 0 {
		return errors.New("no audio buffer values found")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, console.MicFileName(stamp))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := b.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Info().Int("samples", len(b.Left)).Str("file", path).Msg("written")
	return f.Close()
}

// patientReader hides read timeouts until the first byte arrives, so the capture waits
// for the dump button but still ends once the board goes quiet.
type patientReader struct {
	r    io.Reader
	seen bool
}

func (p *patientReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 {
			p.seen = true
		}
		if n == 0 && errors.Is(err, io.EOF) && !p.seen {
			continue
		}
		return n, err
	}
}
