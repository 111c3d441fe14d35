// Package session runs the logger main loop: classify a voice command from each audio
// window, read the selected sensor and append the reading to the flash log.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/itohio/voicelog/pkg/audio"
	"github.com/itohio/voicelog/pkg/console"
	"github.com/itohio/voicelog/pkg/flashlog"
	"github.com/itohio/voicelog/pkg/sensor"
	"github.com/itohio/voicelog/pkg/spectral"
)

// ErrHalted ends Run after a full region was dumped under the DumpAndHalt policy.
var ErrHalted = errors.New("session halted after dump")

// Cycle describes one processed audio window.
type Cycle struct {
	Seq     uint64
	Result  spectral.Result
	Channel sensor.Channel // valid only when Result.Command selects a channel
	Values  []float32      // the reading, nil when no sensor was read
	Logged  bool
	Clamped bool  // the reading left the channel range and was stored at its bound
	Err     error // non-fatal failure of this cycle
}

// Stats counts cycle outcomes.
type Stats struct {
	Cycles   int
	Logged   int
	NoAction int // inconclusive or non-channel commands
	Rejected int // region full or sensor failure
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithPolicy sets the response to a full region.
func WithPolicy(p flashlog.Policy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

// WithConsole sets where dumps are printed, stdout by default.
func WithConsole(w *console.Writer) Option {
	return func(s *Session) {
		s.console = w
	}
}

// OnCycle registers a callback run after every cycle, on the session goroutine.
func OnCycle(fn func(Cycle)) Option {
	return func(s *Session) {
		s.onCycle = fn
	}
}

// Session wires the intake, classifier, sensors and flash log together.
// A Session is driven from a single goroutine.
type Session struct {
	log        *flashlog.Log
	classifier *spectral.Classifier
	sensors    sensor.Reader
	intake     *audio.Intake

	policy  flashlog.Policy
	console *console.Writer
	onCycle func(Cycle)
	logger  zerolog.Logger

	stats Stats
}

// New creates a session.
func New(log *flashlog.Log, classifier *spectral.Classifier, sensors sensor.Reader, intake *audio.Intake, opts ...Option) (*Session, error) {
	if intake.Size() < classifier.Config().FFTSize {
		return nil, fmt.Errorf("audio window of %d samples is shorter than fft size %d",
			intake.Size(), classifier.Config().FFTSize)
	}

	s := &Session{
		log:        log,
		classifier: classifier,
		sensors:    sensors,
		intake:     intake,
		policy:     flashlog.RejectWhenFull,
		console:    console.NewWriter(os.Stdout),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init checks the flash. When erase is set it wipes the chip so every region starts
// empty, otherwise logging continues after the readings already stored.
func (s *Session) Init(erase bool) error {
	if err := s.log.Verify(); err != nil {
		return err
	}
	if !erase {
		s.logger.Info().Msg("flash kept, resuming after stored readings")
		return s.log.Resume()
	}
	return s.log.EraseAll()
}

// ClassifyOnce waits for the next audio window and classifies it.
func (s *Session) ClassifyOnce(ctx context.Context) (spectral.Result, error) {
	w, err := s.next(ctx)
	if err != nil {
		return spectral.Result{Command: spectral.Inconclusive}, err
	}
	defer s.intake.Release(w)
	return s.classifier.Classify(w.Samples())
}

// Step waits for the next audio window and runs one full cycle on it.
func (s *Session) Step(ctx context.Context) (Cycle, error) {
	w, err := s.next(ctx)
	if err != nil {
		return Cycle{}, err
	}
	return s.handle(w)
}

// Run starts src and processes its windows until src is exhausted, ctx ends or a fatal
// error occurs. It returns nil when src finished, ErrHalted after a dump-and-halt, or
// the fatal error.
func (s *Session) Run(ctx context.Context, src audio.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srcDone := make(chan error, 1)
	go func() {
		srcDone <- src.Run(ctx, s.intake)
	}()

	stop := func(err error) error {
		cancel()
		<-srcDone
		return err
	}

	for {
		select {
		case w := <-s.intake.Windows():
			if _, err := s.handle(w); err != nil {
				return stop(err)
			}
		case err := <-srcDone:
			if err != nil {
				return err
			}
			return s.drain()
		case <-ctx.Done():
			return stop(ctx.Err())
		}
	}
}

// drain handles windows published before the source returned.
func (s *Session) drain() error {
	for {
		select {
		case w := <-s.intake.Windows():
			if _, err := s.handle(w); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) next(ctx context.Context) (*audio.Window, error) {
	select {
	case w := <-s.intake.Windows():
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) handle(w *audio.Window) (Cycle, error) {
	c, err := s.process(w.Samples())
	c.Seq = w.Seq()
	s.intake.Release(w)

	s.stats.Cycles++
	if s.onCycle != nil {
		s.onCycle(c)
	}
	return c, err
}

// process runs one cycle. The returned error is fatal or ErrHalted; recoverable failures
// are reported in Cycle.Err.
func (s *Session) process(samples []float64) (Cycle, error) {
	var c Cycle

	res, err := s.classifier.Classify(samples)
	if err != nil {
		return c, err
	}
	c.Result = res

	ch, ok := res.Command.Channel()
	if !ok {
		s.stats.NoAction++
		s.logger.Debug().Float64("dominant_hz", res.Frequency).Stringer("command", res.Command).Msg("no action")
		return c, nil
	}
	c.Channel = ch

	values, err := s.sensors.Read(ch)
	if err != nil {
		s.stats.Rejected++
		c.Err = fmt.Errorf("read %s: %w", ch, err)
		s.logger.Warn().Err(err).Stringer("channel", ch).Msg("sensor read failed")
		return c, nil
	}
	c.Values = values
	if r := s.log.Range(ch); !sensor.InRange(values, r) {
		c.Clamped = true
		s.logger.Warn().Stringer("channel", ch).Str("reading", console.FormatValues(ch, values)).
			Float32("min", r.Min).Float32("max", r.Max).Msg("reading out of range, clamping")
	}

	err = s.log.Append(ch, values)
	switch {
	case err == nil:
		c.Logged = true
		s.stats.Logged++
		s.logger.Info().Stringer("channel", ch).Str("reading", console.FormatValues(ch, values)).Msg("logged")
		return c, nil
	case flashlog.Fatal(err):
		return c, err
	case errors.Is(err, flashlog.ErrRegionFull):
		s.stats.Rejected++
		c.Err = err
		if s.policy == flashlog.DumpAndHalt {
			s.logger.Warn().Stringer("channel", ch).Msg("memory full, dumping and halting")
			if err := s.Dump(); err != nil {
				return c, err
			}
			return c, ErrHalted
		}
		return c, nil
	default:
		s.stats.Rejected++
		c.Err = err
		return c, nil
	}
}

// Dump prints every region to the console.
func (s *Session) Dump() error {
	return s.console.WriteDump(s.log)
}

// Stats returns the cycle counters.
func (s *Session) Stats() Stats {
	return s.stats
}

// Log returns the flash log.
func (s *Session) Log() *flashlog.Log {
	return s.log
}
