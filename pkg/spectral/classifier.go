package spectral

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShortWindow is returned when fewer than FFTSize samples are supplied.
	ErrShortWindow = errors.New("audio window shorter than fft size")
	// ErrInvalidConfig is wrapped by every Config validation failure.
	ErrInvalidConfig = errors.New("invalid classifier config")
)

// Defaults for the board microphone.
const (
	DefaultFFTSize    = 512
	DefaultSampleRate = 8000
	DefaultTolerance  = 16 // two bins at 8 kHz / 512
	DefaultSkipBins   = 2  // DC and the bin next to it
)

// DefaultTones are the reference frequencies in command order.
func DefaultTones() []float64 {
	return []float64{440.0, 587.33, 622.25, 739.99, 830.61}
}

// State is the classifier position within one cycle.
type State int

const (
	// Idle is the state before a window was accepted.
	Idle State = iota
	// Windowed means the samples were copied and windowed.
	Windowed
	// Classified means the last cycle produced a Result.
	Classified
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Windowed:
		return "windowed"
	case Classified:
		return "classified"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the classifier parameters.
type Config struct {
	FFTSize    int       // transform length, a power of two
	SampleRate float64   // Hz
	Tones      []float64 // reference frequencies, at most MaxTones
	Tolerance  float64   // Hz; a match needs a strictly smaller distance
	SkipBins   int       // lowest bins excluded from the peak search
	Window     string    // rectangular, hann, hamming or blackman
}

// DefaultConfig returns the board configuration.
func DefaultConfig() Config {
	return Config{
		FFTSize:    DefaultFFTSize,
		SampleRate: DefaultSampleRate,
		Tones:      DefaultTones(),
		Tolerance:  DefaultTolerance,
		SkipBins:   DefaultSkipBins,
		Window:     "rectangular",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FFTSize < 4 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("%w: fft size %d is not a power of two >= 4", ErrInvalidConfig, c.FFTSize)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if len(c.Tones) == 0 || len(c.Tones) > MaxTones {
		return fmt.Errorf("%w: need 1..%d tones, got %d", ErrInvalidConfig, MaxTones, len(c.Tones))
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive", ErrInvalidConfig)
	}
	if c.SkipBins < 0 || c.SkipBins >= c.FFTSize/2 {
		return fmt.Errorf("%w: skip bins %d outside 0..%d", ErrInvalidConfig, c.SkipBins, c.FFTSize/2-1)
	}
	if _, err := windowCoefficients(c.Window, c.FFTSize); err != nil {
		return err
	}
	return nil
}

func windowCoefficients(name string, n int) ([]float64, error) {
	switch name {
	case "", "rectangular":
		return nil, nil
	case "hann":
		return window.Hann(n), nil
	case "hamming":
		return window.Hamming(n), nil
	case "blackman":
		return window.Blackman(n), nil
	default:
		return nil, fmt.Errorf("%w: unknown window %q", ErrInvalidConfig, name)
	}
}

// Result describes one classification cycle.
type Result struct {
	Command   Command
	Bin       int
	Frequency float64 // Hz
	Magnitude float64 // magnitude of the dominant bin
}

// Classifier turns one audio window into a Command. All buffers are allocated once
// and overwritten every cycle; nothing carries over between cycles.
//
// A Classifier is not safe for concurrent use.
type Classifier struct {
	cfg    Config
	fft    *fourier.FFT
	window []float64

	input  []float64    // windowed copy of the samples
	coeff  []complex128 // N/2+1 transform coefficients
	packed []float64    // N values, half-spectrum packed form
	mag    []float64    // N/2 magnitudes

	state  State
	logger zerolog.Logger
}

// New creates a classifier. The logger may be zerolog.Nop().
func New(cfg Config, logger zerolog.Logger) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	win, _ := windowCoefficients(cfg.Window, cfg.FFTSize)

	n := cfg.FFTSize
	return &Classifier{
		cfg:    cfg,
		fft:    fourier.NewFFT(n),
		window: win,
		input:  make([]float64, n),
		coeff:  make([]complex128, n/2+1),
		packed: make([]float64, n),
		mag:    make([]float64, n/2),
		logger: logger,
	}, nil
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config {
	return c.cfg
}

// State returns where the last cycle stopped.
func (c *Classifier) State() State {
	return c.state
}

// Spectrum returns the magnitudes computed by the last cycle. The slice is reused.
func (c *Classifier) Spectrum() []float64 {
	return c.mag
}

// Classify runs one cycle over the first FFTSize samples.
func (c *Classifier) Classify(samples []float64) (Result, error) {
	c.state = Idle
	if len(samples) < c.cfg.FFTSize {
		return Result{Command: Inconclusive}, fmt.Errorf("%w: %d < %d", ErrShortWindow, len(samples), c.cfg.FFTSize)
	}

	copy(c.input, samples[:c.cfg.FFTSize])
	if c.window != nil {
		floats.Mul(c.input, c.window)
	}
	c.state = Windowed

	c.Transform(c.input, c.packed)
	Magnitude(c.packed, c.mag)

	bin := DominantBin(c.mag, c.cfg.SkipBins)
	res := Result{
		Bin:       bin,
		Frequency: c.BinFrequency(bin),
		Magnitude: c.mag[bin],
	}
	res.Command = c.Match(res.Frequency)
	c.state = Classified

	c.logger.Debug().
		Float64("dominant_hz", res.Frequency).
		Int("bin", bin).
		Stringer("command", res.Command).
		Msg("classified window")

	return res, nil
}

// Transform computes the forward real FFT of in (len FFTSize) into packed (len FFTSize):
// packed[0] is the DC term, packed[1] the Nyquist term, and packed[2k], packed[2k+1]
// hold the real and imaginary parts of bin k for 0 < k < FFTSize/2.
func (c *Classifier) Transform(in, packed []float64) {
	n := c.cfg.FFTSize
	c.coeff = c.fft.Coefficients(c.coeff, in)

	packed[0] = real(c.coeff[0])
	packed[1] = real(c.coeff[n/2])
	for k := 1; k < n/2; k++ {
		packed[2*k] = real(c.coeff[k])
		packed[2*k+1] = imag(c.coeff[k])
	}
}

// Magnitude fills mag[k] with the length of each packed (re, im) pair.
func Magnitude(packed, mag []float64) {
	for k := range mag {
		re, im := packed[2*k], packed[2*k+1]
		mag[k] = math.Sqrt(re*re + im*im)
	}
}

// DominantBin returns the index of the largest magnitude at or above skip.
// The first of equal maxima wins, and a spectrum with no positive bin returns 0.
func DominantBin(mag []float64, skip int) int {
	if skip >= len(mag) {
		return 0
	}
	i := skip + floats.MaxIdx(mag[skip:])
	if !(mag[i] > 0) {
		return 0
	}
	return i
}

// BinFrequency converts a magnitude bin index to Hz.
func (c *Classifier) BinFrequency(bin int) float64 {
	numBins := c.cfg.FFTSize / 2
	return float64(bin) * c.cfg.SampleRate / float64(2*numBins)
}

// Match returns the nearest reference tone, or Inconclusive when even the nearest one
// is Tolerance Hz or more away. The first of equally near tones wins.
func (c *Classifier) Match(freq float64) Command {
	return Match(freq, c.cfg.Tones, c.cfg.Tolerance)
}

// Match is the table lookup used by Classifier.Match.
func Match(freq float64, tones []float64, tolerance float64) Command {
	if len(tones) == 0 {
		return Inconclusive
	}

	closest := 0
	minDiff := math.Abs(freq - tones[0])
	for i := 1; i < len(tones); i++ {
		if d := math.Abs(freq - tones[i]); d < minDiff {
			minDiff = d
			closest = i
		}
	}

	if minDiff >= tolerance {
		return Inconclusive
	}
	return Command(closest)
}
