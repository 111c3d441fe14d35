package audio

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Source fills an Intake the way the microphone DMA does: first half, half notification,
// second half, full notification. Run returns when the source is exhausted or ctx ends.
type Source interface {
	Run(ctx context.Context, in *Intake) error
}

// Generate returns n samples of amplitude*sin(2*pi*freq*i/sampleRate).
func Generate(freq, amplitude, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return out
}

// Encode converts samples into raw capture words, the inverse of the intake conversion.
// Samples beyond what a word holds after the shift saturate at the largest magnitude.
func Encode(dst []int32, samples []float64, shift uint) {
	hi := float64(int32(math.MaxInt32) >> shift)
	lo := -hi - 1
	for i, s := range samples[:len(dst)] {
		dst[i] = int32(math.Max(lo, math.Min(hi, math.Round(s)))) << shift
	}
}

// pacer spaces cycles when an interval is set.
type pacer struct {
	ticker *time.Ticker
}

func newPacer(interval time.Duration) *pacer {
	if interval <= 0 {
		return &pacer{}
	}
	return &pacer{ticker: time.NewTicker(interval)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.ticker == nil {
		return ctx.Err()
	}
	select {
	case <-p.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}

// cycle runs one capture cycle. fill writes raw[from:to].
func cycle(ctx context.Context, in *Intake, lockstep bool, fill func(raw []int32, from, to int)) error {
	if lockstep {
		if err := in.Acquire(ctx); err != nil {
			return err
		}
	}
	raw := in.Raw()
	half := len(raw) / 2

	fill(raw, 0, half)
	in.HalfComplete()
	if err := ctx.Err(); err != nil {
		return err
	}
	fill(raw, half, len(raw))
	in.FullComplete()
	return nil
}

// Tone plays a schedule of frequencies, one per capture cycle. A zero entry is silence.
type Tone struct {
	Schedule   []float64
	Amplitude  float64 // peak, in converted sample units
	SampleRate float64
	Interval   time.Duration // wall time between cycles, 0 runs as fast as possible
	Lockstep   bool          // wait for a free window instead of dropping the cycle
}

func (t Tone) Run(ctx context.Context, in *Intake) error {
	p := newPacer(t.Interval)
	defer p.stop()

	for _, freq := range t.Schedule {
		if err := p.wait(ctx); err != nil {
			return err
		}
		samples := Generate(freq, t.Amplitude, t.SampleRate, in.Size())
		err := cycle(ctx, in, t.Lockstep, func(raw []int32, from, to int) {
			Encode(raw[from:to], samples[from:to], in.Shift())
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Noise plays Cycles windows of seeded gaussian noise.
type Noise struct {
	Cycles    int
	Amplitude float64 // standard deviation, in converted sample units
	Seed      uint64
	Interval  time.Duration
	Lockstep  bool
}

func (n Noise) Run(ctx context.Context, in *Intake) error {
	p := newPacer(n.Interval)
	defer p.stop()

	rng := rand.New(rand.NewPCG(n.Seed, n.Seed^0x9e3779b97f4a7c15))
	samples := make([]float64, in.Size())
	for range n.Cycles {
		if err := p.wait(ctx); err != nil {
			return err
		}
		for i := range samples {
			samples[i] = rng.NormFloat64() * n.Amplitude
		}
		err := cycle(ctx, in, n.Lockstep, func(raw []int32, from, to int) {
			Encode(raw[from:to], samples[from:to], in.Shift())
		})
		if err != nil {
			return err
		}
	}
	return nil
}
