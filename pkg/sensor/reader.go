package sensor

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/floats"

	"github.com/itohio/voicelog/pkg/quant"
)

// Reader acquires one reading from a sensor, already converted to engineering units.
// Temperature and humidity return one value, the accelerometer and gyroscope return x, y, z.
type Reader interface {
	Read(c Channel) ([]float32, error)
}

// Ensure Mock implements Reader.
var _ Reader = (*Mock)(nil)

// MilliToUnit converts raw milli-unit driver outputs (mg, mdps) into g and dps.
func MilliToUnit(raw []float32) []float32 {
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = v / 1000
	}
	return out
}

// Mock simulates the onboard sensors with a bounded random walk per scalar. Like the
// board drivers, the accelerometer and gyroscope walk in mg and mdps and are converted
// with MilliToUnit.
type Mock struct {
	ranges [NumChannels]quant.Range

	mu    sync.Mutex
	rng   *rand.Rand
	state [NumChannels][]float32 // raw driver units
	reads [NumChannels]int
	fail  map[Channel]error
}

// NewMock creates a simulated sensor set. Each walk starts in the middle of its range
// and never leaves it. The seed makes the sequence reproducible.
func NewMock(ranges [NumChannels]quant.Range, seed uint64) *Mock {
	m := &Mock{
		ranges: ranges,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		fail:   make(map[Channel]error),
	}
	for _, c := range Channels {
		lo, hi := rawRange(c, ranges[c])
		mid := lo + (hi-lo)/2
		m.state[c] = make([]float32, c.Scalars())
		for i := range m.state[c] {
			m.state[c][i] = mid
		}
	}
	return m
}

// milli reports whether the driver of c reports milli-units.
func milli(c Channel) bool {
	return c == Accelerometer || c == Gyroscope
}

func rawRange(c Channel, r quant.Range) (float32, float32) {
	if milli(c) {
		return r.Min * 1000, r.Max * 1000
	}
	return r.Min, r.Max
}

// Read returns the next simulated reading.
func (m *Mock) Read(c Channel) ([]float32, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, uint8(c))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail[c]; err != nil {
		return nil, err
	}

	lo, hi := rawRange(c, m.ranges[c])
	step := (hi - lo) / 50
	for i, v := range m.state[c] {
		v += (m.rng.Float32()*2 - 1) * step
		m.state[c][i] = math32.Max(lo, math32.Min(hi, v))
	}
	m.reads[c]++

	var out []float32
	if milli(c) {
		out = MilliToUnit(m.state[c])
	} else {
		out = make([]float32, len(m.state[c]))
		copy(out, m.state[c])
	}

	// the unit conversion may round a bound by one ulp
	if r := m.ranges[c]; !InRange(out, r) {
		for i, v := range out {
			out[i] = math32.Max(r.Min, math32.Min(r.Max, v))
		}
	}
	return out, nil
}

// Reads returns how many readings were taken from c.
func (m *Mock) Reads(c Channel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[c]
}

// Fail makes every following Read of c return err. A nil err clears the fault.
func (m *Mock) Fail(c Channel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, c)
		return
	}
	m.fail[c] = err
}

// InRange reports whether every value lies within r.
func InRange(values []float32, r quant.Range) bool {
	if len(values) == 0 {
		return true
	}
	f := make([]float64, len(values))
	for i, v := range values {
		f[i] = float64(v)
	}
	return floats.Min(f) >= float64(r.Min) && floats.Max(f) <= float64(r.Max)
}
