package engine

import (
	"math"
	"sync/atomic"
)

// defaultSmoothTauSamples is the fixed smoothing time constant from
// spec.md §4.4: "τ a small fixed time constant (≈60 samples at 44.1 kHz)".
const defaultSmoothTauSamples = 60.0

// snapEpsilon is the |target-current| threshold below which the smoother
// snaps to target rather than asymptotically crawling toward it forever.
const snapEpsilon = 1e-6

// Param is a mutable float parameter with a current value, a smoothing
// target, and lock-free atomic access (spec.md §3, §4.4). Modeled on
// pkg/framework/param.Parameter's atomic float storage, generalized from
// a fixed [0,1] normalized range to an arbitrary plain value range and
// replacing the teacher's unsafe.Pointer bit-cast with the equivalent
// math.Float64bits/Float64frombits (see DESIGN.md).
type Param struct {
	current atomic.Uint64 // float64 bits
	target  atomic.Uint64 // float64 bits
	coeff   atomic.Uint64 // float64 bits: 1 - exp(-dt/tau), recomputed on rate change
}

// NewParam creates a Param with current == target == value.
func NewParam(value float64) *Param {
	p := &Param{}
	p.current.Store(math.Float64bits(value))
	p.target.Store(math.Float64bits(value))
	p.coeff.Store(math.Float64bits(smoothCoeff(defaultSmoothTauSamples)))
	return p
}

func smoothCoeff(tauSamples float64) float64 {
	if tauSamples <= 0 {
		return 1
	}
	return 1 - math.Exp(-1.0/tauSamples)
}

// SetValue sets both current and target instantly (spec.md §4.4).
func (p *Param) SetValue(value float64) {
	bits := math.Float64bits(value)
	p.current.Store(bits)
	p.target.Store(bits)
}

// SetSmoothValue sets only the target; current will approach it sample by
// sample via Advance (spec.md §4.4).
func (p *Param) SetSmoothValue(target float64) {
	p.target.Store(math.Float64bits(target))
}

// Value returns the current (possibly mid-smooth) value.
func (p *Param) Value() float64 {
	return math.Float64frombits(p.current.Load())
}

// Target returns the smoothing target.
func (p *Param) Target() float64 {
	return math.Float64frombits(p.target.Load())
}

// SetTimeConstant recomputes the smoothing coefficient for a new sample
// rate, keeping the ~60-sample-at-44.1kHz time constant spec.md §4.4
// specifies proportional to real time rather than sample count.
func (p *Param) SetTimeConstant(sampleRate float64) {
	tau := defaultSmoothTauSamples * sampleRate / 44100.0
	p.coeff.Store(math.Float64bits(smoothCoeff(tau)))
}

// Advance performs one sample step of exponential smoothing:
// current += (target-current) * (1 - exp(-dt/tau)), snapping to target
// once the two are within snapEpsilon (spec.md §4.4). Advance is called
// once per frame per parameter from inside StepBlock, never concurrently
// with itself.
func (p *Param) Advance() float64 {
	cur := math.Float64frombits(p.current.Load())
	tgt := math.Float64frombits(p.target.Load())
	if cur == tgt {
		return cur
	}
	coeff := math.Float64frombits(p.coeff.Load())
	next := cur + (tgt-cur)*coeff
	if math.Abs(tgt-next) < snapEpsilon {
		next = tgt
	}
	p.current.Store(math.Float64bits(next))
	return next
}
