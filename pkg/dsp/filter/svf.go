package filter

import "math"

// SVF implements a state variable filter
// Provides simultaneous lowpass, highpass, bandpass, and notch outputs
// Zero-delay feedback topology for better analog modeling
type SVF struct {
	// Filter parameters
	g float32 // frequency coefficient
	k float32 // damping coefficient (1/Q)

	// State variables (per-channel)
	ic1eq []float32 // integrator 1 state
	ic2eq []float32 // integrator 2 state
}

// SVFOutputs holds all filter outputs
type SVFOutputs struct {
	Lowpass  float32
	Highpass float32
	Bandpass float32
	Notch    float32
}

// NewSVF creates a new state variable filter for the specified number of channels
func NewSVF(channels int) *SVF {
	return &SVF{
		ic1eq: make([]float32, channels),
		ic2eq: make([]float32, channels),
	}
}

// Reset clears the filter state
func (s *SVF) Reset() {
	for i := range s.ic1eq {
		s.ic1eq[i] = 0
		s.ic2eq[i] = 0
	}
}

// SetFrequency sets the filter frequency
func (s *SVF) SetFrequency(sampleRate, frequency float64) {
	// Pre-warp the frequency for the bilinear transform
	omega := math.Tan(math.Pi * frequency / sampleRate)
	s.g = float32(omega)
}

// SetQ sets the filter resonance (Q factor)
func (s *SVF) SetQ(q float64) {
	s.k = float32(1.0 / q)
}

// SetFrequencyAndQ sets both frequency and Q in one call
func (s *SVF) SetFrequencyAndQ(sampleRate, frequency, q float64) {
	s.SetFrequency(sampleRate, frequency)
	s.SetQ(q)
}

// ProcessSample processes a single sample and returns all outputs
func (s *SVF) ProcessSample(input float32, channel int) SVFOutputs {
	// Get state for this channel
	ic1eq := s.ic1eq[channel]
	ic2eq := s.ic2eq[channel]

	// Compute common terms
	g := s.g
	k := s.k
	a1 := 1.0 / (1.0 + g*(g+k))
	a2 := g * a1
	a3 := g * a2

	// Compute outputs
	v3 := input - ic2eq
	v1 := a1*ic1eq + a2*v3
	v2 := ic2eq + a2*ic1eq + a3*v3

	// Update state
	ic1eq = 2.0*v1 - ic1eq
	ic2eq = 2.0*v2 - ic2eq

	// Save state
	s.ic1eq[channel] = ic1eq
	s.ic2eq[channel] = ic2eq

	// Return all outputs
	return SVFOutputs{
		Lowpass:  v2,
		Bandpass: v1,
		Highpass: input - k*v1 - v2,
		Notch:    input - k*v1,
	}
}
