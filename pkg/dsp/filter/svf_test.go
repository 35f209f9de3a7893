package filter

import (
	"math"
	"testing"
)

func TestSVFLowpassAttenuatesAboveCutoff(t *testing.T) {
	const sampleRate = 48000.0
	s := NewSVF(1)
	s.SetFrequencyAndQ(sampleRate, 500, 0.707)

	// Drive with a tone well above cutoff and measure settled amplitude
	// against a tone well below it; lowpass output should be smaller for
	// the high tone.
	lowAmp := peakAmplitude(t, s, sampleRate, 100, func(o SVFOutputs) float32 { return o.Lowpass })
	s.Reset()
	highAmp := peakAmplitude(t, s, sampleRate, 8000, func(o SVFOutputs) float32 { return o.Lowpass })

	if highAmp >= lowAmp {
		t.Errorf("lowpass did not attenuate high tone: low=%f high=%f", lowAmp, highAmp)
	}
}

func TestSVFHighpassAttenuatesBelowCutoff(t *testing.T) {
	const sampleRate = 48000.0
	s := NewSVF(1)
	s.SetFrequencyAndQ(sampleRate, 2000, 0.707)

	lowAmp := peakAmplitude(t, s, sampleRate, 50, func(o SVFOutputs) float32 { return o.Highpass })
	s.Reset()
	highAmp := peakAmplitude(t, s, sampleRate, 10000, func(o SVFOutputs) float32 { return o.Highpass })

	if lowAmp >= highAmp {
		t.Errorf("highpass did not attenuate low tone: low=%f high=%f", lowAmp, highAmp)
	}
}

func TestSVFResetClearsState(t *testing.T) {
	s := NewSVF(2)
	s.SetFrequencyAndQ(48000, 1000, 0.707)
	for i := 0; i < 100; i++ {
		s.ProcessSample(1, 0)
		s.ProcessSample(1, 1)
	}
	s.Reset()
	out := s.ProcessSample(0, 0)
	if out.Lowpass != 0 || out.Bandpass != 0 {
		t.Errorf("Reset did not clear state: %+v", out)
	}
}

// peakAmplitude drives the filter with a sine tone at freqHz and returns
// the peak magnitude of the requested output over its final quarter
// (after the filter has settled).
func peakAmplitude(t *testing.T, s *SVF, sampleRate, freqHz float64, pick func(SVFOutputs) float32) float32 {
	t.Helper()
	const n = 2000
	var peak float32
	for i := 0; i < n; i++ {
		sample := float32(math.Sin(2 * math.Pi * freqHz * float64(i) / sampleRate))
		out := s.ProcessSample(sample, 0)
		if i > n*3/4 {
			v := pick(out)
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}
