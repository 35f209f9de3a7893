package modules

import (
	"encoding/json"

	"github.com/modulasynth/engine/pkg/dsp/delay"
	"github.com/modulasynth/engine/pkg/engine"
)

// Delay is a multi-channel delay line: param 0 is delay time in
// milliseconds, param 1 is feedback (0-1). Each channel gets its own
// delay.Line so voices don't share a write head. Grounded on
// pkg/dsp/delay.Line.
type Delay struct {
	id         engine.ID
	sampleRate float64
	lines      [engine.MaxChannels]*delay.Line
	maxSeconds float64
}

// NewDelay creates a Delay module whose lines can hold up to maxSeconds
// of history at sampleRate.
func NewDelay(sampleRate, maxSeconds float64) *Delay {
	d := &Delay{sampleRate: sampleRate, maxSeconds: maxSeconds}
	for i := range d.lines {
		d.lines[i] = delay.New(maxSeconds, sampleRate)
	}
	return d
}

func (m *Delay) ID() engine.ID   { return m.id }
func (m *Delay) NumParams() int  { return 2 }
func (m *Delay) NumInputs() int  { return 1 }
func (m *Delay) NumOutputs() int { return 1 }

func (m *Delay) Process(ctx *engine.ProcessContext) {
	delayMs := ctx.Params[0]
	feedback := float32(ctx.Params[1])

	in := ctx.Inputs[0]
	out := ctx.Outputs[0]
	n := in.Channels()
	out.SetChannels(n)
	inBuf := in.Buffer()
	outBuf := out.Buffer()

	for c := 0; c < n; c++ {
		line := m.lines[c]
		wet := line.ReadMs(delayMs)
		line.Write(inBuf[c] + wet*feedback)
		outBuf[c] = wet
	}
}

func (m *Delay) OnEvent(kind engine.EventKind, payload any) {
	switch kind {
	case engine.EventAdd:
		if id, ok := payload.(engine.ID); ok {
			m.id = id
		}
	case engine.EventReset:
		for _, line := range m.lines {
			line.Reset()
		}
	case engine.EventSampleRateChange:
		if ch, ok := payload.(engine.SampleRateChange); ok {
			m.sampleRate = ch.NewRate
			for i := range m.lines {
				m.lines[i] = delay.New(m.maxSeconds, m.sampleRate)
			}
		}
	}
}

func (m *Delay) ToJSON() (json.RawMessage, error)    { return json.RawMessage("{}"), nil }
func (m *Delay) FromJSON(data json.RawMessage) error { return nil }

func (m *Delay) PluginID() string     { return "modulasynth.delay" }
func (m *Delay) ModelName() string    { return "Delay" }
func (m *Delay) ModelVersion() string { return "1.0.0" }
