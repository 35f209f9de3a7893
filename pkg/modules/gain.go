// Package modules provides concrete engine.Module implementations built on
// top of the dsp primitives: a VCA-style gain stage, a VCO, a biquad or
// state-variable filter, and a delay line, each driven sample-by-sample through the one
// ProcessContext the graph hands a module per frame.
package modules

import (
	"encoding/json"

	"github.com/modulasynth/engine/pkg/dsp/gain"
	"github.com/modulasynth/engine/pkg/engine"
)

// Gain is a multi-channel VCA: output[c] = input[c] * param 0 (linear gain).
// Grounded on pkg/dsp/gain.Apply, the teacher's per-sample scalar gain
// primitive.
type Gain struct {
	id engine.ID
}

// NewGain creates a Gain module. Its gain parameter (param 0) starts at 0,
// like every graph parameter, until it is set.
func NewGain() *Gain { return &Gain{} }

func (m *Gain) ID() engine.ID   { return m.id }
func (m *Gain) NumParams() int  { return 1 }
func (m *Gain) NumInputs() int  { return 1 }
func (m *Gain) NumOutputs() int { return 1 }

func (m *Gain) Process(ctx *engine.ProcessContext) {
	in := ctx.Inputs[0]
	out := ctx.Outputs[0]
	n := in.Channels()
	out.SetChannels(n)
	inBuf := in.Buffer()
	outBuf := out.Buffer()
	g := float32(ctx.Params[0])
	for c := 0; c < n; c++ {
		outBuf[c] = gain.Apply(inBuf[c], g)
	}
}

func (m *Gain) OnEvent(kind engine.EventKind, payload any) {
	if kind == engine.EventAdd {
		if id, ok := payload.(engine.ID); ok {
			m.id = id
		}
	}
}

func (m *Gain) ToJSON() (json.RawMessage, error)    { return json.RawMessage("{}"), nil }
func (m *Gain) FromJSON(data json.RawMessage) error { return nil }

func (m *Gain) PluginID() string     { return "modulasynth.gain" }
func (m *Gain) ModelName() string    { return "Gain" }
func (m *Gain) ModelVersion() string { return "1.0.0" }

func (m *Gain) BypassRoutes() []engine.BypassRoute {
	return []engine.BypassRoute{{FromInput: 0, ToOutput: 0}}
}
