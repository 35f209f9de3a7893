package modules

import (
	"encoding/json"

	"github.com/modulasynth/engine/pkg/dsp/oscillator"
	"github.com/modulasynth/engine/pkg/engine"
)

// VCOShape selects which waveform VCO.Process emits.
type VCOShape int

const (
	ShapeSine VCOShape = iota
	ShapeSaw
	ShapeSquare
	ShapeTriangle
)

// VCO is a single-voice, mono voltage-controlled oscillator: param 0 is
// frequency in Hz. It has no inputs — it is a graph source, cabled into
// other modules' inputs. Grounded on pkg/dsp/oscillator.Oscillator.
type VCO struct {
	id       engine.ID
	shape    VCOShape
	osc      *oscillator.Oscillator
	lastFreq float64
}

// NewVCO creates a VCO producing shape at the graph's current sample rate.
// sampleRate is supplied at construction because oscillator.Oscillator
// bakes it into phase increment math rather than taking it per-call; the
// module recreates its internal oscillator if SetSampleRate delivers a
// different rate (EventSampleRateChange).
func NewVCO(sampleRate float64, shape VCOShape) *VCO {
	return &VCO{shape: shape, osc: oscillator.New(sampleRate)}
}

func (m *VCO) ID() engine.ID   { return m.id }
func (m *VCO) NumParams() int  { return 1 }
func (m *VCO) NumInputs() int  { return 0 }
func (m *VCO) NumOutputs() int { return 1 }

func (m *VCO) Process(ctx *engine.ProcessContext) {
	m.lastFreq = ctx.Params[0]
	m.osc.SetFrequency(m.lastFreq)
	out := ctx.Outputs[0]
	out.SetChannels(1)
	var sample float32
	switch m.shape {
	case ShapeSaw:
		sample = m.osc.Saw()
	case ShapeSquare:
		sample = m.osc.Square()
	case ShapeTriangle:
		sample = m.osc.Triangle()
	default:
		sample = m.osc.Sine()
	}
	out.Buffer()[0] = sample
}

func (m *VCO) OnEvent(kind engine.EventKind, payload any) {
	switch kind {
	case engine.EventAdd:
		if id, ok := payload.(engine.ID); ok {
			m.id = id
		}
	case engine.EventSampleRateChange:
		if ch, ok := payload.(engine.SampleRateChange); ok {
			m.osc = oscillator.New(ch.NewRate)
			m.osc.SetFrequency(m.lastFreq)
		}
	case engine.EventReset:
		m.osc.Reset()
	}
}

func (m *VCO) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Shape VCOShape `json:"shape"`
	}{Shape: m.shape})
}

func (m *VCO) FromJSON(data json.RawMessage) error {
	var doc struct {
		Shape VCOShape `json:"shape"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.shape = doc.Shape
	return nil
}

func (m *VCO) PluginID() string     { return "modulasynth.vco" }
func (m *VCO) ModelName() string    { return "VCO" }
func (m *VCO) ModelVersion() string { return "1.0.0" }
