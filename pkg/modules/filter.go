package modules

import (
	"encoding/json"

	"github.com/modulasynth/engine/pkg/dsp/filter"
	"github.com/modulasynth/engine/pkg/engine"
)

// FilterTopology selects which dsp/filter implementation and response
// Filter.Process drives.
type FilterTopology int

const (
	TopologyLowpass FilterTopology = iota
	TopologyHighpass
	TopologySVFLowpass
	TopologySVFHighpass
	TopologySVFBandpass
	TopologySVFNotch
)

func (t FilterTopology) isSVF() bool { return t >= TopologySVFLowpass }

// Filter is a multi-channel filter: param 0 is cutoff in Hz, param 1 is Q.
// Topology selects between the teacher's direct-form biquad (lowpass,
// highpass) and its zero-delay-feedback state variable filter (lowpass,
// highpass, bandpass, notch); each gives its own per-channel state so
// polyphonic voices don't bleed into each other. Grounded on
// pkg/dsp/filter.Biquad and pkg/dsp/filter.SVF.
type Filter struct {
	id         engine.ID
	sampleRate float64
	topology   FilterTopology
	biquad     *filter.Biquad
	svf        *filter.SVF
	lastCutoff float64
	lastQ      float64
	scratch    [1]float32
}

// NewFilter creates a Filter module in the given topology, sized for
// engine.MaxChannels voices at sampleRate.
func NewFilter(sampleRate float64, topology FilterTopology) *Filter {
	m := &Filter{sampleRate: sampleRate, topology: topology, lastCutoff: -1}
	m.allocTopology()
	return m
}

func (m *Filter) allocTopology() {
	if m.topology.isSVF() {
		m.svf = filter.NewSVF(engine.MaxChannels)
		m.biquad = nil
	} else {
		m.biquad = filter.NewBiquad(engine.MaxChannels)
		m.svf = nil
	}
}

func (m *Filter) ID() engine.ID   { return m.id }
func (m *Filter) NumParams() int  { return 2 }
func (m *Filter) NumInputs() int  { return 1 }
func (m *Filter) NumOutputs() int { return 1 }

func (m *Filter) Process(ctx *engine.ProcessContext) {
	cutoff := ctx.Params[0]
	q := ctx.Params[1]
	if cutoff != m.lastCutoff || q != m.lastQ {
		switch m.topology {
		case TopologyLowpass:
			m.biquad.SetLowpass(m.sampleRate, cutoff, q)
		case TopologyHighpass:
			m.biquad.SetHighpass(m.sampleRate, cutoff, q)
		default:
			m.svf.SetFrequencyAndQ(m.sampleRate, cutoff, q)
		}
		m.lastCutoff, m.lastQ = cutoff, q
	}

	in := ctx.Inputs[0]
	out := ctx.Outputs[0]
	n := in.Channels()
	out.SetChannels(n)
	inBuf := in.Buffer()
	outBuf := out.Buffer()

	for c := 0; c < n; c++ {
		if m.svf != nil {
			outs := m.svf.ProcessSample(inBuf[c], c)
			switch m.topology {
			case TopologySVFHighpass:
				outBuf[c] = outs.Highpass
			case TopologySVFBandpass:
				outBuf[c] = outs.Bandpass
			case TopologySVFNotch:
				outBuf[c] = outs.Notch
			default:
				outBuf[c] = outs.Lowpass
			}
			continue
		}
		m.scratch[0] = inBuf[c]
		m.biquad.Process(m.scratch[:], c)
		outBuf[c] = m.scratch[0]
	}
}

func (m *Filter) OnEvent(kind engine.EventKind, payload any) {
	switch kind {
	case engine.EventAdd:
		if id, ok := payload.(engine.ID); ok {
			m.id = id
		}
	case engine.EventReset:
		if m.svf != nil {
			m.svf.Reset()
		} else {
			m.biquad.Reset()
		}
	case engine.EventSampleRateChange:
		if ch, ok := payload.(engine.SampleRateChange); ok {
			m.sampleRate = ch.NewRate
			m.lastCutoff = -1 // force coefficient recompute at the new rate
		}
	}
}

func (m *Filter) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Topology FilterTopology `json:"topology"`
	}{Topology: m.topology})
}

func (m *Filter) FromJSON(data json.RawMessage) error {
	var doc struct {
		Topology FilterTopology `json:"topology"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.topology = doc.Topology
	m.lastCutoff = -1
	m.allocTopology()
	return nil
}

func (m *Filter) PluginID() string     { return "modulasynth.filter" }
func (m *Filter) ModelName() string    { return "Filter" }
func (m *Filter) ModelVersion() string { return "1.0.0" }
