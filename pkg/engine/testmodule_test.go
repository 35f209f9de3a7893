package engine

import "encoding/json"

// gainModule is a minimal test double: one input, one output, one
// parameter (linear gain). Output[0] = Input[0] * Params[0].
type gainModule struct {
	id      ID
	state   gainState
	onEvent []EventKind
	panicOn int64 // panics during the block whose counter equals this value; -1 == never
}

type gainState struct {
	Gain float64 `json:"gain"`
}

func newGainModule() *gainModule {
	return &gainModule{state: gainState{Gain: 1}, panicOn: -1}
}

func (m *gainModule) ID() ID          { return m.id }
func (m *gainModule) NumParams() int  { return 1 }
func (m *gainModule) NumInputs() int  { return 1 }
func (m *gainModule) NumOutputs() int { return 1 }

func (m *gainModule) Process(ctx *ProcessContext) {
	if m.panicOn >= 0 && ctx.Block == m.panicOn {
		panic("gainModule: forced fault")
	}
	in := ctx.Inputs[0]
	out := ctx.Outputs[0]
	n := in.Channels()
	out.SetChannels(n)
	inBuf := in.Buffer()
	outBuf := out.Buffer()
	gain := float32(ctx.Params[0])
	for i := 0; i < n; i++ {
		outBuf[i] = inBuf[i] * gain
	}
}

func (m *gainModule) OnEvent(kind EventKind, payload any) {
	m.onEvent = append(m.onEvent, kind)
	if kind == EventAdd {
		if id, ok := payload.(ID); ok {
			m.id = id
		}
	}
}

func (m *gainModule) ToJSON() (json.RawMessage, error) {
	return json.Marshal(m.state)
}

func (m *gainModule) FromJSON(data json.RawMessage) error {
	return json.Unmarshal(data, &m.state)
}

func (m *gainModule) PluginID() string     { return "test.gain" }
func (m *gainModule) ModelName() string    { return "Gain" }
func (m *gainModule) ModelVersion() string { return "1.0.0" }

func (m *gainModule) BypassRoutes() []BypassRoute {
	return []BypassRoute{{FromInput: 0, ToOutput: 0}}
}

// sourceModule emits a constant value on its single output, no inputs.
type sourceModule struct {
	id    ID
	value float32
}

func (m *sourceModule) ID() ID          { return m.id }
func (m *sourceModule) NumParams() int  { return 0 }
func (m *sourceModule) NumInputs() int  { return 0 }
func (m *sourceModule) NumOutputs() int { return 1 }

func (m *sourceModule) Process(ctx *ProcessContext) {
	out := ctx.Outputs[0]
	out.SetChannels(1)
	out.Buffer()[0] = m.value
}

func (m *sourceModule) OnEvent(kind EventKind, payload any) {
	if kind == EventAdd {
		if id, ok := payload.(ID); ok {
			m.id = id
		}
	}
}

func (m *sourceModule) ToJSON() (json.RawMessage, error)    { return json.RawMessage("{}"), nil }
func (m *sourceModule) FromJSON(data json.RawMessage) error { return nil }
