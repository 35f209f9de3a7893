package engine

import "encoding/json"

// EventKind enumerates the lifecycle notifications delivered to a Module's
// OnEvent hook (spec.md §4.1, §6). Each fires exactly once per logical
// occurrence; ordering between events on the same module is FIFO.
type EventKind int

const (
	EventAdd EventKind = iota
	EventRemove
	EventReset
	EventRandomize
	EventBypass
	EventUnBypass
	EventSampleRateChange
	EventSave
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "Add"
	case EventRemove:
		return "Remove"
	case EventReset:
		return "Reset"
	case EventRandomize:
		return "Randomize"
	case EventBypass:
		return "Bypass"
	case EventUnBypass:
		return "UnBypass"
	case EventSampleRateChange:
		return "SampleRateChange"
	case EventSave:
		return "Save"
	default:
		return "Unknown"
	}
}

// SampleRateChange is the payload delivered with EventSampleRateChange.
type SampleRateChange struct {
	OldRate float64
	NewRate float64
}

// BypassRoute describes one input-to-output passthrough applied instead of
// Process when a module is bypassed (spec.md §4.1).
type BypassRoute struct {
	FromInput int
	ToOutput  int
}

// BlockContext carries the read-only, per-block state shared by every
// module processed in the current block: the sample rate, and frame/block
// counters as observed at the start of the current block (see
// DESIGN.md's Open Question (a) decision on Graph.Frame()'s mid-block
// semantics).
type BlockContext struct {
	SampleRate  float64
	Block       int64
	BlockFrame  int
	BlockFrames int
}

// ProcessContext is what a Module's Process method actually receives: the
// shared BlockContext, which frame within the block this call is for, the
// module's own smoothed parameter values (len == NumParams(), already
// advanced one sample step by the scheduler), and the module's own ports.
// A module reads Inputs[*].Buffer()/Channels() and writes into
// Outputs[*].Buffer(), calling Outputs[*].SetChannels() if it changes its
// output channel count (spec.md §4.1, §4.2).
type ProcessContext struct {
	*BlockContext
	Frame   int
	Params  []float64
	Inputs  []*InputPort
	Outputs []*OutputPort
}

// Module is the opaque processing unit the engine drives. The engine does
// not own module memory: the caller retains ownership and must outlive its
// participation in the graph (spec.md §3).
//
// Process must be deterministic in its inputs and must not block.
// OnEvent is called either under the graph's exclusive lock or while the
// step mutex is held (buffered events dispatched by StepBlock before its
// frame loop, and EventSave from PrepareSave), never concurrently with
// Process.
type Module interface {
	// ID returns whatever id the module last learned about itself via
	// EventAdd's payload (an ID), for the module's own bookkeeping. The
	// graph does not consult this when assigning ids: Graph.AddModule
	// takes the authoritative id (or NoID to auto-assign) as an explicit
	// argument (spec.md §4.7).
	ID() ID
	NumParams() int
	NumInputs() int
	NumOutputs() int

	// Process reads ctx.Inputs/writes ctx.Outputs for one frame of the
	// current block.
	Process(ctx *ProcessContext)

	// OnEvent delivers a lifecycle notification. May mutate
	// module-internal state; never called concurrently with Process.
	OnEvent(kind EventKind, payload any)

	// ToJSON/FromJSON (de)serialize module-internal, opaque state. The
	// engine treats the returned bytes as an opaque JSON value nested
	// under the module's "data" field (spec.md §4.9, §6).
	ToJSON() (json.RawMessage, error)
	FromJSON(data json.RawMessage) error
}

// Identity is the metadata the serializer needs beyond what Module
// exposes: plugin/model/version strings used to reconstruct the same
// concrete module type on load. Modules implement this in addition to
// Module; the engine type-asserts for it when present and otherwise
// falls back to empty strings.
type Identity interface {
	PluginID() string
	ModelName() string
	ModelVersion() string
}

// Bypassable is implemented by modules that declare explicit bypass
// routes (spec.md §4.1). Modules that don't implement it are, when
// bypassed, simply skipped with all their outputs left at their last
// written value.
type Bypassable interface {
	BypassRoutes() []BypassRoute
}
