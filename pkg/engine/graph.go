package engine

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/dijkstracula/go-ilock"
	"github.com/rs/zerolog"
)

// moduleSlot holds everything the graph stores about one registered
// module: the opaque Module itself, its fixed-size port arrays, its
// per-param smoothers, and scratch space reused every frame so Process
// calls allocate nothing (spec.md's "must not block" / real-time
// constraint).
type moduleSlot struct {
	id     ID
	module Module

	inputs  []InputPort
	outputs []OutputPort

	inputPtrs  []*InputPort
	outputPtrs []*OutputPort

	params     []*Param
	paramSnaps []float64

	bypassed     bool
	bypassRoutes []BypassRoute

	ctx ProcessContext
}

func newModuleSlot(m Module) *moduleSlot {
	nIn, nOut, nParams := m.NumInputs(), m.NumOutputs(), m.NumParams()
	s := &moduleSlot{
		module:     m,
		inputs:     make([]InputPort, nIn),
		outputs:    make([]OutputPort, nOut),
		inputPtrs:  make([]*InputPort, nIn),
		outputPtrs: make([]*OutputPort, nOut),
		params:     make([]*Param, nParams),
		paramSnaps: make([]float64, nParams),
	}
	for i := range s.inputs {
		s.inputPtrs[i] = &s.inputs[i]
	}
	for i := range s.outputs {
		s.outputPtrs[i] = &s.outputs[i]
	}
	for i := range s.params {
		s.params[i] = NewParam(0)
	}
	if b, ok := m.(Bypassable); ok {
		s.bypassRoutes = b.BypassRoutes()
	}
	s.ctx.Inputs = s.inputPtrs
	s.ctx.Outputs = s.outputPtrs
	s.ctx.Params = s.paramSnaps
	return s
}

// Graph is the registry of modules and cables, gated by an intention lock
// (spec.md §2, §4.7, §5). All topology mutations take the lock's X
// (exclusive) state; stepBlock and observational queries take S (shared).
//
// A Graph's zero value is not usable; construct one with New.
type Graph struct {
	Log *zerolog.Logger

	lock *ilock.Mutex
	// stepMu serializes StepBlock against itself (spec.md §2: "a second
	// mutex serializes stepBlock against itself, so a fallback thread and
	// a host cannot race into overlapping block processing").
	stepMu sync.Mutex

	modules    map[ID]*moduleSlot
	cables     map[ID]*Cable
	moduleIDs  idAllocator
	cableIDs   idAllocator
	handles    *HandleRegistry
	meter      *Meter
	events     *eventQueue
	pool       *workerPool
	sampleRate atomic.Uint64 // float64 bits
	masterID   atomic.Int64
	blockCtr   atomic.Int64
	frameCtr   atomic.Int64

	blockFrames int

	factoriesMu sync.Mutex
	factories   map[factoryKey]ModuleFactory
}

// Options configures a new Graph (SPEC_FULL.md §2.3).
type Options struct {
	SampleRate  float64
	Workers     int
	BlockFrames int
	Logger      *zerolog.Logger
	MeterWindow int
}

// Option mutates Options; functional-option constructors below mirror the
// teacher's bus.NewStereoConfiguration/NewMonoConfiguration idiom of
// narrow named constructors over a generic settings struct.
type Option func(*Options)

// WithSampleRate sets the initial sample rate (default 44100).
func WithSampleRate(hz float64) Option { return func(o *Options) { o.SampleRate = hz } }

// WithWorkers sets the worker pool size W, 1 <= W (default: runtime GOMAXPROCS).
func WithWorkers(n int) Option { return func(o *Options) { o.Workers = n } }

// WithBlockFrames records a nominal block size on the Graph (default 256).
// NewFallbackClock takes its block size as its own argument and does not
// read this value.
func WithBlockFrames(n int) Option { return func(o *Options) { o.BlockFrames = n } }

// WithLogger attaches a zerolog.Logger; defaults to a no-op logger.
func WithLogger(l *zerolog.Logger) Option { return func(o *Options) { o.Logger = l } }

// New creates an empty Graph ready for mutation and stepping.
func New(opts ...Option) *Graph {
	o := Options{SampleRate: 44100, Workers: defaultWorkers(), BlockFrames: 256}
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	g := &Graph{
		Log:         o.Logger,
		lock:        ilock.New(),
		modules:     make(map[ID]*moduleSlot),
		cables:      make(map[ID]*Cable),
		handles:     NewHandleRegistry(),
		meter:       NewMeter(),
		events:      newEventQueue(),
		pool:        newWorkerPool(o.Workers),
		blockFrames: o.BlockFrames,
	}
	g.masterID.Store(int64(NoID))
	g.sampleRate.Store(math.Float64bits(o.SampleRate))
	return g
}

func defaultWorkers() int {
	n := numCPU()
	if n < 1 {
		return 1
	}
	return n
}

// Close shuts down the worker pool. Call once the Graph is no longer in
// use; further StepBlock calls after Close are not supported.
func (g *Graph) Close() {
	g.pool.Shutdown()
}

// SampleRate returns the current sample rate.
func (g *Graph) SampleRate() float64 {
	return math.Float64frombits(g.sampleRate.Load())
}

// Block returns the current block counter (spec.md §3).
func (g *Graph) Block() int64 { return g.blockCtr.Load() }

// Frame returns the current frame counter. See DESIGN.md's decision on
// Open Question (a): this is only ever the pre-block or post-block value,
// never one observed mid-block.
func (g *Graph) Frame() int64 { return g.frameCtr.Load() }

// SetFrame forcibly resets the frame counter (host playhead jump),
// spec.md §3. Writer-locked.
func (g *Graph) SetFrame(frame int64) {
	g.lock.XLock()
	defer g.lock.XUnlock()
	g.frameCtr.Store(frame)
}

// SetSampleRate changes the sample rate and notifies every module via
// EventSampleRateChange (spec.md §4.7). Writer-locked.
func (g *Graph) SetSampleRate(hz float64) {
	g.lock.XLock()
	defer g.lock.XUnlock()
	old := g.SampleRate()
	g.sampleRate.Store(math.Float64bits(hz))
	for _, s := range g.modules {
		for _, p := range s.params {
			p.SetTimeConstant(hz)
		}
		s.module.OnEvent(EventSampleRateChange, SampleRateChange{OldRate: old, NewRate: hz})
	}
	g.Log.Debug().Float64("old_hz", old).Float64("new_hz", hz).Msg("sample rate changed")
}

// SetSuggestedSampleRate is like SetSampleRate but only applied if no
// master module is set to drive the rate externally; included for API
// parity with spec.md §4.7's operation table.
func (g *Graph) SetSuggestedSampleRate(hz float64) {
	if g.MasterModuleID() != NoID {
		return
	}
	g.SetSampleRate(hz)
}

// MasterModuleID returns the current master module id, or NoID.
func (g *Graph) MasterModuleID() ID {
	return ID(g.masterID.Load())
}

// SetMasterModule sets (or, with NoID, clears) the module whose external
// clock drives StepBlock (spec.md §4.7, §9 glossary). Writer-locked.
func (g *Graph) SetMasterModule(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	if id != NoID {
		if _, ok := g.modules[id]; !ok {
			return wrap(ErrModuleNotFound, "module %d", id)
		}
	}
	g.masterID.Store(int64(id))
	return nil
}

// AddModule registers m under id, or under an auto-assigned id if
// id == NoID. Fires EventAdd. Writer-locked (spec.md §4.7).
func (g *Graph) AddModule(id ID, m Module) (ID, error) {
	g.lock.XLock()
	defer g.lock.XUnlock()

	if id == NoID {
		id = g.moduleIDs.allocate()
	} else {
		if _, exists := g.modules[id]; exists {
			return NoID, wrap(ErrModuleExists, "module %d", id)
		}
		g.moduleIDs.observe(id)
	}
	slot := newModuleSlot(m)
	slot.id = id
	for _, p := range slot.params {
		p.SetTimeConstant(g.SampleRate())
	}
	g.modules[id] = slot
	slot.module.OnEvent(EventAdd, id)
	g.Log.Debug().Int64("module_id", int64(id)).Msg("module added")
	return id, nil
}

// RemoveModule unregisters id: implicitly unsets it as master if
// applicable and removes every cable touching it (spec.md §3, §4.7).
// Writer-locked.
func (g *Graph) RemoveModule(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	return g.removeModuleLocked(id)
}

func (g *Graph) removeModuleLocked(id ID) error {
	slot, ok := g.modules[id]
	if !ok {
		return wrap(ErrModuleNotFound, "module %d", id)
	}
	for cid, c := range g.cables {
		if c.OutputModuleID == id || c.InputModuleID == id {
			g.disconnectCableLocked(c)
			delete(g.cables, cid)
		}
	}
	if g.MasterModuleID() == id {
		g.masterID.Store(int64(NoID))
	}
	delete(g.modules, id)
	slot.module.OnEvent(EventRemove, id)
	g.Log.Debug().Int64("module_id", int64(id)).Msg("module removed")
	return nil
}

// Clear removes every module and cable (spec.md §3 Lifecycles). Writer-locked.
func (g *Graph) Clear() {
	g.lock.XLock()
	defer g.lock.XUnlock()
	for id, slot := range g.modules {
		slot.module.OnEvent(EventRemove, id)
	}
	g.modules = make(map[ID]*moduleSlot)
	g.cables = make(map[ID]*Cable)
	g.masterID.Store(int64(NoID))
}

// GetModule returns the module registered under id, if any. Reader-locked.
func (g *Graph) GetModule(id ID) (Module, bool) {
	g.lock.SLock()
	defer g.lock.SUnlock()
	s, ok := g.modules[id]
	if !ok {
		return nil, false
	}
	return s.module, true
}

// HasModule reports whether id is registered. Reader-locked.
func (g *Graph) HasModule(id ID) bool {
	g.lock.SLock()
	defer g.lock.SUnlock()
	_, ok := g.modules[id]
	return ok
}

// GetNumModules returns the number of registered modules. Reader-locked.
func (g *Graph) GetNumModules() int {
	g.lock.SLock()
	defer g.lock.SUnlock()
	return len(g.modules)
}

// ModuleIDs returns a snapshot of every registered module id. Reader-locked.
func (g *Graph) ModuleIDs() []ID {
	g.lock.SLock()
	defer g.lock.SUnlock()
	ids := make([]ID, 0, len(g.modules))
	for id := range g.modules {
		ids = append(ids, id)
	}
	return ids
}

// findInputCable returns the cable (if any) already feeding
// (inputModuleID, inputPortID): used to enforce "an input port has at
// most one incoming cable" (spec.md §3).
func (g *Graph) findInputCable(inputModuleID ID, inputPortID int) *Cable {
	for _, c := range g.cables {
		if c.InputModuleID == inputModuleID && c.InputPortID == inputPortID {
			return c
		}
	}
	return nil
}

// AddCable connects outputModuleID.outputPortID to inputModuleID.inputPortID.
// Both endpoints must already exist in the graph; the input port must not
// already have an incoming cable (spec.md §3). Writer-locked.
func (g *Graph) AddCable(id ID, outputModuleID ID, outputPortID int, inputModuleID ID, inputPortID int) (ID, error) {
	g.lock.XLock()
	defer g.lock.XUnlock()

	outSlot, ok := g.modules[outputModuleID]
	if !ok {
		return NoID, wrap(ErrModuleNotFound, "output module %d", outputModuleID)
	}
	inSlot, ok := g.modules[inputModuleID]
	if !ok {
		return NoID, wrap(ErrModuleNotFound, "input module %d", inputModuleID)
	}
	if outputPortID < 0 || outputPortID >= len(outSlot.outputs) {
		return NoID, wrap(ErrPortOutOfRange, "output port %d on module %d", outputPortID, outputModuleID)
	}
	if inputPortID < 0 || inputPortID >= len(inSlot.inputs) {
		return NoID, wrap(ErrPortOutOfRange, "input port %d on module %d", inputPortID, inputModuleID)
	}
	if existing := g.findInputCable(inputModuleID, inputPortID); existing != nil {
		return NoID, wrap(ErrPortOccupied, "input %d on module %d already fed by cable %d",
			inputPortID, inputModuleID, existing.ID)
	}

	if id == NoID {
		id = g.cableIDs.allocate()
	} else {
		if _, exists := g.cables[id]; exists {
			return NoID, wrap(ErrCableExists, "cable %d", id)
		}
		g.cableIDs.observe(id)
	}

	c := &Cable{
		ID:             id,
		OutputModuleID: outputModuleID,
		OutputPortID:   outputPortID,
		InputModuleID:  inputModuleID,
		InputPortID:    inputPortID,
	}
	g.cables[id] = c
	inSlot.inputs[inputPortID].connect(&outSlot.outputs[outputPortID])
	return id, nil
}

// RemoveCable disconnects and removes cable id (spec.md §3). Writer-locked.
func (g *Graph) RemoveCable(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	c, ok := g.cables[id]
	if !ok {
		return wrap(ErrCableNotFound, "cable %d", id)
	}
	g.disconnectCableLocked(c)
	delete(g.cables, id)
	return nil
}

func (g *Graph) disconnectCableLocked(c *Cable) {
	if inSlot, ok := g.modules[c.InputModuleID]; ok && c.InputPortID < len(inSlot.inputs) {
		inSlot.inputs[c.InputPortID].disconnect()
	}
}

// GetCable returns the cable registered under id, if any. Reader-locked.
func (g *Graph) GetCable(id ID) (Cable, bool) {
	g.lock.SLock()
	defer g.lock.SUnlock()
	c, ok := g.cables[id]
	if !ok {
		return Cable{}, false
	}
	return *c, true
}

// HasCable reports whether id is registered. Reader-locked.
func (g *Graph) HasCable(id ID) bool {
	g.lock.SLock()
	defer g.lock.SUnlock()
	_, ok := g.cables[id]
	return ok
}

// GetNumCables returns the number of registered cables. Reader-locked.
func (g *Graph) GetNumCables() int {
	g.lock.SLock()
	defer g.lock.SUnlock()
	return len(g.cables)
}

// --- lifecycle operations buffered through the event queue ---

// BypassModule marks a module bypassed: it receives no further Process
// calls and its declared bypass routes copy inputs to outputs instead
// (spec.md §4.1). The module's OnEvent(EventBypass) fires before the next
// block (spec.md §9 Open Question (b)).
func (g *Graph) BypassModule(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	s, ok := g.modules[id]
	if !ok {
		return wrap(ErrModuleNotFound, "module %d", id)
	}
	s.bypassed = true
	g.events.Add(GraphEvent{ModuleID: id, Kind: EventBypass, Payload: s.bypassRoutes})
	return nil
}

// UnBypassModule resumes normal processing for a bypassed module.
func (g *Graph) UnBypassModule(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	s, ok := g.modules[id]
	if !ok {
		return wrap(ErrModuleNotFound, "module %d", id)
	}
	s.bypassed = false
	g.events.Add(GraphEvent{ModuleID: id, Kind: EventUnBypass})
	return nil
}

// ResetModule buffers an EventReset for id, delivered before the next block.
func (g *Graph) ResetModule(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	if _, ok := g.modules[id]; !ok {
		return wrap(ErrModuleNotFound, "module %d", id)
	}
	g.events.Add(GraphEvent{ModuleID: id, Kind: EventReset})
	return nil
}

// RandomizeModule buffers an EventRandomize for id, delivered before the
// next block.
func (g *Graph) RandomizeModule(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	if _, ok := g.modules[id]; !ok {
		return wrap(ErrModuleNotFound, "module %d", id)
	}
	g.events.Add(GraphEvent{ModuleID: id, Kind: EventRandomize})
	return nil
}

// IsBypassed reports whether id is currently bypassed. Reader-locked.
func (g *Graph) IsBypassed(id ID) bool {
	g.lock.SLock()
	defer g.lock.SUnlock()
	s, ok := g.modules[id]
	return ok && s.bypassed
}

// --- parameters: lock-free, per spec.md §4.7 ---

func (g *Graph) param(moduleID ID, paramID int) (*Param, error) {
	g.lock.SLock()
	s, ok := g.modules[moduleID]
	g.lock.SUnlock()
	if !ok {
		return nil, wrap(ErrModuleNotFound, "module %d", moduleID)
	}
	if paramID < 0 || paramID >= len(s.params) {
		return nil, wrap(ErrParamOutOfRange, "param %d on module %d", paramID, moduleID)
	}
	return s.params[paramID], nil
}

// SetParamValue sets both current and target instantly (spec.md §4.4,
// §4.7). Lock-free once the module lookup resolves.
func (g *Graph) SetParamValue(moduleID ID, paramID int, value float64) error {
	p, err := g.param(moduleID, paramID)
	if err != nil {
		return err
	}
	p.SetValue(value)
	return nil
}

// GetParamValue returns the current (possibly mid-smooth) value.
func (g *Graph) GetParamValue(moduleID ID, paramID int) (float64, error) {
	p, err := g.param(moduleID, paramID)
	if err != nil {
		return 0, err
	}
	return p.Value(), nil
}

// SetParamSmoothValue sets only the smoothing target (spec.md §4.4).
func (g *Graph) SetParamSmoothValue(moduleID ID, paramID int, target float64) error {
	p, err := g.param(moduleID, paramID)
	if err != nil {
		return err
	}
	p.SetSmoothValue(target)
	return nil
}

// --- param handles ---

// AddParamHandle registers a new ParamHandle. Writer-locked (spec.md §4.7).
func (g *Graph) AddParamHandle(id ID, moduleID ID, paramID int, tag any) (*ParamHandle, error) {
	g.lock.XLock()
	defer g.lock.XUnlock()
	return g.handles.Add(id, moduleID, paramID, tag)
}

// RemoveParamHandle erases a handle. Writer-locked.
func (g *Graph) RemoveParamHandle(id ID) error {
	g.lock.XLock()
	defer g.lock.XUnlock()
	return g.handles.Remove(id)
}

// UpdateParamHandle rebinds id to (moduleID, paramID) per the overwrite
// semantics in spec.md §3/§4.3. Reader-locked on the graph (the registry
// itself uses finer-grained synchronization internally).
func (g *Graph) UpdateParamHandle(id ID, moduleID ID, paramID int, overwrite bool) error {
	g.lock.SLock()
	defer g.lock.SUnlock()
	return g.handles.Update(id, moduleID, paramID, overwrite)
}

// GetParamHandle returns the handle currently bound to (moduleID, paramID).
// Reader-locked.
func (g *Graph) GetParamHandle(moduleID ID, paramID int) (*ParamHandle, bool) {
	g.lock.SLock()
	defer g.lock.SUnlock()
	return g.handles.Get(moduleID, paramID)
}

// Meter returns the graph's CPU meter (spec.md §4.8).
func (g *Graph) Meter() *Meter { return g.meter }

// Workers returns the worker pool size W.
func (g *Graph) Workers() int { return g.pool.Workers() }

// YieldWorkers hints that the remainder of the current frame's worker
// pass should use the blocking barrier rather than spinning (spec.md §4.5
// point 4). Call this from inside a module's Process. StepBlock runs one
// pass per frame and the hint is cleared at the start of every pass, so it
// does not carry over to later frames of the same block.
func (g *Graph) YieldWorkers() { g.pool.yieldWorkers() }
