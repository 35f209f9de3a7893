package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g := New(WithSampleRate(44100), WithWorkers(4))
	t.Cleanup(g.Close)
	return g
}

// S1: build a two-module chain, step a block, observe propagated output.
func TestStepBlockPropagatesAcrossCable(t *testing.T) {
	g := newTestGraph(t)

	src := &sourceModule{value: 2}
	srcID, err := g.AddModule(NoID, src)
	require.NoError(t, err)

	gain := newGainModule()
	gainID, err := g.AddModule(NoID, gain)
	require.NoError(t, err)

	require.NoError(t, g.SetParamValue(gainID, 0, 3))

	_, err = g.AddCable(NoID, srcID, 0, gainID, 0)
	require.NoError(t, err)

	require.NoError(t, g.StepBlock(8))

	s := g.modules[gainID]
	assert.Equal(t, float32(6), s.outputs[0].Buffer()[0])
	assert.Equal(t, int64(8), g.Frame())
	assert.Equal(t, int64(1), g.Block())
}

// S2: duplicate module/cable ids and occupied ports are rejected, graph
// left unchanged.
func TestAddModuleRejectsDuplicateID(t *testing.T) {
	g := newTestGraph(t)

	id, err := g.AddModule(5, newGainModule())
	require.NoError(t, err)
	require.Equal(t, ID(5), id)

	_, err = g.AddModule(5, newGainModule())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModuleExists))
	assert.Equal(t, 1, g.GetNumModules())
}

func TestAddCableRejectsOccupiedInput(t *testing.T) {
	g := newTestGraph(t)
	a, _ := g.AddModule(NoID, &sourceModule{value: 1})
	b, _ := g.AddModule(NoID, &sourceModule{value: 1})
	dst, _ := g.AddModule(NoID, newGainModule())

	_, err := g.AddCable(NoID, a, 0, dst, 0)
	require.NoError(t, err)

	_, err = g.AddCable(NoID, b, 0, dst, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortOccupied))
	assert.Equal(t, 1, g.GetNumCables())
}

// S3: removing a module also removes cables attached to it, and clears
// master status if it was master.
func TestRemoveModuleCascadesCables(t *testing.T) {
	g := newTestGraph(t)
	a, _ := g.AddModule(NoID, &sourceModule{value: 1})
	b, _ := g.AddModule(NoID, newGainModule())
	cid, err := g.AddCable(NoID, a, 0, b, 0)
	require.NoError(t, err)

	require.NoError(t, g.SetMasterModule(a))
	require.NoError(t, g.RemoveModule(a))

	assert.False(t, g.HasCable(cid))
	assert.Equal(t, NoID, g.MasterModuleID())

	_, ok := g.GetModule(a)
	assert.False(t, ok)
}

// S4: round-trip ToJSON -> FromJSON -> ToJSON is a fixed point.
func TestSerializeRoundTripIsFixedPoint(t *testing.T) {
	g := newTestGraph(t)
	g.RegisterModuleFactory("test.gain", "Gain", func() Module { return newGainModule() })

	a, _ := g.AddModule(NoID, newGainModule())
	b, _ := g.AddModule(NoID, newGainModule())
	require.NoError(t, g.SetParamValue(a, 0, 0.5))
	_, err := g.AddCable(NoID, a, 0, b, 0)
	require.NoError(t, err)
	require.NoError(t, g.SetMasterModule(a))

	first, err := g.ToJSON()
	require.NoError(t, err)

	g2 := New(WithSampleRate(44100))
	t.Cleanup(g2.Close)
	g2.RegisterModuleFactory("test.gain", "Gain", func() Module { return newGainModule() })
	require.NoError(t, g2.FromJSON(first))

	second, err := g2.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestFromJSONMalformedLeavesGraphEmpty(t *testing.T) {
	g := newTestGraph(t)
	g.AddModule(NoID, newGainModule())

	err := g.FromJSON([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedJSON))
	assert.Equal(t, 0, g.GetNumModules())
}

// S5: a module panicking during Process is isolated (the rest of that
// frame still runs) but the block is aborted: no further frames are
// processed, and StepBlock surfaces the fault. The graph remains
// consistent and a later block still runs normally.
func TestStepBlockIsolatesModuleFault(t *testing.T) {
	g := newTestGraph(t)
	faulty := newGainModule()
	faulty.panicOn = 0 // faults on the first block only
	id, err := g.AddModule(NoID, faulty)
	require.NoError(t, err)

	healthy := &sourceModule{value: 5}
	_, err = g.AddModule(NoID, healthy)
	require.NoError(t, err)

	err = g.StepBlock(4)
	require.Error(t, err)
	var fault *ProcessFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, id, fault.ModuleID)

	// the block aborted after its first frame, not all 4 requested frames
	assert.Equal(t, int64(1), g.Frame())

	// graph still usable afterwards: block counter has advanced past the
	// faulted block, so panicOn no longer matches and this block runs in full
	require.NoError(t, g.StepBlock(4))
	assert.Equal(t, int64(5), g.Frame())
}

// S6: param handle rebinding follows overwrite-vs-reject semantics and
// handles reattach automatically when a module id is reused.
func TestParamHandleRebindSemantics(t *testing.T) {
	g := newTestGraph(t)
	m1, _ := g.AddModule(1, newGainModule())
	m2, _ := g.AddModule(2, newGainModule())

	h1, err := g.AddParamHandle(NoID, m1, 0, "knob-1")
	require.NoError(t, err)

	_, err = g.AddParamHandle(NoID, m2, 0, "knob-2")
	require.NoError(t, err)

	err = g.UpdateParamHandle(h1.ID, m2, 0, false)
	require.Error(t, err)

	err = g.UpdateParamHandle(h1.ID, m2, 0, true)
	require.NoError(t, err)

	got, ok := g.GetParamHandle(m2, 0)
	require.True(t, ok)
	assert.Equal(t, h1.ID, got.ID)
}

func TestParamHandleReattachesAfterModuleRemovedAndReadded(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.AddModule(7, newGainModule())
	require.NoError(t, err)
	h, err := g.AddParamHandle(NoID, 7, 0, "fader")
	require.NoError(t, err)

	require.NoError(t, g.RemoveModule(7))
	// handle still exists but its target module is gone; SetParamValue
	// through the graph directly would fail, the handle itself is inert.
	_, ok := g.GetParamHandle(7, 0)
	assert.True(t, ok)

	_, err = g.AddModule(7, newGainModule())
	require.NoError(t, err)

	got, ok := g.GetParamHandle(7, 0)
	require.True(t, ok)
	assert.Equal(t, h.ID, got.ID)
}

// Invariant: a Param's smoothed value converges to its target over
// successive Advance calls, snapping to it once within epsilon.
func TestParamSmoothingConverges(t *testing.T) {
	p := NewParam(0)
	p.SetTimeConstant(44100)
	p.SetSmoothValue(1)
	var last float64
	for i := 0; i < 10000; i++ {
		last = p.Advance()
	}
	assert.InDelta(t, 1.0, last, 1e-5)
}

// Invariant: concurrent StepBlock calls serialize rather than racing
// (spec.md's second mutex around the frame loop).
func TestConcurrentStepBlockSerializes(t *testing.T) {
	g := newTestGraph(t)
	for i := 0; i < 4; i++ {
		g.AddModule(NoID, newGainModule())
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.StepBlock(16)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(8), g.Block())
}

func TestBypassModuleRoutesInputToOutput(t *testing.T) {
	g := newTestGraph(t)
	src, _ := g.AddModule(NoID, &sourceModule{value: 4})
	gain, _ := g.AddModule(NoID, newGainModule())
	g.SetParamValue(gain, 0, 100) // would multiply wildly if not bypassed
	_, err := g.AddCable(NoID, src, 0, gain, 0)
	require.NoError(t, err)

	require.NoError(t, g.BypassModule(gain))
	require.NoError(t, g.StepBlock(4))

	s := g.modules[gain]
	assert.Equal(t, float32(4), s.outputs[0].Buffer()[0])
	assert.True(t, g.IsBypassed(gain))
}

func TestSetSampleRateNotifiesModules(t *testing.T) {
	g := newTestGraph(t)
	gm := newGainModule()
	_, err := g.AddModule(NoID, gm)
	require.NoError(t, err)

	g.SetSampleRate(48000)

	require.Len(t, gm.onEvent, 2) // EventAdd, then EventSampleRateChange
	assert.Equal(t, EventSampleRateChange, gm.onEvent[len(gm.onEvent)-1])
	assert.Equal(t, float64(48000), g.SampleRate())
}

func TestMeterTracksBlockLoad(t *testing.T) {
	g := newTestGraph(t)
	g.AddModule(NoID, newGainModule())
	for i := 0; i < 5; i++ {
		require.NoError(t, g.StepBlock(64))
	}
	assert.GreaterOrEqual(t, g.Meter().Average(), 0.0)
	assert.GreaterOrEqual(t, g.Meter().Max(), 0.0)
}
