package modules

import (
	"testing"

	"github.com/modulasynth/engine/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVCOIntoGainChainStepsFullBlock(t *testing.T) {
	g := engine.New(engine.WithSampleRate(48000), engine.WithWorkers(2))
	defer g.Close()

	srcID, err := g.AddModule(engine.NoID, NewVCO(48000, ShapeSine))
	require.NoError(t, err)
	require.NoError(t, g.SetParamValue(srcID, 0, 440))

	gainID, err := g.AddModule(engine.NoID, NewGain())
	require.NoError(t, err)
	require.NoError(t, g.SetParamValue(gainID, 0, 0.5))

	_, err = g.AddCable(engine.NoID, srcID, 0, gainID, 0)
	require.NoError(t, err)

	require.NoError(t, g.StepBlock(32))
	assert.Equal(t, int64(32), g.Frame())
}

func TestFilterAndDelayChainStepsAllFrames(t *testing.T) {
	g := engine.New(engine.WithSampleRate(48000), engine.WithWorkers(2))
	defer g.Close()

	vco, _ := g.AddModule(engine.NoID, NewVCO(48000, ShapeSaw))
	require.NoError(t, g.SetParamValue(vco, 0, 220))

	flt, _ := g.AddModule(engine.NoID, NewFilter(48000, TopologyLowpass))
	require.NoError(t, g.SetParamValue(flt, 0, 2000))
	require.NoError(t, g.SetParamValue(flt, 1, 0.707))

	dly, _ := g.AddModule(engine.NoID, NewDelay(48000, 1.0))
	require.NoError(t, g.SetParamValue(dly, 0, 10))
	require.NoError(t, g.SetParamValue(dly, 1, 0.3))

	_, err := g.AddCable(engine.NoID, vco, 0, flt, 0)
	require.NoError(t, err)
	_, err = g.AddCable(engine.NoID, flt, 0, dly, 0)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, g.StepBlock(64))
	}
	assert.Equal(t, int64(640), g.Frame())
}

func TestSVFFilterTopologiesRoundTripThroughJSON(t *testing.T) {
	g := engine.New(engine.WithSampleRate(48000), engine.WithWorkers(2))
	defer g.Close()

	vco, _ := g.AddModule(engine.NoID, NewVCO(48000, ShapeSquare))
	require.NoError(t, g.SetParamValue(vco, 0, 110))

	flt, _ := g.AddModule(engine.NoID, NewFilter(48000, TopologySVFBandpass))
	require.NoError(t, g.SetParamValue(flt, 0, 500))
	require.NoError(t, g.SetParamValue(flt, 1, 1.2))

	_, err := g.AddCable(engine.NoID, vco, 0, flt, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, g.StepBlock(32))
	}
	assert.Equal(t, int64(160), g.Frame())

	original := NewFilter(48000, TopologySVFBandpass)
	doc, err := original.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"topology":4}`, string(doc))

	reloaded := NewFilter(48000, TopologyLowpass)
	require.NoError(t, reloaded.FromJSON(doc))
	assert.Equal(t, TopologySVFBandpass, reloaded.topology)
}
