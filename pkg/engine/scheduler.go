package engine

import (
	"sync"
	"time"
)

// applyBypassRoutes copies each declared bypass route's input buffer onto
// its output buffer instead of calling Process (spec.md §4.1). A module
// with no declared routes (the Bypassable type assertion fails) is simply
// skipped, leaving its outputs at their last written value.
func applyBypassRoutes(s *moduleSlot) {
	for _, r := range s.bypassRoutes {
		if r.FromInput < 0 || r.FromInput >= len(s.inputs) {
			continue
		}
		if r.ToOutput < 0 || r.ToOutput >= len(s.outputs) {
			continue
		}
		in := &s.inputs[r.FromInput]
		out := &s.outputs[r.ToOutput]
		n := in.Channels()
		out.SetChannels(n)
		*out.Buffer() = *in.Buffer()
	}
}

// StepBlock drives one block of `frames` sample frames (spec.md §4.6).
// It read-locks the graph (S), then takes the exclusive step mutex so two
// concurrent StepBlock calls serialize (spec.md §2, §5). It dispatches
// any buffered lifecycle events, then for each frame advances every
// parameter smoother, dispatches module Process calls across the worker
// pool, and propagates cable connections (a standing pointer assignment
// made at AddCable time, not redone here — see spec.md §4.2, DESIGN.md).
//
// Module panics during Process are recovered per-module so one faulty
// module cannot corrupt the rest of the engine (spec.md §7). A fault
// still aborts the block: the frame in which it occurred finishes (every
// other module already dispatched for that frame runs to completion), but
// no further frames are processed. StepBlock returns the first fault
// observed, if any; the graph remains consistent either way, and a
// subsequent StepBlock call runs normally.
func (g *Graph) StepBlock(frames int) error {
	g.lock.SLock()
	defer g.lock.SUnlock()
	g.stepMu.Lock()
	defer g.stepMu.Unlock()

	start := time.Now()

	for _, ev := range g.events.drain() {
		if s, ok := g.modules[ev.ModuleID]; ok {
			s.module.OnEvent(ev.Kind, ev.Payload)
		}
	}

	slots := make([]*moduleSlot, 0, len(g.modules))
	for _, s := range g.modules {
		slots = append(slots, s)
	}

	blockCtx := &BlockContext{
		SampleRate:  g.SampleRate(),
		Block:       g.blockCtr.Load(),
		BlockFrame:  int(g.frameCtr.Load()),
		BlockFrames: frames,
	}

	var faultsMu sync.Mutex
	var faults []*ProcessFault
	framesRun := 0

	for f := 0; f < frames; f++ {
		for _, s := range slots {
			for i, p := range s.params {
				s.paramSnaps[i] = p.Advance()
			}
		}

		frame := f
		g.pool.runBlock(len(slots), func(i int) {
			s := slots[i]
			if s.bypassed {
				applyBypassRoutes(s)
				return
			}
			defer func() {
				if r := recover(); r != nil {
					faultsMu.Lock()
					faults = append(faults, &ProcessFault{
						ModuleID: s.id,
						Block:    blockCtx.Block,
						Frame:    frame,
						Reason:   r,
					})
					faultsMu.Unlock()
				}
			}()
			s.ctx.BlockContext = blockCtx
			s.ctx.Frame = frame
			s.module.Process(&s.ctx)
		})

		framesRun++

		if len(faults) > 0 {
			break
		}
	}

	g.frameCtr.Add(int64(framesRun))
	g.blockCtr.Add(1)

	elapsed := time.Since(start)
	blockDuration := time.Duration(float64(framesRun) / g.SampleRate() * float64(time.Second))
	g.meter.Observe(elapsed, blockDuration)

	if len(faults) > 0 {
		g.Log.Warn().Int("faults", len(faults)).Int("frames_run", framesRun).
			Int("frames_requested", frames).Msg("block aborted: module faulted during process")
		return faults[0]
	}
	return nil
}
