package engine

import "sync"

// GraphEvent is a buffered lifecycle notification destined for a module's
// OnEvent hook. Mutators (Bypass, Reset, Randomize, ...) append these
// while the previous block is still running; StepBlock drains and
// dispatches them before the next block's frame loop starts (spec.md
// §4.6, §9 Open Question (b): "before the next block").
type GraphEvent struct {
	ModuleID ID
	Kind     EventKind
	Payload  any
}

// eventQueue is a FIFO buffer of pending GraphEvents, adapted from
// pkg/midi.EventQueue's slice-plus-mutex shape: that queue sorts by
// sample offset because MIDI events are sample-accurate, where
// GraphEvents only need FIFO-per-module ordering (spec.md §6: "ordering
// between events on the same module is FIFO"), so the sort step is
// dropped and Add simply appends.
type eventQueue struct {
	mu     sync.Mutex
	events []GraphEvent
}

func newEventQueue() *eventQueue {
	return &eventQueue{events: make([]GraphEvent, 0, 16)}
}

// Add enqueues an event. Safe to call from any goroutine, including while
// a block is in flight.
func (q *eventQueue) Add(ev GraphEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// drain atomically removes and returns every pending event, in FIFO
// order. Called once per block, from inside StepBlock, before the frame
// loop starts.
func (q *eventQueue) drain() []GraphEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = make([]GraphEvent, 0, 16)
	return out
}
