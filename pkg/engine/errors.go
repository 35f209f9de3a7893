package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for topology and reference violations (spec.md §7).
// Callers use errors.Is to discriminate. Except for ErrMalformedJSON
// (FromJSON leaves the graph empty when it returns it), no state change
// has occurred by the time any of these is returned.
var (
	ErrModuleExists    = errors.New("engine: module id already exists")
	ErrModuleNotFound  = errors.New("engine: module not found")
	ErrCableExists     = errors.New("engine: cable id already exists")
	ErrCableNotFound   = errors.New("engine: cable not found")
	ErrPortOccupied    = errors.New("engine: input port already connected")
	ErrPortOutOfRange  = errors.New("engine: port index out of range")
	ErrParamOutOfRange = errors.New("engine: param id out of range")
	ErrHandleNotFound  = errors.New("engine: param handle not found")
	ErrMalformedJSON   = errors.New("engine: malformed graph document")
)

func wrap(base error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), base)
}

// ProcessFault describes a module that failed during Process by panicking.
// StepBlock recovers the panic, aborts the current block, and surfaces
// this value instead of re-panicking (spec.md §7: "the block is aborted
// and a diagnostic is surfaced ... the graph remains consistent").
type ProcessFault struct {
	ModuleID ID
	Block    int64
	Frame    int
	Reason   any
}

func (f *ProcessFault) Error() string {
	return fmt.Sprintf("engine: module %d faulted during process (block %d, frame %d): %v",
		f.ModuleID, f.Block, f.Frame, f.Reason)
}
