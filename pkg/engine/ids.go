package engine

import "sync/atomic"

// ID is a process-wide unique 64-bit integer identifying a module, cable,
// or param handle (spec.md §3).
type ID int64

// NoID marks the absence of a reference (e.g. an unset master module, or
// a param handle whose target has been cleared).
const NoID ID = -1

// idAllocator is an atomic monotone counter used by the Graph and the
// HandleRegistry to assign ids when the caller passes NoID, in the style
// of pkg/framework/param.AutoRegistry's nextID atomic.Uint32 counter
// (generalized here to int64 ids and to three independent spaces:
// modules, cables, handles each get their own allocator instance).
type idAllocator struct {
	next atomic.Int64
}

func (a *idAllocator) allocate() ID {
	return ID(a.next.Add(1) - 1)
}

// observe bumps the allocator so that a caller-supplied explicit id never
// collides with a subsequently auto-assigned one.
func (a *idAllocator) observe(id ID) {
	for {
		cur := a.next.Load()
		if int64(id) < cur {
			return
		}
		if a.next.CompareAndSwap(cur, int64(id)+1) {
			return
		}
	}
}
