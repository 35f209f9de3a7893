package engine

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// ParamHandle is a stable external reference to a (moduleId, paramId)
// pair; the UI holds these to drive a parameter even as modules are
// swapped (spec.md §3). Tag is an opaque caller payload (e.g. a widget
// id) the engine never inspects.
type ParamHandle struct {
	ID       ID
	ModuleID ID
	ParamID  int
	Tag      any
}

type handleKey struct {
	moduleID ID
	paramID  int
}

// HandleRegistry tracks ParamHandles and enforces that at most one active
// handle references any (moduleId, paramId) pair at a time (spec.md §3).
//
// Reads (Get) and the hot Update path run off xsync.MapOf, giving
// lock-free lookups independent of the graph's topology lock — spec.md
// §4.3 calls this out explicitly ("the registry uses internal
// finer-grained synchronization because this operation runs under
// mouse-drag"). Add/Remove still require the caller to hold the graph's
// writer lock, per the operation table in spec.md §4.7.
type HandleRegistry struct {
	byID      *xsync.MapOf[ID, *ParamHandle]
	byTarget  *xsync.MapOf[handleKey, *ParamHandle]
	allocator idAllocator
}

// NewHandleRegistry creates an empty registry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{
		byID:     xsync.NewMapOf[ID, *ParamHandle](),
		byTarget: xsync.NewMapOf[handleKey, *ParamHandle](),
	}
}

// Add inserts a new handle, allocating an id if id == NoID. Writer-locked
// by the caller (spec.md §4.7).
func (r *HandleRegistry) Add(id ID, moduleID ID, paramID int, tag any) (*ParamHandle, error) {
	if id == NoID {
		id = r.allocator.allocate()
	} else {
		if _, exists := r.byID.Load(id); exists {
			return nil, wrap(ErrModuleExists, "param handle %d", id)
		}
		r.allocator.observe(id)
	}
	h := &ParamHandle{ID: id, ModuleID: NoID, ParamID: -1, Tag: tag}
	r.byID.Store(id, h)
	if moduleID != NoID && paramID >= 0 {
		r.rebind(h, moduleID, paramID, true)
	}
	return h, nil
}

// Remove erases a handle entirely. Writer-locked by the caller.
func (r *HandleRegistry) Remove(id ID) error {
	h, ok := r.byID.Load(id)
	if !ok {
		return wrap(ErrHandleNotFound, "param handle %d", id)
	}
	r.clearTarget(h)
	r.byID.Delete(id)
	return nil
}

// Get returns the handle (if any) currently bound to (moduleID, paramID).
// Reader-locked by the caller (xsync gives this lock-free reads anyway).
func (r *HandleRegistry) Get(moduleID ID, paramID int) (*ParamHandle, bool) {
	return r.byTarget.Load(handleKey{moduleID, paramID})
}

// GetByID returns the handle with the given id, if any.
func (r *HandleRegistry) GetByID(id ID) (*ParamHandle, bool) {
	return r.byID.Load(id)
}

// Update rebinds handle id to (moduleID, paramID). If another handle
// already claims that target:
//   - overwrite == true: the old handle is reset to (NoID, -1) first,
//     then h is rebound (spec.md §3).
//   - overwrite == false: Update fails with an error and h is left
//     untouched.
func (r *HandleRegistry) Update(id ID, moduleID ID, paramID int, overwrite bool) error {
	h, ok := r.byID.Load(id)
	if !ok {
		return wrap(ErrHandleNotFound, "param handle %d", id)
	}
	if existing, found := r.byTarget.Load(handleKey{moduleID, paramID}); found && existing.ID != id {
		if !overwrite {
			return fmt.Errorf("engine: param handle %d already bound to module %d param %d",
				existing.ID, moduleID, paramID)
		}
		r.clearTarget(existing)
		existing.ModuleID = NoID
		existing.ParamID = -1
	}
	r.rebind(h, moduleID, paramID, false)
	return nil
}

// rebind points h at (moduleID, paramID), clearing h's previous target
// entry first unless skipOldClear (used only from Add, where h has no
// previous target yet).
func (r *HandleRegistry) rebind(h *ParamHandle, moduleID ID, paramID int, skipOldClear bool) {
	if !skipOldClear {
		r.clearTarget(h)
	}
	h.ModuleID = moduleID
	h.ParamID = paramID
	r.byTarget.Store(handleKey{moduleID, paramID}, h)
}

func (r *HandleRegistry) clearTarget(h *ParamHandle) {
	if h.ModuleID == NoID {
		return
	}
	key := handleKey{h.ModuleID, h.ParamID}
	if cur, ok := r.byTarget.Load(key); ok && cur.ID == h.ID {
		r.byTarget.Delete(key)
	}
}

// Handles are keyed by (moduleId, paramId), not by a pointer to the
// Module: a handle referencing a removed module is simply inert because
// Graph.GetModule(moduleId) fails, and it "reattaches" automatically the
// moment a module with the same id is re-added, with no action needed
// here (spec.md §4.3).

// Len returns the number of registered handles.
func (r *HandleRegistry) Len() int {
	return r.byID.Size()
}
