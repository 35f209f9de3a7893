package engine

import (
	"encoding/json"
	"sort"
)

// GraphFormatVersion is the current generation of the graph JSON document
// (spec.md §6).
const GraphFormatVersion = 1

// ParamDocument is one parameter entry in a ModuleDocument.
type ParamDocument struct {
	ID    int     `json:"id"`
	Value float64 `json:"value"`
}

// ModuleDocument is the JSON shape of one registered module (spec.md §6,
// §4.9): identity fields needed to reconstruct the concrete module type,
// its current parameter values, bypass state, and its own opaque data.
type ModuleDocument struct {
	ID       ID              `json:"id"`
	Plugin   string          `json:"plugin"`
	Model    string          `json:"model"`
	Version  string          `json:"version"`
	Params   []ParamDocument `json:"params"`
	Bypassed bool            `json:"bypassed,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// CableDocument is the JSON shape of one registered cable (spec.md §6).
type CableDocument struct {
	ID             ID     `json:"id"`
	OutputModuleID ID     `json:"outputModuleId"`
	OutputPortID   int    `json:"outputPortId"`
	InputModuleID  ID     `json:"inputModuleId"`
	InputPortID    int    `json:"inputPortId"`
	Color          string `json:"color,omitempty"`
}

// GraphDocument is the top-level graph JSON document (spec.md §6).
type GraphDocument struct {
	Version        int              `json:"version"`
	Modules        []ModuleDocument `json:"modules"`
	Cables         []CableDocument  `json:"cables"`
	MasterModuleID *ID              `json:"masterModuleId,omitempty"`
}

// ModuleFactory constructs a fresh, unconfigured Module instance for a
// given (plugin, model) pair, so FromJSON can reconstruct the concrete
// module type named in a ModuleDocument before calling FromJSON on it.
// There is no teacher analogue for a factory registry (a VST3 host
// resolves plugin/model via its own catalog, out of scope per spec.md
// §1's "fuzzy-search database used for plugin discovery"); this is the
// minimal in-process substitute a caller must register against.
type ModuleFactory func() Module

// RegisterModuleFactory associates a (plugin, model) pair with a
// constructor used during FromJSON. Not part of the graph's topology
// lock: factories are registered once at startup, before any
// deserialization happens.
func (g *Graph) RegisterModuleFactory(plugin, model string, factory ModuleFactory) {
	g.factoriesMu.Lock()
	defer g.factoriesMu.Unlock()
	if g.factories == nil {
		g.factories = make(map[factoryKey]ModuleFactory)
	}
	g.factories[factoryKey{plugin, model}] = factory
}

type factoryKey struct{ plugin, model string }

func (g *Graph) lookupFactory(plugin, model string) (ModuleFactory, bool) {
	g.factoriesMu.Lock()
	defer g.factoriesMu.Unlock()
	f, ok := g.factories[factoryKey{plugin, model}]
	return f, ok
}

// moduleToJSONLocked builds one ModuleDocument for slot id. Caller must
// already hold the read lock and the step mutex.
func (g *Graph) moduleToJSONLocked(id ID, s *moduleSlot) (ModuleDocument, error) {
	doc := ModuleDocument{ID: id, Bypassed: s.bypassed}
	if ident, ok := s.module.(Identity); ok {
		doc.Plugin = ident.PluginID()
		doc.Model = ident.ModelName()
		doc.Version = ident.ModelVersion()
	}
	doc.Params = make([]ParamDocument, len(s.params))
	for i, p := range s.params {
		doc.Params[i] = ParamDocument{ID: i, Value: p.Value()}
	}
	data, err := s.module.ToJSON()
	if err != nil {
		return ModuleDocument{}, wrap(err, "module %d ToJSON", id)
	}
	doc.Data = data
	return doc, nil
}

// ModuleToJSON serializes a single module by id (spec.md §4.7's
// "moduleToJson"). Reader-locked, and additionally quiesces stepMu so
// ToJSON never races that module's own Process (spec.md §4.9).
func (g *Graph) ModuleToJSON(id ID) (ModuleDocument, error) {
	g.lock.SLock()
	defer g.lock.SUnlock()
	g.stepMu.Lock()
	defer g.stepMu.Unlock()

	s, ok := g.modules[id]
	if !ok {
		return ModuleDocument{}, wrap(ErrModuleNotFound, "module %d", id)
	}
	return g.moduleToJSONLocked(id, s)
}

// ToJSON serializes the entire graph (spec.md §4.9, §6). Module and cable
// entries are sorted by id so repeated calls on an unchanged graph produce
// byte-identical output (spec.md §8 invariant 7: "toJson -> fromJson ->
// toJson is a fixed point").
func (g *Graph) ToJSON() ([]byte, error) {
	g.lock.SLock()
	defer g.lock.SUnlock()
	g.stepMu.Lock()
	defer g.stepMu.Unlock()

	doc := GraphDocument{Version: GraphFormatVersion}

	ids := make([]ID, 0, len(g.modules))
	for id := range g.modules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		md, err := g.moduleToJSONLocked(id, g.modules[id])
		if err != nil {
			return nil, err
		}
		doc.Modules = append(doc.Modules, md)
	}

	cids := make([]ID, 0, len(g.cables))
	for id := range g.cables {
		cids = append(cids, id)
	}
	sort.Slice(cids, func(i, j int) bool { return cids[i] < cids[j] })
	for _, id := range cids {
		c := g.cables[id]
		doc.Cables = append(doc.Cables, CableDocument{
			ID: c.ID, OutputModuleID: c.OutputModuleID, OutputPortID: c.OutputPortID,
			InputModuleID: c.InputModuleID, InputPortID: c.InputPortID, Color: c.Color,
		})
	}

	if m := g.MasterModuleID(); m != NoID {
		mid := m
		doc.MasterModuleID = &mid
	}

	return json.Marshal(doc)
}

// FromJSON replaces the entire graph contents with what's described by
// data (spec.md §4.9): "Deserialization acquires the writer lock, calls
// clear, then reconstructs modules and cables in declared order."
// On malformed JSON, the graph is left empty and consistent, and the
// error is returned (spec.md §7: "fromJson clears the partially loaded
// graph and signals").
func (g *Graph) FromJSON(data []byte) error {
	var doc GraphDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		g.Clear()
		return wrap(ErrMalformedJSON, "%v", err)
	}

	g.lock.XLock()
	defer g.lock.XUnlock()

	for id, slot := range g.modules {
		slot.module.OnEvent(EventRemove, id)
	}
	g.modules = make(map[ID]*moduleSlot)
	g.cables = make(map[ID]*Cable)
	g.masterID.Store(int64(NoID))

	for _, md := range doc.Modules {
		factory, ok := g.lookupFactory(md.Plugin, md.Model)
		if !ok {
			g.modules = make(map[ID]*moduleSlot)
			g.cables = make(map[ID]*Cable)
			return wrap(ErrMalformedJSON, "no factory registered for plugin=%q model=%q", md.Plugin, md.Model)
		}
		m := factory()
		slot := newModuleSlot(m)
		slot.id = md.ID
		for _, p := range slot.params {
			p.SetTimeConstant(g.SampleRate())
		}
		for _, pd := range md.Params {
			if pd.ID >= 0 && pd.ID < len(slot.params) {
				slot.params[pd.ID].SetValue(pd.Value)
			}
		}
		slot.bypassed = md.Bypassed
		if len(md.Data) > 0 {
			if err := m.FromJSON(md.Data); err != nil {
				g.modules = make(map[ID]*moduleSlot)
				g.cables = make(map[ID]*Cable)
				return wrap(err, "module %d FromJSON", md.ID)
			}
		}
		g.moduleIDs.observe(md.ID)
		g.modules[md.ID] = slot
		m.OnEvent(EventAdd, md.ID)
	}

	for _, cd := range doc.Cables {
		outSlot, ok := g.modules[cd.OutputModuleID]
		if !ok {
			continue
		}
		inSlot, ok := g.modules[cd.InputModuleID]
		if !ok {
			continue
		}
		if cd.OutputPortID < 0 || cd.OutputPortID >= len(outSlot.outputs) {
			continue
		}
		if cd.InputPortID < 0 || cd.InputPortID >= len(inSlot.inputs) {
			continue
		}
		g.cableIDs.observe(cd.ID)
		g.cables[cd.ID] = &Cable{
			ID: cd.ID, OutputModuleID: cd.OutputModuleID, OutputPortID: cd.OutputPortID,
			InputModuleID: cd.InputModuleID, InputPortID: cd.InputPortID, Color: cd.Color,
		}
		inSlot.inputs[cd.InputPortID].connect(&outSlot.outputs[cd.OutputPortID])
	}

	if doc.MasterModuleID != nil {
		if _, ok := g.modules[*doc.MasterModuleID]; ok {
			g.masterID.Store(int64(*doc.MasterModuleID))
		}
	}

	return nil
}

// PrepareSave notifies every module of an impending save (EventSave) so
// modules that only compute their serialized state lazily can refresh it
// before ToJSON reads it (spec.md §6). Reader-locked, and additionally
// quiesces stepMu so EventSave never runs concurrently with Process.
func (g *Graph) PrepareSave() {
	g.lock.SLock()
	defer g.lock.SUnlock()
	g.stepMu.Lock()
	defer g.stepMu.Unlock()
	for id, s := range g.modules {
		s.module.OnEvent(EventSave, id)
	}
}
