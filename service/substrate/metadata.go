package substrate

import (
	"sort"
)

// MetadataSnapshot is a versioned view of the calls a runtime exposes.
// Lookups are exact: the names are passed to the call encoder as-is, so
// Balances.Transfer is not Balances.transfer.
type MetadataSnapshot struct {
	SpecVersion uint32
	calls       map[string]map[string]struct{}
}

// NewMetadataSnapshot builds a snapshot from module -> function names.
func NewMetadataSnapshot(specVersion uint32, calls map[string][]string) *MetadataSnapshot {
	m := &MetadataSnapshot{
		SpecVersion: specVersion,
		calls:       make(map[string]map[string]struct{}, len(calls)),
	}
	for module, fns := range calls {
		set := make(map[string]struct{}, len(fns))
		for _, fn := range fns {
			set[fn] = struct{}{}
		}
		m.calls[module] = set
	}
	return m
}

// HasModule reports whether the runtime has a pallet with calls named module.
func (m *MetadataSnapshot) HasModule(module string) bool {
	if m == nil {
		return false
	}
	_, ok := m.calls[module]
	return ok
}

// HasCall reports whether module.function is a callable in this runtime.
func (m *MetadataSnapshot) HasCall(module, function string) bool {
	if m == nil {
		return false
	}
	fns, ok := m.calls[module]
	if !ok {
		return false
	}
	_, ok = fns[function]
	return ok
}

// Calls returns the sorted function names of module.
func (m *MetadataSnapshot) Calls(module string) []string {
	if m == nil {
		return nil
	}
	fns := m.calls[module]
	out := make([]string, 0, len(fns))
	for fn := range fns {
		out = append(out, fn)
	}
	sort.Strings(out)
	return out
}
