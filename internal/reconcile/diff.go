package reconcile

import "sort"

// StructuralDiff returns only the entries of src whose value differs from
// dest's value for the same key, or that are absent from dest. It is a
// one-directional "what changed going from dest to src" view: keys present
// in dest but absent from src are neither included nor considered removed.
// Callers merge as dest ∪ diff, so values that simply stopped being supplied
// survive untouched.
func StructuralDiff(dest, src map[string]string) map[string]string {
	diff := make(map[string]string)
	for k, v := range src {
		if old, ok := dest[k]; !ok || old != v {
			diff[k] = v
		}
	}
	return diff
}

// MergeValues overlays diff on dest, returning a fresh map. Neither input is
// mutated.
func MergeValues(dest, diff map[string]string) map[string]string {
	merged := make(map[string]string, len(dest)+len(diff))
	for k, v := range dest {
		merged[k] = v
	}
	for k, v := range diff {
		merged[k] = v
	}
	return merged
}

// attributeMap flattens an attribute list into a name→value map for change
// detection. Later duplicates win, matching destination-side semantics where
// an attribute name holds a single value.
func attributeMap(attrs []Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Attribute] = a.Value
	}
	return m
}

// dataValueMap flattens an event's data values into a dataElement→value map.
// Identity fields (event id, event date, owning enrollment) never appear
// here, so diffs over this map measure only real value changes.
func dataValueMap(values []DataValue) map[string]string {
	m := make(map[string]string, len(values))
	for _, dv := range values {
		m[dv.DataElement] = dv.Value
	}
	return m
}

// attributeList converts a merged value map back to a sorted attribute list,
// attaching the catalog value type where known. Only catalog-known fields
// are retained.
func attributeList(values map[string]string, catalog map[string]FieldDef) []Attribute {
	ids := make([]string, 0, len(values))
	for id := range values {
		if _, known := catalog[id]; known {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	attrs := make([]Attribute, 0, len(ids))
	for _, id := range ids {
		attrs = append(attrs, Attribute{
			Attribute: id,
			Value:     values[id],
			ValueType: catalog[id].ValueType,
		})
	}
	return attrs
}

// dataValueList converts a merged dataElement→value map to a sorted list.
func dataValueList(values map[string]string) []DataValue {
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]DataValue, 0, len(ids))
	for _, id := range ids {
		out = append(out, DataValue{DataElement: id, Value: values[id]})
	}
	return out
}
