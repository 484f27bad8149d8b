package reconcile

import (
	"fmt"
	"sort"
	"strings"
)

// MapResult is the outcome of mapping one raw row onto destination fields.
// Attributes holds only successfully validated, non-empty values; failed
// mandatory fields land in Errors, failed optional fields in Conflicts, and
// in both cases the field is absent from Attributes.
type MapResult struct {
	Attributes []Attribute
	Errors     []Issue
	Conflicts  []Issue
}

// flip inverts a translation table, normalizing keys for lookup by source
// label (case- and whitespace-insensitive).
func flip(table map[string]string) map[string]string {
	out := make(map[string]string, len(table))
	for dest, src := range table {
		out[normalizeLabel(src)] = dest
	}
	return out
}

// lookupTables carries the flipped option and org-unit translation tables.
// Flipping is linear in the table size, so the orchestrator builds one set
// per run and shares it across every group and stage.
type lookupTables struct {
	options  map[string]string
	orgUnits map[string]string
}

func newLookupTables(optionMap, orgUnitMap map[string]string) lookupTables {
	return lookupTables{options: flip(optionMap), orgUnits: flip(orgUnitMap)}
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// MapFields maps the configured source columns of one row onto destination
// field names, applying per-field type validation and option-code
// translation. Mappings for fields absent from the catalog are dropped
// silently; option-set mismatches are always soft conflicts (recoverable by
// remapping) regardless of the mandatory flag; any other validation failure
// on a mandatory field is a hard error.
func MapFields(row Row, mappings map[string]FieldMapping, catalog map[string]FieldDef, optionMap, orgUnitMap map[string]string, uniqueKey string) MapResult {
	return mapFields(row, mappings, catalog, newLookupTables(optionMap, orgUnitMap), uniqueKey)
}

func mapFields(row Row, mappings map[string]FieldMapping, catalog map[string]FieldDef, tables lookupTables, uniqueKey string) MapResult {
	var res MapResult

	// Deterministic field order for stable output and issue lists.
	fields := make([]string, 0, len(mappings))
	for id := range mappings {
		fields = append(fields, id)
	}
	sort.Strings(fields)

	for _, field := range fields {
		mapping := mappings[field]
		def, known := catalog[field]
		if !known {
			// Unknown mapped columns are dropped, not errored.
			continue
		}

		raw := strings.TrimSpace(row[mapping.Column])
		if mapping.Specific {
			raw = mapping.Literal
		}

		valueType := def.ValueType
		if valueType == "" {
			valueType = mapping.ValueType
		}

		if raw == "" {
			if mapping.Mandatory {
				res.Errors = append(res.Errors, Issue{
					Field:     field,
					Value:     raw,
					ValueType: valueType,
					Message:   "missing mandatory value",
					UniqueKey: uniqueKey,
				})
			}
			continue
		}

		value := raw
		if def.OptionSet {
			translated, ok := translateOption(raw, def.Options, tables.options)
			if !ok {
				res.Conflicts = append(res.Conflicts, Issue{
					Field:     field,
					Value:     raw,
					ValueType: valueType,
					Message:   fmt.Sprintf("value %q matches no option of %s", raw, field),
					UniqueKey: uniqueKey,
				})
				continue
			}
			value = translated
		} else if err := Validate(valueType, raw); err != nil {
			issue := Issue{
				Field:     field,
				Value:     raw,
				ValueType: valueType,
				Message:   err.Error(),
				UniqueKey: uniqueKey,
			}
			if mapping.Mandatory {
				res.Errors = append(res.Errors, issue)
			} else {
				res.Conflicts = append(res.Conflicts, issue)
			}
			continue
		}

		if mapping.IsOrgUnit {
			mapped, ok := tables.orgUnits[normalizeLabel(value)]
			if !ok {
				// No equivalent org unit mapping: the field is dropped, not
				// errored, since the record itself may still be importable.
				continue
			}
			value = mapped
		}

		res.Attributes = append(res.Attributes, Attribute{
			Attribute: field,
			Value:     value,
			ValueType: valueType,
		})
	}

	return res
}

// translateOption resolves a raw source value against an option set. The
// source label is first run through the flipped option table; the resulting
// candidate (or the raw value itself) must then match one of the field's
// known option codes, ids, or values.
func translateOption(raw string, options []Option, flippedOptions map[string]string) (string, bool) {
	candidate := raw
	if mapped, ok := flippedOptions[normalizeLabel(raw)]; ok {
		candidate = mapped
	}
	for _, opt := range options {
		if candidate == opt.Code || candidate == opt.ID || (opt.Value != "" && candidate == opt.Value) {
			return opt.Code, true
		}
	}
	return "", false
}

// MapDataValues runs the field mapper over a stage's data-element mappings
// and reshapes the result as event data values.
func MapDataValues(row Row, stage StageConfig, optionMap, orgUnitMap map[string]string, uniqueKey string) ([]DataValue, []Issue, []Issue) {
	return mapDataValues(row, stage, newLookupTables(optionMap, orgUnitMap), uniqueKey)
}

func mapDataValues(row Row, stage StageConfig, tables lookupTables, uniqueKey string) ([]DataValue, []Issue, []Issue) {
	res := mapFields(row, stage.DataElements, stage.Definitions, tables, uniqueKey)
	values := make([]DataValue, 0, len(res.Attributes))
	for _, a := range res.Attributes {
		values = append(values, DataValue{DataElement: a.Attribute, Value: a.Value})
	}
	return values, res.Errors, res.Conflicts
}
