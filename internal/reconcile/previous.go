package reconcile

import (
	"sort"
	"strings"
)

// PreviousEnrollment is one destination-side enrollment as supplied by the
// external fetch collaborator, with its nested events.
type PreviousEnrollment struct {
	ID             string      `json:"enrollment"`
	Program        string      `json:"program"`
	OrgUnit        string      `json:"orgUnit"`
	EnrollmentDate string      `json:"enrollmentDate"`
	IncidentDate   string      `json:"incidentDate,omitempty"`
	Status         string      `json:"status,omitempty"`
	Attributes     []Attribute `json:"attributes,omitempty"`
	Events         []Event     `json:"events,omitempty"`
}

// PreviousEntity is one destination-side tracked entity with its nested
// enrollments, events, and attributes.
type PreviousEntity struct {
	ID                string               `json:"trackedEntityInstance"`
	TrackedEntityType string               `json:"trackedEntityType,omitempty"`
	OrgUnit           string               `json:"orgUnit"`
	Attributes        []Attribute          `json:"attributes,omitempty"`
	Enrollments       []PreviousEnrollment `json:"enrollments,omitempty"`
}

// PreviousState holds the lookup maps the orchestrator consults, all keyed
// by the same composite-key function applied to current rows, so a current
// group's key lands on the matching previous record directly. The maps are
// read-only during a run.
type PreviousState struct {
	// EntityIDs maps composite key to the previous entity id.
	EntityIDs map[string]string
	// Attributes maps composite key to the previous attribute set,
	// de-duplicated by attribute name with enrollment-scoped attributes
	// merged in.
	Attributes map[string][]Attribute
	// OrgUnits maps composite key to the previous org unit.
	OrgUnits map[string]string
	// Enrollments maps composite key to previous enrollments of the
	// configured program only.
	Enrollments map[string][]PreviousEnrollment
	// Events maps composite key → stage → event uniqueness key → event, for
	// configured stages only.
	Events map[string]map[string]map[string]Event
}

func newPreviousState() *PreviousState {
	return &PreviousState{
		EntityIDs:   make(map[string]string),
		Attributes:  make(map[string][]Attribute),
		OrgUnits:    make(map[string]string),
		Enrollments: make(map[string][]PreviousEnrollment),
		Events:      make(map[string]map[string]map[string]Event),
	}
}

// IndexPrevious builds the lookup maps from a nested destination extract in
// one pass. Entities with zero enrollments contribute only to the id,
// attribute, and org-unit maps; enrollments with zero events are fine too.
func IndexPrevious(entities []PreviousEntity, cfg *ProgramConfig) *PreviousState {
	state := newPreviousState()
	stages := stagesByID(cfg)

	for _, entity := range entities {
		key := previousEntityKey(entity, cfg)
		if key == "" {
			continue
		}

		state.EntityIDs[key] = entity.ID
		state.OrgUnits[key] = entity.OrgUnit

		// Fresh slice: appending enrollment attributes must not write into
		// the caller's backing array.
		attrs := append(make([]Attribute, 0, len(entity.Attributes)), entity.Attributes...)
		for _, enr := range entity.Enrollments {
			if cfg.Program != "" && enr.Program != "" && enr.Program != cfg.Program {
				continue
			}
			attrs = append(attrs, enr.Attributes...)
			state.Enrollments[key] = append(state.Enrollments[key], enr)

			for _, ev := range enr.Events {
				stage, configured := stages[ev.Stage]
				if !configured {
					continue
				}
				indexEvent(state, key, stage, ev)
			}
		}
		state.Attributes[key] = dedupeAttributes(attrs)
	}

	return state
}

// IndexPreviousEvents builds the lookup maps from a flat previous-events
// extract (non-registration sources). With no id column and no unique
// attribute columns configured there is nothing to correlate entities by, so
// all events share one bucket under the empty key; the orchestrator falls
// back to it.
func IndexPreviousEvents(events []Event, cfg *ProgramConfig) *PreviousState {
	state := newPreviousState()
	stages := stagesByID(cfg)
	uniqueCols := uniqueKeyColumns(cfg.Attributes)

	for _, ev := range events {
		stage, configured := stages[ev.Stage]
		if !configured {
			continue
		}

		key := ""
		if cfg.EntityIDColumn != "" || len(uniqueCols) > 0 {
			key = GroupKey(pseudoRow(ev, stage), cfg.EntityIDColumn, uniqueCols, func() string { return "" })
		}

		if state.OrgUnits[key] == "" {
			state.OrgUnits[key] = ev.OrgUnit
		}
		indexEvent(state, key, stage, ev)
	}

	return state
}

// indexEvent files one previous event under its stage and uniqueness key.
// The first event seen for a key wins; re-fetched duplicates do not clobber.
func indexEvent(state *PreviousState, entityKey string, stage StageConfig, ev Event) {
	byStage := state.Events[entityKey]
	if byStage == nil {
		byStage = make(map[string]map[string]Event)
		state.Events[entityKey] = byStage
	}
	byKey := byStage[stage.Stage]
	if byKey == nil {
		byKey = make(map[string]Event)
		byStage[stage.Stage] = byKey
	}
	key := previousEventKey(ev, stage)
	if _, seen := byKey[key]; !seen {
		byKey[key] = ev
	}
}

// previousEntityKey computes, for a destination-side entity, the same
// composite key the orchestrator derives for current rows: the entity id
// when an explicit id column is configured, else the sorted concatenation of
// the unique-mapped attributes' stored values.
func previousEntityKey(entity PreviousEntity, cfg *ProgramConfig) string {
	if cfg.EntityIDColumn != "" {
		return entity.ID
	}

	values := attributeMap(entity.Attributes)
	for _, enr := range entity.Enrollments {
		for _, a := range enr.Attributes {
			if _, ok := values[a.Attribute]; !ok {
				values[a.Attribute] = a.Value
			}
		}
	}

	ids := make([]string, 0, len(cfg.Attributes))
	for id, m := range cfg.Attributes {
		if m.Unique && !m.Specific {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)

	vals := make([]string, 0, len(ids))
	for _, id := range ids {
		v := strings.TrimSpace(values[id])
		if cfg.Attributes[id].ValueType.isDate() {
			v = NormalizeDate(v)
		}
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return strings.Join(vals, "")
}

// previousEventKey computes the uniqueness key of a stored event the same
// way ProcessStage groups current rows: explicit event id, else the sorted
// values of the unique-marked data elements plus (when enabled) the
// normalized event date.
func previousEventKey(ev Event, stage StageConfig) string {
	if stage.EventIDColumn != "" {
		return ev.ID
	}

	values := dataValueMap(ev.DataValues)

	ids := make([]string, 0, len(stage.DataElements))
	for id, m := range stage.DataElements {
		if m.Unique && !m.Specific {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	vals := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		v := strings.TrimSpace(values[id])
		if stage.DataElements[id].ValueType.isDate() {
			v = NormalizeDate(v)
		}
		vals = append(vals, v)
	}
	if stage.UniqueEventDate {
		vals = append(vals, NormalizeDate(ev.EventDate))
	}
	if len(vals) == 0 {
		// Same fallback as current-row grouping: the event date alone.
		if ev.EventDate != "" {
			return NormalizeDate(ev.EventDate)
		}
		return ev.ID
	}
	sort.Strings(vals)
	return strings.Join(vals, "")
}

// pseudoRow reprojects a stored event back into source-row shape so the
// entity composite-key function can run over it in non-registration mode.
func pseudoRow(ev Event, stage StageConfig) Row {
	values := dataValueMap(ev.DataValues)
	row := make(Row, len(stage.DataElements)+1)
	for id, m := range stage.DataElements {
		if m.Column == "" {
			continue
		}
		if v, ok := values[id]; ok {
			row[m.Column] = v
		}
	}
	if stage.EventDateColumn != "" {
		row[stage.EventDateColumn] = ev.EventDate
	}
	if stage.EventIDColumn != "" {
		row[stage.EventIDColumn] = ev.ID
	}
	return row
}

// stagesByID indexes the configured stages for lookup while indexing events.
func stagesByID(cfg *ProgramConfig) map[string]StageConfig {
	m := make(map[string]StageConfig, len(cfg.Stages))
	for _, s := range cfg.Stages {
		m[s.Stage] = s
	}
	return m
}

// dedupeAttributes keeps the first occurrence per attribute name.
func dedupeAttributes(attrs []Attribute) []Attribute {
	seen := make(map[string]bool, len(attrs))
	out := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		if seen[a.Attribute] {
			continue
		}
		seen[a.Attribute] = true
		out = append(out, a)
	}
	return out
}
