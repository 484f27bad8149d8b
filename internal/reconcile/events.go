package reconcile

import "sort"

// StageResult collects the per-stage outcome of the event state machine.
type StageResult struct {
	Events       []Event
	EventUpdates []Event
	Errors       []Issue
	Conflicts    []Issue
}

// eventKeyColumns resolves the uniqueness-key columns for event grouping:
// the explicit event-id column overrides everything; otherwise the key is
// the union of unique-marked data-element columns and, if the stage has
// unique event dates enabled, the event-date column. With neither, the
// event date alone distinguishes events.
func eventKeyColumns(stage StageConfig) []KeyColumn {
	cols := uniqueKeyColumns(stage.DataElements)
	if stage.UniqueEventDate && stage.EventDateColumn != "" {
		cols = append(cols, KeyColumn{Column: stage.EventDateColumn, IsDate: true})
	}
	if len(cols) == 0 && stage.EventDateColumn != "" {
		cols = append(cols, KeyColumn{Column: stage.EventDateColumn, IsDate: true})
	}
	return cols
}

// ProcessStage reconciles one stage's worth of current rows against the
// previously seen events of the same stage and enrollment. previous is keyed
// by the same uniqueness key this function derives for current rows, so a
// hit means "the same event re-imported".
//
// Per uniqueness-key group, the outcome is one of: a create (no previous
// event in the group), a value-level update (previous event in the group
// owned by the same enrollment and a non-empty data-value diff), nothing
// (diff empty, or previous event owned by another enrollment), or an empty
// placeholder event (stage configured for it, no data values resolved, no
// previous event in the stage at all).
//
// For a non-repeatable stage only the first group is processed, and any
// previous event of the stage is the candidate target regardless of which
// group key matched it.
func ProcessStage(rows []Row, stage StageConfig, previous map[string]Event, enrollmentID, entityID, program, orgUnit, uniqueKey string, optionMap, orgUnitMap map[string]string, gen func() string) StageResult {
	return processStage(rows, stage, previous, enrollmentID, entityID, program, orgUnit, uniqueKey, newLookupTables(optionMap, orgUnitMap), gen)
}

func processStage(rows []Row, stage StageConfig, previous map[string]Event, enrollmentID, entityID, program, orgUnit, uniqueKey string, tables lookupTables, gen func() string) StageResult {
	var res StageResult

	order, groups := GroupRows(rows, stage.EventIDColumn, eventKeyColumns(stage), gen)
	if !stage.Repeatable && len(order) > 1 {
		order = order[:1]
	}

	for _, key := range order {
		group := groups[key]
		rep := RepresentativeRow(group, stage.EventDateColumn)

		values, errs, conflicts := mapDataValues(rep, stage, tables, uniqueKey)
		res.Conflicts = append(res.Conflicts, conflicts...)
		if len(errs) > 0 {
			res.Errors = append(res.Errors, errs...)
			continue
		}

		eventDate := ""
		if stage.EventDateColumn != "" {
			if _, ok := ParseDay(rep[stage.EventDateColumn]); ok {
				eventDate = NormalizeDate(rep[stage.EventDateColumn])
			}
		}
		if eventDate == "" {
			res.Errors = append(res.Errors, Issue{
				Field:     stage.EventDateColumn,
				Value:     rep[stage.EventDateColumn],
				ValueType: TypeDate,
				Message:   "missing or invalid event date",
				UniqueKey: uniqueKey,
			})
			continue
		}

		prev, matched := previous[key]
		if !stage.Repeatable && !matched && len(previous) > 0 {
			prev, matched = anyPreviousEvent(previous)
		}

		if matched {
			// Candidate must belong to the same enrollment; otherwise the
			// event is somebody else's and nothing is emitted.
			if enrollmentID != "" && prev.Enrollment != "" && prev.Enrollment != enrollmentID {
				continue
			}
			if !stage.UpdateEvents {
				continue
			}
			diff := StructuralDiff(dataValueMap(prev.DataValues), dataValueMap(values))
			if len(diff) == 0 {
				continue
			}
			merged := MergeValues(dataValueMap(prev.DataValues), diff)
			update := Event{
				ID:         prev.ID,
				Enrollment: prev.Enrollment,
				Entity:     prev.Entity,
				Program:    program,
				Stage:      stage.Stage,
				OrgUnit:    orgUnit,
				EventDate:  prev.EventDate,
				Status:     prev.Status,
				DataValues: dataValueList(merged),
			}
			if update.EventDate == "" {
				update.EventDate = eventDate
			}
			res.EventUpdates = append(res.EventUpdates, update)
			continue
		}

		switch {
		case len(values) > 0 && stage.CreateEvents:
			res.Events = append(res.Events, newStageEvent(rep, stage, values, eventDate, enrollmentID, entityID, program, orgUnit, gen))
		case len(values) == 0 && stage.CreateEmptyEvents && len(previous) == 0:
			res.Events = append(res.Events, newStageEvent(rep, stage, nil, eventDate, enrollmentID, entityID, program, orgUnit, gen))
		}
	}

	return res
}

// newStageEvent assembles a create-action event from one representative row.
func newStageEvent(rep Row, stage StageConfig, values []DataValue, eventDate, enrollmentID, entityID, program, orgUnit string, gen func() string) Event {
	id := ""
	if stage.EventIDColumn != "" {
		id = rep[stage.EventIDColumn]
	}
	if id == "" {
		id = gen()
	}

	status := EventStatusActive
	if stage.CompleteEvents {
		status = EventStatusCompleted
	}

	dueDate := eventDate
	if stage.DueDateColumn != "" {
		if _, ok := ParseDay(rep[stage.DueDateColumn]); ok {
			dueDate = NormalizeDate(rep[stage.DueDateColumn])
		}
	}

	ev := Event{
		ID:         id,
		Enrollment: enrollmentID,
		Entity:     entityID,
		Program:    program,
		Stage:      stage.Stage,
		OrgUnit:    orgUnit,
		EventDate:  eventDate,
		DueDate:    dueDate,
		Status:     status,
		DataValues: values,
	}
	if ev.DataValues == nil {
		ev.DataValues = []DataValue{}
	}
	if stage.GeometryColumn != "" {
		ev.Geometry = rep[stage.GeometryColumn]
	}
	return ev
}

// anyPreviousEvent picks a deterministic candidate from the stage's previous
// events: the one under the lexically smallest uniqueness key.
func anyPreviousEvent(previous map[string]Event) (Event, bool) {
	if len(previous) == 0 {
		return Event{}, false
	}
	keys := make([]string, 0, len(previous))
	for k := range previous {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return previous[keys[0]], true
}
