package reconcile

import (
	"sort"
	"strings"
	"time"
)

// Process reconciles a current extract against a previous-state snapshot and
// returns the resulting diff bundle. rows must already be flattened by a
// source-specific collaborator; prev is built by IndexPrevious or
// IndexPreviousEvents and is never mutated, so one snapshot can serve
// repeated Process calls over successive pages.
func Process(rows []Row, prev *PreviousState, cfg *ProgramConfig) *ResultBundle {
	if prev == nil {
		prev = newPreviousState()
	}
	gen := cfg.idGen()
	tables := newLookupTables(cfg.OptionMapping, cfg.OrgUnitMapping)

	order, groups := GroupRows(rows, cfg.EntityIDColumn, uniqueKeyColumns(cfg.Attributes), gen)

	bundle := &ResultBundle{}
	for _, key := range order {
		bundle.merge(processGroup(key, groups[key], prev, cfg, tables, gen))
	}

	bundle.Errors = filterIssues(bundle.Errors)
	bundle.Conflicts = filterIssues(bundle.Conflicts)
	return bundle
}

// processGroup runs the full per-unique-entity pipeline for one composite-key
// group and returns that group's slice of the bundle. Groups carry no data
// dependencies on each other.
func processGroup(key string, group []Row, prev *PreviousState, cfg *ProgramConfig, tables lookupTables, gen func() string) ResultBundle {
	var out ResultBundle

	prevID := prev.EntityIDs[key]
	prevAttrs := prev.Attributes[key]
	prevOrgUnit := prev.OrgUnits[key]
	if !cfg.Registration && prevOrgUnit == "" {
		// Correlation-less event sources index previous state under the
		// empty key; the org-unit lookup falls back to that bucket the same
		// way the event lookup does.
		prevOrgUnit = prev.OrgUnits[""]
	}
	prevEnrollments := prev.Enrollments[key]

	rep := RepresentativeRow(group, representativeDateColumn(cfg))
	orgUnit := resolveOrgUnit(rep, prevOrgUnit, cfg, tables)

	if !cfg.Registration {
		// Event-only sources: no entity or enrollment pipeline. Events are
		// processed in a detached mode with no owning ids attached.
		if orgUnit == "" {
			out.Errors = append(out.Errors, Issue{
				Field:     cfg.OrgUnitColumn,
				Value:     rep[cfg.OrgUnitColumn],
				Message:   "no organisation unit resolved for event group",
				UniqueKey: key,
			})
			return out
		}
		for _, stage := range cfg.Stages {
			res := processStage(group, stage, previousStageEvents(prev, key, stage, cfg), "", "", cfg.Program, orgUnit, key, tables, gen)
			out.Events = append(out.Events, res.Events...)
			out.EventUpdates = append(out.EventUpdates, res.EventUpdates...)
			out.Errors = append(out.Errors, res.Errors...)
			out.Conflicts = append(out.Conflicts, res.Conflicts...)
		}
		return out
	}

	mapped := mapFields(rep, cfg.Attributes, cfg.Catalog, tables, key)
	out.Errors = append(out.Errors, mapped.Errors...)
	out.Conflicts = append(out.Conflicts, mapped.Conflicts...)
	blocked := len(mapped.Errors) > 0

	entityID := prevID
	if len(prevAttrs) > 0 {
		diff := StructuralDiff(attributeMap(prevAttrs), attributeMap(mapped.Attributes))
		if cfg.UpdateEntities && len(diff) > 0 && !blocked {
			// Updates carry the full catalog-known attribute set, not just
			// the changed entries, merged previous-first.
			merged := MergeValues(attributeMap(prevAttrs), diff)
			update := Entity{
				ID:                prevID,
				TrackedEntityType: cfg.TrackedEntityType,
				OrgUnit:           orgUnit,
				Attributes:        attributeList(merged, cfg.Catalog),
			}
			if update.OrgUnit == "" {
				update.OrgUnit = prevOrgUnit
			}
			if cfg.GeometryColumn != "" {
				update.Geometry = rep[cfg.GeometryColumn]
			}
			out.EntityUpdates = append(out.EntityUpdates, update)
		}
	} else if cfg.CreateEntities && !blocked {
		if orgUnit == "" {
			out.Errors = append(out.Errors, Issue{
				Field:     cfg.OrgUnitColumn,
				Value:     rep[cfg.OrgUnitColumn],
				Message:   "missing equivalent mapping for organisation unit",
				UniqueKey: key,
			})
		} else {
			entityID = strings.TrimSpace(rep[cfg.EntityIDColumn])
			if entityID == "" {
				entityID = gen()
			}
			entity := Entity{
				ID:                entityID,
				TrackedEntityType: cfg.TrackedEntityType,
				OrgUnit:           orgUnit,
				Attributes:        mapped.Attributes,
			}
			if entity.Attributes == nil {
				entity.Attributes = []Attribute{}
			}
			if cfg.GeometryColumn != "" {
				entity.Geometry = rep[cfg.GeometryColumn]
			}
			out.Entities = append(out.Entities, entity)
		}
	}

	if entityID == "" {
		// Neither a previous entity nor a successful creation: nothing to
		// enroll or attach events to.
		return out
	}

	if cfg.EnrollmentDateColumn == "" {
		// No enrollment-date column configured: events can still be
		// processed when previous enrollments exist. With more than one,
		// the most recent is used.
		if enr := mostRecentEnrollment(prevEnrollments); enr != nil && orgUnit != "" {
			processStages(&out, group, prev, key, enr.ID, entityID, orgUnit, cfg, tables, gen)
		}
		return out
	}

	dateOrder, dateGroups := groupByEnrollmentDate(group, cfg.EnrollmentDateColumn)
	for _, date := range dateOrder {
		dateRows := dateGroups[date]

		enr := matchEnrollment(prevEnrollments, date, cfg.EnrollOnce)

		enrollmentID := ""
		if enr != nil {
			enrollmentID = enr.ID
			if cfg.UpdateEnrollments && date != "" && NormalizeDate(enr.EnrollmentDate) != date {
				if _, ok := ParseDay(date); ok {
					out.EnrollmentUpdates = append(out.EnrollmentUpdates, EnrollmentUpdate{
						ID:             enr.ID,
						EnrollmentDate: date,
					})
				}
			}
		} else if cfg.CreateEnrollments && !blocked && orgUnit != "" {
			created, issues := newEnrollment(dateRows[0], date, entityID, orgUnit, key, cfg, gen)
			out.Errors = append(out.Errors, issues...)
			if created != nil {
				out.Enrollments = append(out.Enrollments, *created)
				enrollmentID = created.ID
			}
		}

		if enrollmentID != "" && orgUnit != "" {
			processStages(&out, dateRows, prev, key, enrollmentID, entityID, orgUnit, cfg, tables, gen)
		}
	}

	return out
}

// processStages dispatches one row set to the event state machine per
// configured stage and folds the results in.
func processStages(out *ResultBundle, rows []Row, prev *PreviousState, key, enrollmentID, entityID, orgUnit string, cfg *ProgramConfig, tables lookupTables, gen func() string) {
	for _, stage := range cfg.Stages {
		res := processStage(rows, stage, previousStageEvents(prev, key, stage, cfg), enrollmentID, entityID, cfg.Program, orgUnit, key, tables, gen)
		out.Events = append(out.Events, res.Events...)
		out.EventUpdates = append(out.EventUpdates, res.EventUpdates...)
		out.Errors = append(out.Errors, res.Errors...)
		out.Conflicts = append(out.Conflicts, res.Conflicts...)
	}
}

// newEnrollment validates the date gates and assembles a new enrollment, or
// returns the hard errors that aborted it.
func newEnrollment(row Row, date, entityID, orgUnit, key string, cfg *ProgramConfig, gen func() string) (*Enrollment, []Issue) {
	if _, ok := ParseDay(date); !ok {
		return nil, []Issue{{
			Field:     cfg.EnrollmentDateColumn,
			Value:     row[cfg.EnrollmentDateColumn],
			ValueType: TypeDate,
			Message:   "missing or invalid enrollment date",
			UniqueKey: key,
		}}
	}

	incident := date
	if cfg.IncidentDateColumn != "" {
		raw := strings.TrimSpace(row[cfg.IncidentDateColumn])
		if _, ok := ParseDay(raw); !ok {
			return nil, []Issue{{
				Field:     cfg.IncidentDateColumn,
				Value:     raw,
				ValueType: TypeDate,
				Message:   "missing or invalid incident date",
				UniqueKey: key,
			}}
		}
		incident = NormalizeDate(raw)
	}

	// Normalized dates compare lexically, so a plain string comparison
	// against today's date implements the calendar-day future gate.
	today := time.Now().Format("2006-01-02")
	if !cfg.AllowFutureEnrollmentDates && date > today {
		return nil, []Issue{{
			Field:     cfg.EnrollmentDateColumn,
			Value:     date,
			ValueType: TypeDate,
			Message:   "enrollment date is in the future",
			UniqueKey: key,
		}}
	}
	if !cfg.AllowFutureIncidentDates && incident > today {
		return nil, []Issue{{
			Field:     cfg.IncidentDateColumn,
			Value:     incident,
			ValueType: TypeDate,
			Message:   "incident date is in the future",
			UniqueKey: key,
		}}
	}

	enr := &Enrollment{
		ID:             gen(),
		Entity:         entityID,
		Program:        cfg.Program,
		OrgUnit:        orgUnit,
		EnrollmentDate: date,
		IncidentDate:   incident,
		Status:         EnrollmentStatusActive,
	}
	if cfg.GeometryColumn != "" {
		enr.Geometry = row[cfg.GeometryColumn]
	}
	return enr, nil
}

// matchEnrollment finds the previous enrollment a date group belongs to.
// Under the enroll-once policy any existing enrollment is reused regardless
// of date; otherwise the match requires calendar-day equality.
func matchEnrollment(previous []PreviousEnrollment, date string, enrollOnce bool) *PreviousEnrollment {
	if enrollOnce && len(previous) > 0 {
		return &previous[0]
	}
	if date == "" {
		return nil
	}
	for i := range previous {
		if NormalizeDate(previous[i].EnrollmentDate) == date {
			return &previous[i]
		}
	}
	return nil
}

// mostRecentEnrollment picks the previous enrollment with the latest
// enrollment date, used when no enrollment-date column is configured.
func mostRecentEnrollment(previous []PreviousEnrollment) *PreviousEnrollment {
	if len(previous) == 0 {
		return nil
	}
	idx := make([]int, len(previous))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return NormalizeDate(previous[idx[a]].EnrollmentDate) > NormalizeDate(previous[idx[b]].EnrollmentDate)
	})
	return &previous[idx[0]]
}

// groupByEnrollmentDate partitions rows on the normalized enrollment-date
// column value, preserving first-seen order.
func groupByEnrollmentDate(rows []Row, column string) ([]string, map[string][]Row) {
	var order []string
	groups := make(map[string][]Row)
	for _, row := range rows {
		date := NormalizeDate(row[column])
		if _, seen := groups[date]; !seen {
			order = append(order, date)
		}
		groups[date] = append(groups[date], row)
	}
	return order, groups
}

// resolveOrgUnit computes the current org unit for a group: the configured
// column's value translated through the org-unit table when it matches a
// known source label, the raw value when it does not, and the previous org
// unit when the column is empty or unconfigured.
func resolveOrgUnit(rep Row, previous string, cfg *ProgramConfig, tables lookupTables) string {
	raw := ""
	if cfg.OrgUnitColumn != "" {
		raw = strings.TrimSpace(rep[cfg.OrgUnitColumn])
	}
	if raw == "" {
		return previous
	}
	if mapped, ok := tables.orgUnits[normalizeLabel(raw)]; ok {
		return mapped
	}
	return raw
}

// previousStageEvents looks up the previous events for one stage. Event-only
// sources without correlating columns index everything under the empty key,
// so that bucket is the fallback.
func previousStageEvents(prev *PreviousState, key string, stage StageConfig, cfg *ProgramConfig) map[string]Event {
	if byStage, ok := prev.Events[key]; ok {
		if events, ok := byStage[stage.Stage]; ok {
			return events
		}
	}
	if !cfg.Registration {
		if byStage, ok := prev.Events[""]; ok {
			return byStage[stage.Stage]
		}
	}
	return nil
}

// representativeDateColumn chooses the reporting-date column used to pick a
// group's representative row: the enrollment date for registration sources,
// else the first stage's event date.
func representativeDateColumn(cfg *ProgramConfig) string {
	if cfg.Registration && cfg.EnrollmentDateColumn != "" {
		return cfg.EnrollmentDateColumn
	}
	for _, s := range cfg.Stages {
		if s.EventDateColumn != "" {
			return s.EventDateColumn
		}
	}
	return ""
}
