// Package reconcile computes a typed diff between a current extract of
// case/health records and a previously fetched snapshot of tracker-side
// entities: which entities must be created, which must be updated (and with
// which changed fields only), and which repeated sub-records (enrollments,
// dated events) are "the same one" across re-imports versus new.
//
// The package is a pure, synchronous library. It performs no I/O, keeps no
// state between runs, and never mutates the previous-state snapshot it is
// given, so a single snapshot can be shared across repeated Process calls
// (one per fetched page, for example).
package reconcile

import (
	"github.com/google/uuid"
)

// Row is one flattened record from the current extract. Source flatteners
// (spreadsheet, tracker-attribute, outbreak-case, clinical-bundle) all hand
// the core this shape.
type Row map[string]string

// Attribute is a single destination-side attribute value on an entity.
type Attribute struct {
	Attribute string    `json:"attribute"`
	Value     string    `json:"value"`
	ValueType ValueType `json:"valueType,omitempty"`
}

// DataValue is a single (dataElement, value) pair carried by an event.
type DataValue struct {
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

// Entity is a tracked person/case record proposed for creation or update.
type Entity struct {
	ID                string      `json:"trackedEntityInstance"`
	TrackedEntityType string      `json:"trackedEntityType,omitempty"`
	OrgUnit           string      `json:"orgUnit"`
	Attributes        []Attribute `json:"attributes"`
	Geometry          string      `json:"geometry,omitempty"`
}

// Enrollment is one registration episode of an entity into a program.
type Enrollment struct {
	ID             string `json:"enrollment"`
	Entity         string `json:"trackedEntityInstance"`
	Program        string `json:"program"`
	OrgUnit        string `json:"orgUnit"`
	EnrollmentDate string `json:"enrollmentDate"`
	IncidentDate   string `json:"incidentDate,omitempty"`
	Status         string `json:"status,omitempty"`
	Geometry       string `json:"geometry,omitempty"`
}

// EnrollmentUpdate mutates an existing enrollment. Only the enrollment date
// is mutable; everything else on an enrollment is fixed at creation.
type EnrollmentUpdate struct {
	ID             string `json:"enrollment"`
	EnrollmentDate string `json:"enrollmentDate"`
}

// Event is one concrete instance of a stage, carrying dated field values.
type Event struct {
	ID         string      `json:"event"`
	Enrollment string      `json:"enrollment,omitempty"`
	Entity     string      `json:"trackedEntityInstance,omitempty"`
	Program    string      `json:"program,omitempty"`
	Stage      string      `json:"programStage"`
	OrgUnit    string      `json:"orgUnit"`
	EventDate  string      `json:"eventDate"`
	DueDate    string      `json:"dueDate,omitempty"`
	Status     string      `json:"status,omitempty"`
	DataValues []DataValue `json:"dataValues"`
	Geometry   string      `json:"geometry,omitempty"`
}

// Event statuses emitted by the state machine.
const (
	EventStatusActive    = "ACTIVE"
	EventStatusCompleted = "COMPLETED"

	EnrollmentStatusActive = "ACTIVE"
)

// Issue is a validation failure with enough context for the caller to
// re-surface it per record without re-running reconciliation. Issues in the
// bundle's error list are hard (mandatory field or missing required linkage,
// blocking the affected action); conflict-list issues are soft (the
// offending field is simply omitted from the emitted value set).
type Issue struct {
	Field     string    `json:"attribute"`
	Value     string    `json:"value"`
	ValueType ValueType `json:"valueType,omitempty"`
	Message   string    `json:"message"`
	UniqueKey string    `json:"id"`
}

// zero reports whether the issue carries no information at all. Such entries
// are filtered from the bundle before it is returned.
func (i Issue) zero() bool {
	return i.Message == "" && i.Field == "" && i.Value == ""
}

// ResultBundle aggregates the outcome of one reconciliation run across all
// processed unique-key groups. No entity appears in both Entities and
// EntityUpdates within the same run.
type ResultBundle struct {
	Entities          []Entity           `json:"trackedEntityInstances"`
	EntityUpdates     []Entity           `json:"trackedEntityInstanceUpdates"`
	Enrollments       []Enrollment       `json:"enrollments"`
	EnrollmentUpdates []EnrollmentUpdate `json:"enrollmentUpdates"`
	Events            []Event            `json:"events"`
	EventUpdates      []Event            `json:"eventUpdates"`
	Errors            []Issue            `json:"errors"`
	Conflicts         []Issue            `json:"conflicts"`
}

// merge folds a per-group bundle into the run accumulator. Groups are
// independent, so plain list concatenation is sufficient.
func (b *ResultBundle) merge(other ResultBundle) {
	b.Entities = append(b.Entities, other.Entities...)
	b.EntityUpdates = append(b.EntityUpdates, other.EntityUpdates...)
	b.Enrollments = append(b.Enrollments, other.Enrollments...)
	b.EnrollmentUpdates = append(b.EnrollmentUpdates, other.EnrollmentUpdates...)
	b.Events = append(b.Events, other.Events...)
	b.EventUpdates = append(b.EventUpdates, other.EventUpdates...)
	b.Errors = append(b.Errors, other.Errors...)
	b.Conflicts = append(b.Conflicts, other.Conflicts...)
}

// filterIssues drops empty issue entries in place.
func filterIssues(issues []Issue) []Issue {
	out := issues[:0]
	for _, i := range issues {
		if !i.zero() {
			out = append(out, i)
		}
	}
	return out
}

// FieldMapping configures how one destination attribute or data element is
// sourced. A mapping is either a column reference (Column names the source
// column to read) or, when Specific is set, a literal (Literal IS the value
// for every row).
type FieldMapping struct {
	Column    string    `json:"value"`
	Literal   string    `json:"literal,omitempty"`
	Specific  bool      `json:"specific"`
	Unique    bool      `json:"unique"`
	Mandatory bool      `json:"mandatory"`
	IsOrgUnit bool      `json:"isOrgUnit"`
	ValueType ValueType `json:"valueType,omitempty"`
}

// Option is one allowed value of an option-set-constrained field.
type Option struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Value string `json:"value,omitempty"`
}

// FieldDef is a destination-catalog definition of an attribute or data
// element. Only fields present in the catalog are legitimate targets;
// configured mappings for unknown fields are dropped from the output.
type FieldDef struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	ValueType ValueType `json:"valueType"`
	Mandatory bool      `json:"mandatory"`
	OptionSet bool      `json:"optionSetValue"`
	Options   []Option  `json:"availableOptions,omitempty"`
}

// StageConfig configures reconciliation for one program stage.
type StageConfig struct {
	Stage             string                  `json:"stage"`
	Repeatable        bool                    `json:"repeatable"`
	CreateEvents      bool                    `json:"createEvents"`
	UpdateEvents      bool                    `json:"updateEvents"`
	CreateEmptyEvents bool                    `json:"createEmptyEvents"`
	CompleteEvents    bool                    `json:"completeEvents"`
	EventIDColumn     string                  `json:"eventIdColumn,omitempty"`
	EventDateColumn   string                  `json:"eventDateColumn"`
	DueDateColumn     string                  `json:"dueDateColumn,omitempty"`
	UniqueEventDate   bool                    `json:"uniqueEventDate"`
	GeometryColumn    string                  `json:"geometryColumn,omitempty"`
	DataElements      map[string]FieldMapping `json:"dataElements"`
	Definitions       map[string]FieldDef     `json:"definitions"`
}

// ProgramConfig is the full mapping configuration for one reconciliation
// run: program-level policy flags, attribute and stage mappings, the
// destination field catalog, and the option/org-unit translation tables.
type ProgramConfig struct {
	Program           string `json:"program"`
	TrackedEntityType string `json:"trackedEntityType,omitempty"`

	// Registration marks sources whose model supports enrollment. Event-only
	// sources set it false and skip the entity/enrollment pipeline entirely.
	Registration bool `json:"registration"`

	CreateEntities    bool `json:"createEntities"`
	UpdateEntities    bool `json:"updateEntities"`
	CreateEnrollments bool `json:"createEnrollments"`
	UpdateEnrollments bool `json:"updateEnrollments"`

	// EnrollOnce forces reuse of the single existing enrollment regardless
	// of date.
	EnrollOnce bool `json:"onlyEnrollOnce"`

	AllowFutureEnrollmentDates bool `json:"selectEnrollmentDatesInFuture"`
	AllowFutureIncidentDates   bool `json:"selectIncidentDatesInFuture"`

	EntityIDColumn       string `json:"entityIdColumn,omitempty"`
	OrgUnitColumn        string `json:"orgUnitColumn,omitempty"`
	EnrollmentDateColumn string `json:"enrollmentDateColumn,omitempty"`
	IncidentDateColumn   string `json:"incidentDateColumn,omitempty"`
	GeometryColumn       string `json:"geometryColumn,omitempty"`

	// Attributes maps destination attribute id to its source mapping.
	Attributes map[string]FieldMapping `json:"attributes"`
	// Catalog holds the destination's known attribute definitions keyed by id.
	Catalog map[string]FieldDef `json:"catalog"`

	Stages []StageConfig `json:"stages"`

	// OptionMapping maps destination option code to source label.
	OptionMapping map[string]string `json:"optionMapping,omitempty"`
	// OrgUnitMapping maps destination org unit id to source label or path.
	OrgUnitMapping map[string]string `json:"orgUnitMapping,omitempty"`

	// GenerateID produces new destination identifiers. The core treats ids
	// as opaque; when nil, NewUID is used.
	GenerateID func() string `json:"-"`
}

// idGen returns the configured identifier generator, defaulting to NewUID.
func (c *ProgramConfig) idGen() func() string {
	if c.GenerateID != nil {
		return c.GenerateID
	}
	return NewUID
}

const uidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewUID generates an 11-character tracker identifier (letter followed by ten
// alphanumerics), drawing entropy from a random UUID.
func NewUID() string {
	u := uuid.New()
	b := make([]byte, 11)
	b[0] = uidAlphabet[int(u[0])%52]
	for i := 1; i < len(b); i++ {
		b[i] = uidAlphabet[int(u[i])%len(uidAlphabet)]
	}
	return string(b)
}
