package reconcile

import (
	"sort"
	"strings"
	"time"
)

// KeyColumn is one source column participating in a composite uniqueness key.
// Date-typed columns have their values normalized to YYYY-MM-DD before they
// enter the key, so differing source date formats still correlate.
type KeyColumn struct {
	Column string
	IsDate bool
}

// dateLayouts are the accepted shapes for date-ish source values, tried in
// order. The first 10 characters of a longer timestamp are also accepted.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
}

// NormalizeDate reduces a date-ish value to YYYY-MM-DD. Unparseable values
// are returned unchanged so they still participate in key comparison.
func NormalizeDate(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if len(v) > 10 {
		if t, err := time.Parse("2006-01-02", v[:10]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return v
}

// ParseDay parses a date-ish value at calendar-day granularity.
func ParseDay(v string) (time.Time, bool) {
	n := NormalizeDate(v)
	t, err := time.Parse("2006-01-02", n)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// GroupKey derives the composite key for one row. An explicit id column wins
// when set and present; otherwise the key is the sorted concatenation of the
// unique columns' resolved values (sorted by value, not by column name, so
// the declared column order never changes group assignment). With no unique
// columns configured, every row gets its own generated key and no cross-row
// grouping happens.
func GroupKey(row Row, idColumn string, uniqueCols []KeyColumn, gen func() string) string {
	if idColumn != "" {
		if v := strings.TrimSpace(row[idColumn]); v != "" {
			return v
		}
	}
	if len(uniqueCols) > 0 {
		vals := make([]string, 0, len(uniqueCols))
		for _, c := range uniqueCols {
			v := strings.TrimSpace(row[c.Column])
			if c.IsDate {
				v = NormalizeDate(v)
			}
			vals = append(vals, v)
		}
		sort.Strings(vals)
		return strings.Join(vals, "")
	}
	return gen()
}

// GroupRows partitions rows by their composite key, preserving first-seen
// key order so downstream output stays deterministic for a fixed input.
func GroupRows(rows []Row, idColumn string, uniqueCols []KeyColumn, gen func() string) ([]string, map[string][]Row) {
	var order []string
	groups := make(map[string][]Row)
	for _, row := range rows {
		key := GroupKey(row, idColumn, uniqueCols, gen)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return order, groups
}

// RepresentativeRow picks one row to stand for a group: the row with the
// maximum value in the configured reporting-date column, ties broken by
// input order (first occurrence wins). With no date column, or when no row
// has a parseable date, the first row wins.
func RepresentativeRow(rows []Row, dateColumn string) Row {
	if len(rows) == 0 {
		return nil
	}
	if dateColumn == "" {
		return rows[0]
	}
	best := rows[0]
	bestDay, bestOK := ParseDay(best[dateColumn])
	for _, row := range rows[1:] {
		day, ok := ParseDay(row[dateColumn])
		if !ok {
			continue
		}
		if !bestOK || day.After(bestDay) {
			best, bestDay, bestOK = row, day, true
		}
	}
	return best
}

// uniqueKeyColumns extracts the unique-marked columns from a mapping set,
// ordered by destination field id for determinism. Order does not affect the
// produced keys (GroupKey sorts values), only iteration stability.
func uniqueKeyColumns(mappings map[string]FieldMapping) []KeyColumn {
	ids := make([]string, 0, len(mappings))
	for id, m := range mappings {
		if m.Unique && !m.Specific && m.Column != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	cols := make([]KeyColumn, 0, len(ids))
	for _, id := range ids {
		m := mappings[id]
		cols = append(cols, KeyColumn{Column: m.Column, IsDate: m.ValueType.isDate()})
	}
	return cols
}
