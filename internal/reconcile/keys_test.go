package reconcile

import (
	"fmt"
	"testing"
)

func sequentialGen() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("gen-%03d", n)
	}
}

func TestGroupKey_ExplicitIDColumnWins(t *testing.T) {
	row := Row{"uid": "P1", "name": "Jane"}
	key := GroupKey(row, "uid", []KeyColumn{{Column: "name"}}, sequentialGen())
	if key != "P1" {
		t.Errorf("expected explicit id key 'P1', got %q", key)
	}
}

func TestGroupKey_FallsBackToUniqueColumnsWhenIDMissing(t *testing.T) {
	row := Row{"name": "Jane"}
	key := GroupKey(row, "uid", []KeyColumn{{Column: "name"}}, sequentialGen())
	if key != "Jane" {
		t.Errorf("expected unique-column key 'Jane', got %q", key)
	}
}

func TestGroupKey_ColumnOrderIndependent(t *testing.T) {
	row := Row{"first": "Jane", "last": "Doe"}
	gen := sequentialGen()

	a := GroupKey(row, "", []KeyColumn{{Column: "first"}, {Column: "last"}}, gen)
	b := GroupKey(row, "", []KeyColumn{{Column: "last"}, {Column: "first"}}, gen)
	if a != b {
		t.Errorf("key depends on declared column order: %q vs %q", a, b)
	}
}

func TestGroupKey_DateColumnNormalized(t *testing.T) {
	a := GroupKey(Row{"dob": "1990-05-01"}, "", []KeyColumn{{Column: "dob", IsDate: true}}, sequentialGen())
	b := GroupKey(Row{"dob": "1990-05-01T00:00:00Z"}, "", []KeyColumn{{Column: "dob", IsDate: true}}, sequentialGen())
	if a != b {
		t.Errorf("date formats should normalize to the same key: %q vs %q", a, b)
	}
	if a != "1990-05-01" {
		t.Errorf("expected normalized key '1990-05-01', got %q", a)
	}
}

func TestGroupKey_NoUniqueColumnsGeneratesPerRow(t *testing.T) {
	gen := sequentialGen()
	a := GroupKey(Row{"name": "Jane"}, "", nil, gen)
	b := GroupKey(Row{"name": "Jane"}, "", nil, gen)
	if a == b {
		t.Errorf("rows without unique columns must not group together, both got %q", a)
	}
}

func TestGroupRows_PreservesFirstSeenOrder(t *testing.T) {
	rows := []Row{
		{"name": "Beta"},
		{"name": "Alpha"},
		{"name": "Beta"},
	}
	order, groups := GroupRows(rows, "", []KeyColumn{{Column: "name"}}, sequentialGen())

	if len(order) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(order))
	}
	if order[0] != "Beta" || order[1] != "Alpha" {
		t.Errorf("expected first-seen order [Beta Alpha], got %v", order)
	}
	if len(groups["Beta"]) != 2 {
		t.Errorf("expected 2 rows in Beta group, got %d", len(groups["Beta"]))
	}
}

func TestRepresentativeRow_MaxDateWins(t *testing.T) {
	rows := []Row{
		{"visit": "2024-01-10", "bp": "120"},
		{"visit": "2024-02-01", "bp": "130"},
		{"visit": "2024-01-20", "bp": "125"},
	}
	rep := RepresentativeRow(rows, "visit")
	if rep["bp"] != "130" {
		t.Errorf("expected row with latest visit date, got bp=%q", rep["bp"])
	}
}

func TestRepresentativeRow_TiesKeepFirstOccurrence(t *testing.T) {
	rows := []Row{
		{"visit": "2024-01-10", "bp": "120"},
		{"visit": "2024-01-10", "bp": "130"},
	}
	rep := RepresentativeRow(rows, "visit")
	if rep["bp"] != "120" {
		t.Errorf("ties must break by input order, got bp=%q", rep["bp"])
	}
}

func TestRepresentativeRow_UnparseableDatesFallBackToFirst(t *testing.T) {
	rows := []Row{
		{"visit": "not-a-date", "bp": "120"},
		{"visit": "also-not", "bp": "130"},
	}
	rep := RepresentativeRow(rows, "visit")
	if rep["bp"] != "120" {
		t.Errorf("expected first row when no date parses, got bp=%q", rep["bp"])
	}
}

func TestNormalizeDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2024-01-10", "2024-01-10"},
		{"2024-01-10T12:30:45Z", "2024-01-10"},
		{"2024-01-10 12:30:45", "2024-01-10"},
		{"  2024-01-10  ", "2024-01-10"},
		{"", ""},
		{"garbage", "garbage"},
	}
	for _, tc := range cases {
		if got := NormalizeDate(tc.in); got != tc.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewUID_ShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		uid := NewUID()
		if len(uid) != 11 {
			t.Fatalf("expected 11-character uid, got %q", uid)
		}
		c := uid[0]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			t.Fatalf("uid must start with a letter, got %q", uid)
		}
		if seen[uid] {
			t.Fatalf("duplicate uid generated: %q", uid)
		}
		seen[uid] = true
	}
}
