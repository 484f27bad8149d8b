package run

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trackersync/trackersync/internal/reconcile"
)

type fakeRepo struct {
	runs []*Run
}

func (f *fakeRepo) Create(ctx context.Context, r *Run) error {
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, context.Canceled
}

func (f *fakeRepo) List(ctx context.Context, program string, limit, offset int) ([]*Run, int, error) {
	var out []*Run
	for _, r := range f.runs {
		if program == "" || r.Program == program {
			out = append(out, r)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func testService(repo RunRepository) *Service {
	return NewService(repo, zerolog.New(os.Stderr), 1000)
}

func eventConfig() reconcile.ProgramConfig {
	return reconcile.ProgramConfig{
		Program:       "prog1",
		OrgUnitColumn: "ou",
		Stages: []reconcile.StageConfig{{
			Stage:           "stage1",
			Repeatable:      true,
			CreateEvents:    true,
			UpdateEvents:    true,
			EventDateColumn: "date",
			DataElements: map[string]reconcile.FieldMapping{
				"de1": {Column: "val"},
			},
			Definitions: map[string]reconcile.FieldDef{
				"de1": {ID: "de1", ValueType: reconcile.TypeNumber},
			},
		}},
	}
}

func TestService_Execute(t *testing.T) {
	repo := &fakeRepo{}
	svc := testService(repo)

	rn, bundle, err := svc.Execute(context.Background(), &Request{
		Rows: []reconcile.Row{
			{"ou": "OU1", "date": "2024-01-10", "val": "120"},
		},
		Config: eventConfig(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bundle.Events) != 1 {
		t.Fatalf("expected 1 created event, got %+v", bundle.Events)
	}
	if rn.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", rn.Status)
	}
	if rn.Program != "prog1" {
		t.Errorf("expected program prog1, got %s", rn.Program)
	}
	if rn.RowCount != 1 {
		t.Errorf("expected row count 1, got %d", rn.RowCount)
	}
	if rn.Summary.Events != 1 {
		t.Errorf("expected summary to count 1 event, got %+v", rn.Summary)
	}
	if len(rn.Bundle) == 0 {
		t.Error("expected bundle JSON to be stored")
	}
	if len(repo.runs) != 1 {
		t.Fatalf("expected run to be persisted, got %d", len(repo.runs))
	}
}

func TestService_Execute_RequiresProgram(t *testing.T) {
	svc := testService(&fakeRepo{})
	cfg := eventConfig()
	cfg.Program = ""

	_, _, err := svc.Execute(context.Background(), &Request{
		Rows:   []reconcile.Row{{"ou": "OU1", "date": "2024-01-10"}},
		Config: cfg,
	})
	if err == nil {
		t.Fatal("expected error for missing program")
	}
}

func TestService_Execute_RequiresRows(t *testing.T) {
	svc := testService(&fakeRepo{})

	_, _, err := svc.Execute(context.Background(), &Request{Config: eventConfig()})
	if err == nil {
		t.Fatal("expected error for empty rows")
	}
}

func TestService_Execute_RowLimit(t *testing.T) {
	svc := NewService(&fakeRepo{}, zerolog.New(os.Stderr), 2)

	rows := []reconcile.Row{
		{"ou": "OU1", "date": "2024-01-10", "val": "1"},
		{"ou": "OU1", "date": "2024-01-11", "val": "2"},
		{"ou": "OU1", "date": "2024-01-12", "val": "3"},
	}
	_, _, err := svc.Execute(context.Background(), &Request{Rows: rows, Config: eventConfig()})
	if err == nil {
		t.Fatal("expected error when row count exceeds limit")
	}
}

func TestService_Execute_ReconcilesAgainstPreviousEvents(t *testing.T) {
	repo := &fakeRepo{}
	svc := testService(repo)

	_, bundle, err := svc.Execute(context.Background(), &Request{
		Rows: []reconcile.Row{
			{"ou": "OU1", "date": "2024-01-10", "val": "130"},
		},
		PreviousEvents: []reconcile.Event{{
			ID:        "ev1",
			Stage:     "stage1",
			OrgUnit:   "OU1",
			EventDate: "2024-01-10",
			DataValues: []reconcile.DataValue{
				{DataElement: "de1", Value: "120"},
			},
		}},
		Config: eventConfig(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bundle.Events) != 0 {
		t.Errorf("expected no created events, got %+v", bundle.Events)
	}
	if len(bundle.EventUpdates) != 1 {
		t.Fatalf("expected 1 event update, got %+v", bundle.EventUpdates)
	}
	if bundle.EventUpdates[0].ID != "ev1" {
		t.Errorf("expected update on ev1, got %+v", bundle.EventUpdates[0])
	}
}

func TestService_Preview_DoesNotPersist(t *testing.T) {
	repo := &fakeRepo{}
	svc := testService(repo)

	bundle, err := svc.Preview(&Request{
		Rows: []reconcile.Row{
			{"ou": "OU1", "date": "2024-01-10", "val": "120"},
		},
		Config: eventConfig(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Events) != 1 {
		t.Fatalf("expected 1 created event, got %+v", bundle.Events)
	}
	if len(repo.runs) != 0 {
		t.Errorf("preview must not persist runs, got %d", len(repo.runs))
	}
}

func TestService_ListRuns(t *testing.T) {
	repo := &fakeRepo{}
	svc := testService(repo)

	for i := 0; i < 3; i++ {
		_, _, err := svc.Execute(context.Background(), &Request{
			Rows:   []reconcile.Row{{"ou": "OU1", "date": "2024-01-10", "val": "120"}},
			Config: eventConfig(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	items, total, err := svc.ListRuns(context.Background(), "prog1", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}

	items, _, err = svc.ListRuns(context.Background(), "other", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items for other program, got %d", len(items))
	}
}
