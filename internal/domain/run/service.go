package run

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trackersync/trackersync/internal/reconcile"
)

// Request is one reconciliation job: the source rows, the program
// configuration, and the previously imported destination state to
// reconcile against.
type Request struct {
	Rows           []reconcile.Row            `json:"rows"`
	Previous       []reconcile.PreviousEntity `json:"previous,omitempty"`
	PreviousEvents []reconcile.Event          `json:"previousEvents,omitempty"`
	Config         reconcile.ProgramConfig    `json:"config"`
}

type Service struct {
	repo    RunRepository
	logger  zerolog.Logger
	maxRows int
}

func NewService(repo RunRepository, logger zerolog.Logger, maxRows int) *Service {
	return &Service{repo: repo, logger: logger, maxRows: maxRows}
}

func (s *Service) validate(req *Request) error {
	if req.Config.Program == "" {
		return fmt.Errorf("config.program is required")
	}
	if len(req.Rows) == 0 {
		return fmt.Errorf("rows must not be empty")
	}
	if s.maxRows > 0 && len(req.Rows) > s.maxRows {
		return fmt.Errorf("row count %d exceeds limit %d", len(req.Rows), s.maxRows)
	}
	return nil
}

// Execute runs a reconciliation pass, persists a Run record, and returns it
// together with the produced bundle.
func (s *Service) Execute(ctx context.Context, req *Request) (*Run, *reconcile.ResultBundle, error) {
	if err := s.validate(req); err != nil {
		return nil, nil, err
	}

	var prev *reconcile.PreviousState
	if req.Config.Registration {
		prev = reconcile.IndexPrevious(req.Previous, &req.Config)
	} else {
		prev = reconcile.IndexPreviousEvents(req.PreviousEvents, &req.Config)
	}

	start := time.Now()
	bundle := reconcile.Process(req.Rows, prev, &req.Config)
	elapsed := time.Since(start)

	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal bundle: %w", err)
	}

	rn := &Run{
		ID:         uuid.New(),
		Program:    req.Config.Program,
		Status:     StatusCompleted,
		RowCount:   len(req.Rows),
		Summary:    summarize(bundle),
		Bundle:     raw,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := s.repo.Create(ctx, rn); err != nil {
		return nil, nil, fmt.Errorf("persist run: %w", err)
	}

	s.logger.Info().
		Str("run_id", rn.ID.String()).
		Str("program", rn.Program).
		Int("rows", rn.RowCount).
		Int("errors", rn.Summary.Errors).
		Int("conflicts", rn.Summary.Conflicts).
		Dur("duration", elapsed).
		Msg("reconciliation run completed")

	return rn, bundle, nil
}

// Preview runs a reconciliation pass without persisting a Run record.
func (s *Service) Preview(req *Request) (*reconcile.ResultBundle, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var prev *reconcile.PreviousState
	if req.Config.Registration {
		prev = reconcile.IndexPrevious(req.Previous, &req.Config)
	} else {
		prev = reconcile.IndexPreviousEvents(req.PreviousEvents, &req.Config)
	}

	return reconcile.Process(req.Rows, prev, &req.Config), nil
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, program string, limit, offset int) ([]*Run, int, error) {
	return s.repo.List(ctx, program, limit, offset)
}
