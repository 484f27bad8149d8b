package run

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type runRepoPG struct{ pool *pgxpool.Pool }

func NewRunRepoPG(pool *pgxpool.Pool) RunRepository {
	return &runRepoPG{pool: pool}
}

const runCols = `id, program, status, row_count, summary, bundle,
	duration_ms, created_by, created_at`

func (r *runRepoPG) scanRow(row pgx.Row) (*Run, error) {
	var rn Run
	var summary []byte
	err := row.Scan(&rn.ID, &rn.Program, &rn.Status, &rn.RowCount, &summary,
		&rn.Bundle, &rn.DurationMS, &rn.CreatedBy, &rn.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &rn.Summary); err != nil {
		return nil, err
	}
	return &rn, nil
}

func (r *runRepoPG) Create(ctx context.Context, rn *Run) error {
	if rn.ID == uuid.Nil {
		rn.ID = uuid.New()
	}
	summary, err := json.Marshal(rn.Summary)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO runs (id, program, status, row_count, summary, bundle,
			duration_ms, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rn.ID, rn.Program, rn.Status, rn.RowCount, summary, rn.Bundle,
		rn.DurationMS, rn.CreatedBy)
	return err
}

func (r *runRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	return r.scanRow(r.pool.QueryRow(ctx, `SELECT `+runCols+` FROM runs WHERE id = $1`, id))
}

func (r *runRepoPG) List(ctx context.Context, program string, limit, offset int) ([]*Run, int, error) {
	where := ""
	args := []interface{}{}
	if program != "" {
		where = " WHERE program = $1"
		args = append(args, program)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT id, program, status, row_count, summary, NULL::jsonb,
		duration_ms, created_by, created_at FROM runs` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Run
	for rows.Next() {
		rn, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
