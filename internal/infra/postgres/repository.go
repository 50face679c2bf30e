package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := `
		INSERT INTO conversion_jobs (
			id, email, tile_size_x, tile_size_y, pyramid_resolutions,
			pyramid_scale, input_keys, output_keys, status, error_message,
			submitted_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.Email, job.TileSizeX, job.TileSizeY,
		job.PyramidResolutions, job.PyramidScale,
		job.InputKeys, job.OutputKeys, string(job.Status), job.ErrorMessage,
		job.SubmittedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE conversion_jobs SET
			status=$2, output_keys=$3, error_message=$4,
			updated_at=$5, completed_at=$6
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.OutputKeys, job.ErrorMessage,
		job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id string) (*entity.Job, error) {
	query := selectColumns + ` WHERE id=$1`

	row := r.pool.QueryRow(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	return job, nil
}

func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*entity.Job, error) {
	query := selectColumns + ` ORDER BY submitted_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const selectColumns = `
	SELECT id, email, tile_size_x, tile_size_y, pyramid_resolutions,
		pyramid_scale, input_keys, output_keys, status, error_message,
		submitted_at, updated_at, completed_at
	FROM conversion_jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	job := &entity.Job{}
	var status string
	err := row.Scan(
		&job.ID, &job.Email, &job.TileSizeX, &job.TileSizeY,
		&job.PyramidResolutions, &job.PyramidScale,
		&job.InputKeys, &job.OutputKeys, &status, &job.ErrorMessage,
		&job.SubmittedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(status)
	return job, nil
}
