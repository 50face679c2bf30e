package port

import (
	"context"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
)

type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Update(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id string) (*entity.Job, error)
	ListRecent(ctx context.Context, limit int) ([]*entity.Job, error)
}
