package port

import (
	"context"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
)

// Executor processes one JobRequest end-to-end and always returns a definite
// outcome; faults never propagate past this boundary.
type Executor interface {
	Execute(ctx context.Context, req *entity.JobRequest) entity.Outcome
}
