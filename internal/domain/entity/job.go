package entity

import (
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job is the persisted status record backing the read-only job listing.
type Job struct {
	ID                 string
	Email              string
	TileSizeX          int
	TileSizeY          int
	PyramidResolutions int
	PyramidScale       int
	InputKeys          []string
	OutputKeys         []string
	Status             JobStatus
	ErrorMessage       string
	SubmittedAt        time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

func NewJob(req *JobRequest) *Job {
	keys := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		keys = append(keys, f.Key)
	}
	now := time.Now().UTC()
	return &Job{
		ID:                 req.ID,
		Email:              req.Email,
		TileSizeX:          req.TileSizeX,
		TileSizeY:          req.TileSizeY,
		PyramidResolutions: req.PyramidResolutions,
		PyramidScale:       req.PyramidScale,
		InputKeys:          keys,
		Status:             JobStatusPending,
		SubmittedAt:        req.SubmittedAt(),
		UpdatedAt:          now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(outputKeys []string) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.OutputKeys = outputKeys
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}
