package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Default conversion parameters applied when a submission omits them.
const (
	DefaultTileSizeX          = 512
	DefaultTileSizeY          = 512
	DefaultPyramidResolutions = 4
	DefaultPyramidScale       = 3
)

var ErrInvalidRequest = errors.New("invalid job request")

// FileRef identifies one source payload in remote storage.
type FileRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// JobRequest is the unit of work carried by a queue message. It is never
// mutated after creation; the id namespaces the local working directory and
// the remote output keys so concurrently processed jobs cannot collide.
type JobRequest struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email,omitempty"`
	TileSizeX          int       `json:"tileSizeX"`
	TileSizeY          int       `json:"tileSizeY"`
	PyramidResolutions int       `json:"pyramidResolutions"`
	PyramidScale       int       `json:"pyramidScale"`
	Files              []FileRef `json:"files"`
	OriginalTimestamp  int64     `json:"originalTimestamp"` // ms since epoch
}

// ParseJobRequest decodes and validates a queue message body. A schema
// violation is reported here, before any processing starts, so malformed
// messages can be dead-lettered immediately instead of failing deep inside
// the pipeline.
func ParseJobRequest(body []byte) (*JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// ApplyDefaults fills in omitted conversion parameters and the submission
// timestamp.
func (r *JobRequest) ApplyDefaults() {
	if r.TileSizeX == 0 {
		r.TileSizeX = DefaultTileSizeX
	}
	if r.TileSizeY == 0 {
		r.TileSizeY = DefaultTileSizeY
	}
	if r.PyramidResolutions == 0 {
		r.PyramidResolutions = DefaultPyramidResolutions
	}
	if r.PyramidScale == 0 {
		r.PyramidScale = DefaultPyramidScale
	}
	if r.OriginalTimestamp == 0 {
		r.OriginalTimestamp = time.Now().UnixMilli()
	}
}

func (r *JobRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRequest)
	}
	if len(r.Files) == 0 {
		return fmt.Errorf("%w: no input files", ErrInvalidRequest)
	}
	for i, f := range r.Files {
		if f.Bucket == "" || f.Key == "" {
			return fmt.Errorf("%w: file %d missing bucket or key", ErrInvalidRequest, i)
		}
	}
	if r.TileSizeX <= 0 || r.TileSizeY <= 0 {
		return fmt.Errorf("%w: tile size must be positive", ErrInvalidRequest)
	}
	if r.PyramidResolutions <= 0 || r.PyramidScale <= 0 {
		return fmt.Errorf("%w: pyramid parameters must be positive", ErrInvalidRequest)
	}
	return nil
}

// OutputFileName is the converted artifact name for an input key: the base
// name with its extension replaced by ext (e.g. ".ome.tiff").
func OutputFileName(key, ext string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base)) + ext
}

// OutputKey derives the remote destination for a converted file. Outputs are
// namespaced by job id under the configured output prefix, so reprocessing
// the same request writes to the same key.
func (r *JobRequest) OutputKey(outputPrefix, ext string, f FileRef) string {
	return outputPrefix + r.ID + "/" + OutputFileName(f.Key, ext)
}

// SubmittedAt converts the submission timestamp carried in the message.
func (r *JobRequest) SubmittedAt() time.Time {
	return time.UnixMilli(r.OriginalTimestamp).UTC()
}
