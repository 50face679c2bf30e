package entity

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// ObjectCreatedEvent is the subset of an S3-style bucket notification the
// pipeline cares about. Jobs may be triggered by such events instead of an
// explicit submission; the conversion parameters then travel in the object's
// user metadata.
type ObjectCreatedEvent struct {
	Bucket string
	Key    string
}

// ParseObjectCreatedEvent decodes a bucket notification body. Only the first
// record is used; the pipeline processes one object per event.
func ParseObjectCreatedEvent(body []byte) (*ObjectCreatedEvent, error) {
	var evt struct {
		Records []struct {
			S3 struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key string `json:"key"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(evt.Records) == 0 {
		return nil, fmt.Errorf("%w: event has no records", ErrInvalidRequest)
	}
	rec := evt.Records[0]
	if rec.S3.Bucket.Name == "" || rec.S3.Object.Key == "" {
		return nil, fmt.Errorf("%w: event record missing bucket or key", ErrInvalidRequest)
	}
	// object keys in event records are URL-encoded
	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad object key encoding: %v", ErrInvalidRequest, err)
	}
	return &ObjectCreatedEvent{Bucket: rec.S3.Bucket.Name, Key: key}, nil
}

// RequestFromObjectMetadata builds a JobRequest for an event-triggered job.
// The store lower-cases metadata keys, so lookups are case-insensitive. When
// no job id is present in metadata, the object key's parent directory serves
// as the id, which keeps redeliveries of the same event idempotent.
func RequestFromObjectMetadata(evt *ObjectCreatedEvent, meta map[string]string, now time.Time) (*JobRequest, error) {
	lookup := func(name string) string {
		for k, v := range meta {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return ""
	}

	req := &JobRequest{
		ID:    lookup("job-id"),
		Email: lookup("email"),
		Files: []FileRef{{Bucket: evt.Bucket, Key: evt.Key}},
	}
	if req.ID == "" {
		req.ID = path.Base(path.Dir(evt.Key))
	}

	var err error
	if req.TileSizeX, err = metaInt(lookup, "tile-size-x"); err != nil {
		return nil, err
	}
	if req.TileSizeY, err = metaInt(lookup, "tile-size-y"); err != nil {
		return nil, err
	}
	if req.PyramidResolutions, err = metaInt(lookup, "pyramid-resolutions"); err != nil {
		return nil, err
	}
	if req.PyramidScale, err = metaInt(lookup, "pyramid-scale"); err != nil {
		return nil, err
	}

	if v := lookup("submitted-at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad submitted-at %q: %v", ErrInvalidRequest, v, err)
		}
		req.OriginalTimestamp = t.UnixMilli()
	} else {
		req.OriginalTimestamp = now.UnixMilli()
	}

	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func metaInt(lookup func(string) string, name string) (int, error) {
	v := lookup(name)
	if v == "" {
		return 0, nil // defaulted later
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s %q", ErrInvalidRequest, name, v)
	}
	return n, nil
}
