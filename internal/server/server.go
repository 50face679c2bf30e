package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
	"github.com/park-brian/nd2-converter/internal/domain/port"
)

// Server is the submission and status boundary: it stages uploads into
// object storage under a job-id-namespaced prefix, enqueues the job request,
// and exposes a read-only job listing. It is glue around the processing core,
// not part of it.
type Server struct {
	storage   port.ObjectStorage
	publisher port.Publisher
	repo      port.JobRepository
	logger    *zap.Logger
	cfg       Config
}

type Config struct {
	Bucket        string
	InputPrefix   string
	MaxUploadSize int64
	TempDir       string
}

func New(storage port.ObjectStorage, publisher port.Publisher, repo port.JobRepository, logger *zap.Logger, cfg Config) *Server {
	return &Server{
		storage:   storage,
		publisher: publisher,
		repo:      repo,
		logger:    logger,
		cfg:       cfg,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/ping", s.handlePing)
	r.Post("/submit", s.handleSubmit)
	r.Get("/jobs", s.handleListJobs)
	return r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("true"))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "could not parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := &entity.JobRequest{
		ID:                uuid.NewString(),
		Email:             r.FormValue("email"),
		OriginalTimestamp: time.Now().UnixMilli(),
	}

	var err error
	if req.TileSizeX, err = formInt(r, "tileSizeX"); err == nil {
		if req.TileSizeY, err = formInt(r, "tileSizeY"); err == nil {
			if req.PyramidResolutions, err = formInt(r, "pyramidResolutions"); err == nil {
				req.PyramidScale, err = formInt(r, "pyramidScale")
			}
		}
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["inputFiles"]
	if len(files) == 0 {
		http.Error(w, "no input files", http.StatusBadRequest)
		return
	}

	for _, fh := range files {
		key := s.cfg.InputPrefix + req.ID + "/" + filepath.Base(fh.Filename)
		if err := s.stageUpload(r, fh, key); err != nil {
			s.logger.Error("failed to stage upload", zap.String("key", key), zap.Error(err))
			http.Error(w, "Your request could not be processed due to an internal error.", http.StatusInternalServerError)
			return
		}
		req.Files = append(req.Files, entity.FileRef{Bucket: s.cfg.Bucket, Key: key})
	}

	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.repo.Create(ctx, entity.NewJob(req)); err != nil {
		s.logger.Error("failed to persist job record", zap.String("job_id", req.ID), zap.Error(err))
	}

	body, err := json.Marshal(req)
	if err == nil {
		err = s.publisher.Publish(ctx, body)
	}
	if err != nil {
		s.logger.Error("failed to enqueue job", zap.String("job_id", req.ID), zap.Error(err))
		http.Error(w, "Your request could not be processed due to an internal error.", http.StatusInternalServerError)
		return
	}

	s.logger.Info("job submitted",
		zap.String("job_id", req.ID),
		zap.Int("files", len(req.Files)),
	)
	fmt.Fprint(w, "Your request has been submitted and will be processed shortly. Results will be sent to the specified email.")
}

// stageUpload copies one form file to a temp path and streams it into object
// storage, keeping memory use bounded for multi-gigabyte inputs.
func (s *Server) stageUpload(r *http.Request, fh *multipart.FileHeader, key string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open form file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.cfg.TempDir, 0755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.cfg.TempDir, "upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flush temp file: %w", err)
	}

	return s.storage.Upload(r.Context(), tmp.Name(), s.cfg.Bucket, key)
}

type jobResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	InputKeys    []string   `json:"inputKeys"`
	OutputKeys   []string   `json:"outputKeys,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.repo.ListRecent(r.Context(), 50)
	if err != nil {
		s.logger.Error("failed to list jobs", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobResponse{
			ID:           j.ID,
			Status:       string(j.Status),
			InputKeys:    j.InputKeys,
			OutputKeys:   j.OutputKeys,
			ErrorMessage: j.ErrorMessage,
			SubmittedAt:  j.SubmittedAt,
			UpdatedAt:    j.UpdatedAt,
			CompletedAt:  j.CompletedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func formInt(r *http.Request, name string) (int, error) {
	v := r.FormValue(name)
	if v == "" {
		return 0, nil // defaulted during validation
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}
