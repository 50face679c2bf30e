package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
	"github.com/park-brian/nd2-converter/internal/domain/port"
	"github.com/park-brian/nd2-converter/internal/infra/bfconvert"
)

type fakeStorage struct {
	calls       []string
	downloadErr error
	uploadErr   error
}

func (s *fakeStorage) Download(_ context.Context, bucket, key, localPath string) error {
	s.calls = append(s.calls, "download "+bucket+"/"+key)
	if s.downloadErr != nil {
		return s.downloadErr
	}
	return os.WriteFile(localPath, []byte("input data"), 0644)
}

func (s *fakeStorage) Upload(_ context.Context, localPath, bucket, key string) error {
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("upload before output exists: %w", err)
	}
	s.calls = append(s.calls, "upload "+bucket+"/"+key)
	return s.uploadErr
}

func (s *fakeStorage) HeadMetadata(context.Context, string, string) (map[string]string, error) {
	return nil, nil
}

func (s *fakeStorage) SignedURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

type fakeConverter struct {
	calls  []string
	params []port.ConversionParams
	err    error
	panics bool
}

func (c *fakeConverter) Convert(_ context.Context, inputPath, outputPath string, params port.ConversionParams) error {
	if c.panics {
		panic("converter blew up")
	}
	c.calls = append(c.calls, "convert "+filepath.Base(inputPath))
	c.params = append(c.params, params)
	if c.err != nil {
		return c.err
	}
	return os.WriteFile(outputPath, []byte("tiff data"), 0644)
}

type dispatched struct {
	kind string
	to   string
	vars map[string]string
}

type fakeDispatcher struct {
	sent    []dispatched
	sendErr error
}

func (d *fakeDispatcher) UserSuccess(_ context.Context, to string, vars map[string]string) error {
	d.sent = append(d.sent, dispatched{"user-success", to, vars})
	return d.sendErr
}

func (d *fakeDispatcher) UserFailure(_ context.Context, to string, vars map[string]string) error {
	d.sent = append(d.sent, dispatched{"user-failure", to, vars})
	return d.sendErr
}

func (d *fakeDispatcher) AdminFailure(_ context.Context, jobID string, vars map[string]string) error {
	d.sent = append(d.sent, dispatched{"admin-failure", jobID, vars})
	return d.sendErr
}

func (d *fakeDispatcher) byKind(kind string) []dispatched {
	var out []dispatched
	for _, s := range d.sent {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeRepo struct {
	statuses []entity.JobStatus
}

func (r *fakeRepo) Create(_ context.Context, job *entity.Job) error {
	r.statuses = append(r.statuses, job.Status)
	return nil
}

func (r *fakeRepo) Update(_ context.Context, job *entity.Job) error {
	r.statuses = append(r.statuses, job.Status)
	return nil
}

func (r *fakeRepo) FindByID(context.Context, string) (*entity.Job, error) { return nil, nil }
func (r *fakeRepo) ListRecent(context.Context, int) ([]*entity.Job, error) {
	return nil, nil
}

type fixture struct {
	storage    *fakeStorage
	converter  *fakeConverter
	dispatcher *fakeDispatcher
	repo       *fakeRepo
	uc         *ProcessJobUseCase
	tempDir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		storage:    &fakeStorage{},
		converter:  &fakeConverter{},
		dispatcher: &fakeDispatcher{},
		repo:       &fakeRepo{},
		tempDir:    t.TempDir(),
	}
	f.uc = NewProcessJobUseCase(f.storage, f.converter, f.dispatcher, f.repo, zap.NewNop(),
		ProcessJobConfig{
			TempDir:         f.tempDir,
			OutputBucket:    "out",
			OutputPrefix:    "results/",
			OutputExtension: ".ome.tiff",
			SignedURLTTL:    time.Hour,
			SupportEmail:    "ops@example.com",
		})
	return f
}

func twoFileRequest() *entity.JobRequest {
	req := &entity.JobRequest{
		ID:    "abc",
		Email: "u@x.com",
		Files: []entity.FileRef{
			{Bucket: "in", Key: "uploads/abc/first.nd2"},
			{Bucket: "in", Key: "uploads/abc/second.nd2"},
		},
		OriginalTimestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
	req.ApplyDefaults()
	return req
}

func TestExecuteProcessesFilesInOrder(t *testing.T) {
	f := newFixture(t)
	req := twoFileRequest()

	outcome := f.uc.Execute(context.Background(), req)

	require.True(t, outcome.Succeeded, "outcome: %+v", outcome)
	assert.Equal(t, []string{
		"download in/uploads/abc/first.nd2",
		"upload out/results/abc/first.ome.tiff",
		"download in/uploads/abc/second.nd2",
		"upload out/results/abc/second.ome.tiff",
	}, f.storage.calls)
	assert.Equal(t, []string{"convert first.nd2", "convert second.nd2"}, f.converter.calls)

	require.Len(t, outcome.Results, 2)
	assert.Equal(t, "first.ome.tiff", outcome.Results[0].FileName)
	assert.Equal(t, "https://signed.example/results/abc/first.ome.tiff", outcome.Results[0].URL)

	// one success mail, containing links to every produced output
	success := f.dispatcher.byKind("user-success")
	require.Len(t, success, 1)
	assert.Equal(t, "u@x.com", success[0].to)
	assert.Contains(t, success[0].vars["resultsUrls"], "first.ome.tiff")
	assert.Contains(t, success[0].vars["resultsUrls"], "second.ome.tiff")
	assert.Empty(t, f.dispatcher.byKind("user-failure"))
	assert.Empty(t, f.dispatcher.byKind("admin-failure"))

	// working directory discarded
	_, err := os.Stat(filepath.Join(f.tempDir, "abc"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, entity.JobStatusCompleted, f.repo.statuses[len(f.repo.statuses)-1])
}

func TestExecutePassesConversionParameters(t *testing.T) {
	f := newFixture(t)
	req := twoFileRequest()
	req.TileSizeX = 1024
	req.PyramidResolutions = 6

	f.uc.Execute(context.Background(), req)

	require.NotEmpty(t, f.converter.params)
	assert.Equal(t, port.ConversionParams{
		TileSizeX:          1024,
		TileSizeY:          entity.DefaultTileSizeY,
		PyramidResolutions: 6,
		PyramidScale:       entity.DefaultPyramidScale,
	}, f.converter.params[0])
}

func TestExecuteAbortsAfterFirstConversionFailure(t *testing.T) {
	f := newFixture(t)
	f.converter.err = &bfconvert.ExitError{
		Err:    errors.New("exit status 1"),
		Output: "Unknown file format: first.nd2",
	}
	req := twoFileRequest()

	outcome := f.uc.Execute(context.Background(), req)

	require.False(t, outcome.Succeeded)
	// the second file is never touched
	assert.Equal(t, []string{"download in/uploads/abc/first.nd2"}, f.storage.calls)
	assert.Equal(t, []string{"convert first.nd2"}, f.converter.calls)

	// operator mail carries the captured tool diagnostics
	admin := f.dispatcher.byKind("admin-failure")
	require.Len(t, admin, 1)
	assert.Equal(t, "abc", admin[0].to)
	assert.Contains(t, admin[0].vars["toolOutput"], "Unknown file format")
	assert.Contains(t, admin[0].vars["parameters"], "uploads/abc/first.nd2")

	user := f.dispatcher.byKind("user-failure")
	require.Len(t, user, 1)
	assert.Equal(t, "u@x.com", user[0].to)

	assert.Contains(t, outcome.ToolOutput, "Unknown file format")
	assert.Equal(t, entity.JobStatusFailed, f.repo.statuses[len(f.repo.statuses)-1])
}

func TestExecuteWithoutRecipientSendsNoUserMail(t *testing.T) {
	f := newFixture(t)
	req := twoFileRequest()
	req.Email = ""

	outcome := f.uc.Execute(context.Background(), req)

	require.True(t, outcome.Succeeded)
	assert.Empty(t, f.dispatcher.sent)
}

func TestExecuteDownloadFaultFailsJob(t *testing.T) {
	f := newFixture(t)
	f.storage.downloadErr = errors.New("connection reset")
	req := twoFileRequest()

	outcome := f.uc.Execute(context.Background(), req)

	require.False(t, outcome.Succeeded)
	assert.Contains(t, outcome.Err, "connection reset")
	assert.Empty(t, f.converter.calls)
	require.Len(t, f.dispatcher.byKind("admin-failure"), 1)
	require.Len(t, f.dispatcher.byKind("user-failure"), 1)
}

func TestExecuteContainsPanics(t *testing.T) {
	f := newFixture(t)
	f.converter.panics = true
	req := twoFileRequest()

	var outcome entity.Outcome
	require.NotPanics(t, func() {
		outcome = f.uc.Execute(context.Background(), req)
	})

	require.False(t, outcome.Succeeded)
	assert.Contains(t, outcome.Err, "converter blew up")
	require.Len(t, f.dispatcher.byKind("admin-failure"), 1)

	_, err := os.Stat(filepath.Join(f.tempDir, "abc"))
	assert.True(t, os.IsNotExist(err), "working directory must be discarded on faults")
}

func TestExecuteNotificationFaultDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.sendErr = errors.New("smtp unavailable")
	req := twoFileRequest()

	outcome := f.uc.Execute(context.Background(), req)

	assert.True(t, outcome.Succeeded, "conversion result stands even if mail fails")
}
