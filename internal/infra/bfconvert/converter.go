package bfconvert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/domain/port"
)

// ExitError reports a failed converter run with the captured stdout/stderr
// attached, so operator notifications can include the raw tool diagnostics.
type ExitError struct {
	Err    error
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("bfconvert: %v", e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Converter invokes the bfconvert tool, producing pyramidal tiled OME-TIFF
// output.
type Converter struct {
	binPath string
	maxMem  string
	logger  *zap.Logger
}

// New returns a Converter running binPath with a BF_MAX_MEM memory ceiling
// (e.g. "4g").
func New(binPath, maxMem string, logger *zap.Logger) *Converter {
	return &Converter{binPath: binPath, maxMem: maxMem, logger: logger}
}

// Convert blocks for the tool's full runtime, which can be minutes to hours
// for large inputs. Multi-series flattening is disabled, the BigTIFF
// container is forced so outputs past 4 GiB stay valid, and any pre-existing
// output path is overwritten, which keeps reprocessing a redelivered job
// safe.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string, params port.ConversionParams) error {
	cmd := exec.CommandContext(ctx, c.binPath,
		"-tilex", strconv.Itoa(params.TileSizeX),
		"-tiley", strconv.Itoa(params.TileSizeY),
		"-noflat",
		"-overwrite",
		"-bigtiff",
		"-pyramid-resolutions", strconv.Itoa(params.PyramidResolutions),
		"-pyramid-scale", strconv.Itoa(params.PyramidScale),
		inputPath,
		outputPath,
	)
	cmd.Env = append(os.Environ(), "BF_MAX_MEM="+c.maxMem)

	c.logger.Info("running converter",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("tile_x", params.TileSizeX),
		zap.Int("tile_y", params.TileSizeY),
		zap.Int("pyramid_resolutions", params.PyramidResolutions),
		zap.Int("pyramid_scale", params.PyramidScale),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &ExitError{Err: err, Output: string(output)}
	}
	return nil
}
