package port

import "context"

// ConversionParams are the validated arguments for one converter invocation.
type ConversionParams struct {
	TileSizeX          int
	TileSizeY          int
	PyramidResolutions int
	PyramidScale       int
}

// Converter runs the external conversion tool, blocking for its full
// runtime. A non-zero exit or launch fault is returned with any captured
// stdout/stderr attached (see bfconvert.ExitError).
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string, params ConversionParams) error
}
