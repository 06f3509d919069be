package converter

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConverterMissing is returned when no converter binary could be located.
var ErrConverterMissing = errors.New("converter binary not found")

// ErrCancelled is returned from Convert when the job was cancelled before the
// subprocess finished.
var ErrCancelled = errors.New("conversion cancelled")

// UnsupportedInputError indicates the source file's format can't be read by
// the converter.
type UnsupportedInputError struct {
	Format string
}

func (err *UnsupportedInputError) Error() string {
	return fmt.Sprintf("unsupported input format %q", err.Format)
}

// UnsupportedOutputError indicates the requested target format can't be
// produced.
type UnsupportedOutputError struct {
	Format string
}

func (err *UnsupportedOutputError) Error() string {
	return fmt.Sprintf("unsupported output format %q", err.Format)
}

// SourceMissingError indicates the source file does not exist.
type SourceMissingError struct {
	Path string
}

func (err *SourceMissingError) Error() string {
	return fmt.Sprintf("source file does not exist: %s", err.Path)
}

// ProcessFailedError carries the subprocess exit code and the tail of its
// stderr output.
type ProcessFailedError struct {
	ExitCode   int
	StderrTail string
}

func (err *ProcessFailedError) Error() string {
	if err.StderrTail == "" {
		return fmt.Sprintf("converter exited with code %d", err.ExitCode)
	}
	return fmt.Sprintf("converter exited with code %d: %s", err.ExitCode, err.StderrTail)
}
