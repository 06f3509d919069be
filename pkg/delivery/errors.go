package delivery

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotConfigured is returned when no SMTP configuration or password has
// been saved yet.
var ErrNotConfigured = errors.New("delivery: smtp is not configured")

// InvalidDestinationError indicates the address is not a recognized Kindle
// ingest address.
type InvalidDestinationError struct {
	Address string
}

func (err *InvalidDestinationError) Error() string {
	return fmt.Sprintf("delivery: invalid destination address %q", err.Address)
}

// SourceMissingError indicates the book file does not exist.
type SourceMissingError struct {
	Path string
}

func (err *SourceMissingError) Error() string {
	return fmt.Sprintf("delivery: source file does not exist: %s", err.Path)
}

// FileTooLargeError indicates the attachment exceeds the ingest limit.
type FileTooLargeError struct {
	Size int64
}

func (err *FileTooLargeError) Error() string {
	return fmt.Sprintf("delivery: file is too large to send (%d bytes)", err.Size)
}

// SendFailedError wraps an SMTP failure that happened before the exchange
// reached a well-formed final state.
type SendFailedError struct {
	Reason string
}

func (err *SendFailedError) Error() string {
	return "delivery: send failed: " + err.Reason
}
