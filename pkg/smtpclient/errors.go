package smtpclient

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStreamSetup indicates the TCP connection could not be established.
	ErrStreamSetup = errors.New("smtp: stream setup failed")
	// ErrTLSHandshake indicates the TLS handshake failed (implicit or STARTTLS).
	ErrTLSHandshake = errors.New("smtp: tls handshake failed")
	// ErrAuthentication indicates the server rejected the credentials.
	ErrAuthentication = errors.New("smtp: authentication failed")
	// ErrTimeout indicates a stage exceeded its deadline.
	ErrTimeout = errors.New("smtp: timeout")
	// ErrCancelled indicates the caller cancelled the conversation.
	ErrCancelled = errors.New("smtp: cancelled")
	// ErrUnexpectedReply indicates the server answered with a success code
	// other than the one the dialog called for.
	ErrUnexpectedReply = errors.New("smtp: unexpected reply")
)

// ServerRejectedError is returned when the server answers with a 4xx or 5xx
// code. No further command is issued on the connection after one of these.
type ServerRejectedError struct {
	Code int
	Text string
}

func (err *ServerRejectedError) Error() string {
	return fmt.Sprintf("smtp: server rejected with %d: %s", err.Code, err.Text)
}
