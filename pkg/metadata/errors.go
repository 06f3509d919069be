package metadata

import (
	"strings"

	"github.com/pkg/errors"
)

// Provider error kinds. Providers wrap these so the aggregator can decide
// whether to keep going (rate limits) or record the failure.
var (
	ErrNoProviders    = errors.New("no metadata providers available")
	ErrNotFound       = errors.New("no metadata found")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrInvalidRequest = errors.New("invalid metadata request")
	ErrNetwork        = errors.New("network error")
	ErrServer         = errors.New("provider server error")
)

// AllProvidersFailedError is raised when every provider in the chain errored
// and none produced a usable record.
type AllProvidersFailedError struct {
	Errors []error
}

func (err *AllProvidersFailedError) Error() string {
	msgs := make([]string, len(err.Errors))
	for i, e := range err.Errors {
		msgs[i] = e.Error()
	}
	return "all metadata providers failed: " + strings.Join(msgs, "; ")
}
