package transfer

import "github.com/pkg/errors"

// ErrNoPortAvailable means every port in the configured range was taken.
var ErrNoPortAvailable = errors.New("transfer: no port available in configured range")
