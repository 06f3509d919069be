// Package qrcode renders the transfer server URL as a PNG for phone cameras.
package qrcode

import (
	"image/color"

	"github.com/pkg/errors"
	qr "github.com/skip2/go-qrcode"
)

// RecoveryLevel selects how much damage the code tolerates.
type RecoveryLevel string

const (
	RecoveryLow     RecoveryLevel = "L"
	RecoveryMedium  RecoveryLevel = "M"
	RecoveryHigh    RecoveryLevel = "Q"
	RecoveryHighest RecoveryLevel = "H"
)

// Options control rendering. The zero value gets sensible defaults from
// Generate.
type Options struct {
	// Size is the output image width and height in pixels.
	Size int
	// Level defaults to RecoveryMedium.
	Level RecoveryLevel
	// Foreground and Background default to black on white.
	Foreground color.Color
	Background color.Color
}

const defaultSize = 256

// Generate encodes content as a QR code and returns PNG bytes.
func Generate(content string, opts Options) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qrcode: content is empty")
	}
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}

	code, err := qr.New(content, recoveryLevel(opts.Level))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if opts.Foreground != nil {
		code.ForegroundColor = opts.Foreground
	}
	if opts.Background != nil {
		code.BackgroundColor = opts.Background
	}

	png, err := code.PNG(opts.Size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return png, nil
}

func recoveryLevel(level RecoveryLevel) qr.RecoveryLevel {
	switch level {
	case RecoveryLow:
		return qr.Low
	case RecoveryHigh:
		return qr.High
	case RecoveryHighest:
		return qr.Highest
	default:
		return qr.Medium
	}
}
