package library

import "github.com/pkg/errors"

var (
	ErrBookNotFound = errors.New("library: book not found")
	ErrNoCover      = errors.New("library: book has no cover")
)
