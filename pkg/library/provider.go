package library

import (
	"context"
	"time"
)

// Descriptor is the read-only projection of a book that crosses the transfer
// and delivery boundaries.
type Descriptor struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Authors   []string  `json:"authors"`
	Format    string    `json:"format"`
	FileSize  int64     `json:"file_size"`
	DateAdded time.Time `json:"date_added"`
	HasCover  bool      `json:"has_cover"`
}

// Provider is the contract the transfer server and delivery service consume.
// The catalog behind it owns persistence; consumers never mutate books.
type Provider interface {
	// List returns a snapshot of the catalog. IDs are unique within a
	// snapshot and stable across snapshots.
	List(ctx context.Context) ([]Descriptor, error)

	// FilePath resolves a book id to its on-disk file. Returns
	// ErrBookNotFound when the id is unknown.
	FilePath(ctx context.Context, id string) (string, error)

	// Format returns the lowercase format tag for the book.
	Format(ctx context.Context, id string) (string, error)

	// BookInfo returns the display title and author list.
	BookInfo(ctx context.Context, id string) (string, []string, error)

	// CoverPath resolves the book's cover image, or ErrNoCover.
	CoverPath(ctx context.Context, id string) (string, error)

	// Acquire takes exclusive access to the book file for the duration of a
	// read and returns the local path plus a release func. Providers backed
	// by plain directories return the path directly with a no-op release.
	Acquire(ctx context.Context, id string) (string, func(), error)
}
