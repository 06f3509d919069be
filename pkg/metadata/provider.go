package metadata

import "context"

// Provider is a single external catalog. Implementations are stateless and
// safe for concurrent use.
type Provider interface {
	// Name identifies the provider in BookMetadata.Source.
	Name() string

	// LookupByISBN returns the best record for the ISBN, or nil when the
	// provider has no match.
	LookupByISBN(ctx context.Context, isbn string) (*BookMetadata, error)

	// SearchByTitleAuthor returns candidate records sorted by confidence
	// descending. author may be empty.
	SearchByTitleAuthor(ctx context.Context, title, author string) ([]*BookMetadata, error)

	// CoverURLByISBN returns a cover image URL, or "" when none is known.
	CoverURLByISBN(ctx context.Context, isbn string) (string, error)
}
