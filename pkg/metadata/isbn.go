package metadata

import "github.com/foliobooks/folio/pkg/identifiers"

// ISBN helpers re-exported for callers that already depend on this package.

// IsValidISBN validates an ISBN-10 or ISBN-13 in any hyphenation.
func IsValidISBN(isbn string) bool {
	return identifiers.IsValidISBN(isbn)
}

// IsValidISBN10 validates an ISBN-10 checksum.
func IsValidISBN10(isbn string) bool {
	return identifiers.ValidateISBN10(identifiers.NormalizeISBN(isbn))
}

// IsValidISBN13 validates an ISBN-13 checksum.
func IsValidISBN13(isbn string) bool {
	return identifiers.ValidateISBN13(identifiers.NormalizeISBN(isbn))
}

// ISBN10To13 converts a valid ISBN-10 to ISBN-13. Returns "" for invalid
// input.
func ISBN10To13(isbn10 string) string {
	return identifiers.ISBN10To13(isbn10)
}
