package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMerge_NilOperands(t *testing.T) {
	t.Parallel()

	record := &BookMetadata{Title: "A", Confidence: 0.9, Source: "x"}
	assert.Equal(t, record, Merge(nil, record))
	assert.Equal(t, record, Merge(record, nil))
	assert.Nil(t, Merge(nil, nil))
}

func TestMerge_ExistingWinsOnEqualConfidence(t *testing.T) {
	t.Parallel()

	existing := &BookMetadata{Title: "Old Title", Publisher: "Old House", Confidence: 0.8, Source: "first"}
	incoming := &BookMetadata{Title: "New Title", Publisher: "New House", Confidence: 0.8, Source: "second"}

	merged := Merge(existing, incoming)
	assert.Equal(t, "Old Title", merged.Title)
	assert.Equal(t, "Old House", merged.Publisher)
	assert.Equal(t, "first", merged.Source)
	assert.Equal(t, 0.8, merged.Confidence)
}

func TestMerge_HigherConfidenceOverridesConflicts(t *testing.T) {
	t.Parallel()

	existing := &BookMetadata{Title: "Old Title", Confidence: 0.7, Source: "first"}
	incoming := &BookMetadata{Title: "New Title", Confidence: 0.9, Source: "second"}

	merged := Merge(existing, incoming)
	assert.Equal(t, "New Title", merged.Title)
	assert.Equal(t, "second", merged.Source)
	assert.Equal(t, 0.9, merged.Confidence)
}

func TestMerge_FillsMissingFieldsEitherDirection(t *testing.T) {
	t.Parallel()

	published := time.Date(2001, 5, 1, 0, 0, 0, 0, time.UTC)
	pages := 320

	existing := &BookMetadata{Title: "Kept", Confidence: 0.9, Source: "first"}
	incoming := &BookMetadata{
		Publisher:     "Filled House",
		PublishedDate: &published,
		PageCount:     &pages,
		Confidence:    0.5,
		Source:        "second",
	}

	merged := Merge(existing, incoming)
	// Low confidence still fills holes, it just never overwrites.
	assert.Equal(t, "Kept", merged.Title)
	assert.Equal(t, "Filled House", merged.Publisher)
	assert.Equal(t, &published, merged.PublishedDate)
	assert.Equal(t, &pages, merged.PageCount)
	assert.Equal(t, "first", merged.Source)
}

func TestMerge_ArraysUnionCaseInsensitively(t *testing.T) {
	t.Parallel()

	existing := &BookMetadata{
		Authors:    []string{"Ursula K. Le Guin", "Other"},
		Tags:       []string{"Fantasy"},
		Confidence: 0.8,
	}
	incoming := &BookMetadata{
		Authors:    []string{"ursula k. le guin", "Third"},
		Tags:       []string{"fantasy", "Classics"},
		Confidence: 0.9,
	}

	merged := Merge(existing, incoming)
	// First appearance keeps its casing; duplicates fold away.
	assert.Equal(t, []string{"Ursula K. Le Guin", "Other", "Third"}, merged.Authors)
	assert.Equal(t, []string{"Fantasy", "Classics"}, merged.Tags)
}

func TestMerge_Commutative_WhenDisjoint(t *testing.T) {
	t.Parallel()

	a := &BookMetadata{Title: "T", Confidence: 0.8, Source: "a"}
	b := &BookMetadata{Publisher: "P", Confidence: 0.6, Source: "b"}

	ab := Merge(a, b)
	ba := Merge(b, a)
	assert.Equal(t, ab.Title, ba.Title)
	assert.Equal(t, ab.Publisher, ba.Publisher)
}
