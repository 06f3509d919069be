package metadata

import (
	"strings"
	"time"
)

// BookMetadata is an enrichment record produced by a provider or by the
// converter's metadata tool. Confidence is the provider's own estimate of
// accuracy in [0,1] and drives merging and ranking.
type BookMetadata struct {
	Title         string     `json:"title"`
	Authors       []string   `json:"authors"`
	ISBN10        string     `json:"isbn_10,omitempty"`
	ISBN13        string     `json:"isbn_13,omitempty"`
	Publisher     string     `json:"publisher,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Language      string     `json:"language,omitempty"`
	Series        string     `json:"series,omitempty"`
	SeriesIndex   *float64   `json:"series_index,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	PageCount     *int       `json:"page_count,omitempty"`
	CoverURL      string     `json:"cover_url,omitempty"`
	Confidence    float64    `json:"confidence"`
	Source        string     `json:"source"`
}

// Merge combines two records for the same book. For each scalar field the
// existing value wins when present, unless the new record carries both a
// value and a strictly higher confidence. Array fields union
// case-insensitively, preserving order of first appearance.
func Merge(existing, incoming *BookMetadata) *BookMetadata {
	if existing == nil {
		return incoming
	}
	if incoming == nil {
		return existing
	}

	newWins := incoming.Confidence > existing.Confidence

	merged := &BookMetadata{
		Title:         mergeString(existing.Title, incoming.Title, newWins),
		Authors:       unionFold(existing.Authors, incoming.Authors),
		ISBN10:        mergeString(existing.ISBN10, incoming.ISBN10, newWins),
		ISBN13:        mergeString(existing.ISBN13, incoming.ISBN13, newWins),
		Publisher:     mergeString(existing.Publisher, incoming.Publisher, newWins),
		PublishedDate: mergeTime(existing.PublishedDate, incoming.PublishedDate, newWins),
		Language:      mergeString(existing.Language, incoming.Language, newWins),
		Series:        mergeString(existing.Series, incoming.Series, newWins),
		SeriesIndex:   mergeFloat(existing.SeriesIndex, incoming.SeriesIndex, newWins),
		Tags:          unionFold(existing.Tags, incoming.Tags),
		Summary:       mergeString(existing.Summary, incoming.Summary, newWins),
		PageCount:     mergeInt(existing.PageCount, incoming.PageCount, newWins),
		CoverURL:      mergeString(existing.CoverURL, incoming.CoverURL, newWins),
	}

	if newWins {
		merged.Confidence = incoming.Confidence
		merged.Source = incoming.Source
	} else {
		merged.Confidence = existing.Confidence
		merged.Source = existing.Source
	}

	return merged
}

func mergeString(existing, incoming string, newWins bool) string {
	if existing == "" {
		return incoming
	}
	if incoming != "" && newWins {
		return incoming
	}
	return existing
}

func mergeTime(existing, incoming *time.Time, newWins bool) *time.Time {
	if existing == nil {
		return incoming
	}
	if incoming != nil && newWins {
		return incoming
	}
	return existing
}

func mergeFloat(existing, incoming *float64, newWins bool) *float64 {
	if existing == nil {
		return incoming
	}
	if incoming != nil && newWins {
		return incoming
	}
	return existing
}

func mergeInt(existing, incoming *int, newWins bool) *int {
	if existing == nil {
		return incoming
	}
	if incoming != nil && newWins {
		return incoming
	}
	return existing
}

// unionFold unions two string slices case-insensitively, preserving the
// order of first appearance.
func unionFold(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}
