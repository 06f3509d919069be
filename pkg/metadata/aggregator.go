package metadata

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	defaultMinConfidence = 0.8
	defaultMaxResults    = 10
)

// FetchOptions tune an ISBN lookup. The zero value means "defaults": a 0.8
// confidence floor, merging across providers, and cover fetching.
type FetchOptions struct {
	MinConfidence *float64
	Merge         *bool
	FetchCovers   *bool
}

// SearchOptions tune a title/author search.
type SearchOptions struct {
	MinConfidence *float64
	Merge         *bool
	MaxResults    *int
}

// Aggregator fans out to an ordered list of providers and applies the
// fallback/merge policy. Providers are consulted strictly in list order.
type Aggregator struct {
	providers []Provider
}

// NewAggregator builds an aggregator with the given provider ordering. The
// conventional default ordering is [OpenLibrary, GoogleBooks].
func NewAggregator(providers ...Provider) *Aggregator {
	return &Aggregator{providers: providers}
}

// Providers returns the provider ordering.
func (a *Aggregator) Providers() []Provider {
	return a.providers
}

// FetchByISBN queries providers in order for the sanitized ISBN. A
// rate-limited provider is skipped without aborting the chain. When every
// provider errors and nothing was found, an AllProvidersFailedError is
// returned. A clean miss returns (nil, nil).
func (a *Aggregator) FetchByISBN(ctx context.Context, isbn string, opts FetchOptions) (*BookMetadata, error) {
	if len(a.providers) == 0 {
		return nil, errors.WithStack(ErrNoProviders)
	}

	log := logger.FromContext(ctx)
	isbn = strings.ReplaceAll(isbn, "-", "")
	minConfidence := floatOrDefault(opts.MinConfidence, defaultMinConfidence)
	merge := boolOrDefault(opts.Merge, true)
	fetchCovers := boolOrDefault(opts.FetchCovers, true)

	var accumulated *BookMetadata
	var failures []error

	for _, provider := range a.providers {
		record, err := provider.LookupByISBN(ctx, isbn)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				log.Data(logger.Data{"provider": provider.Name()}).Debug("provider rate limited, trying next")
				continue
			}
			failures = append(failures, err)
			continue
		}
		if record == nil || record.Confidence < minConfidence {
			continue
		}

		if !merge {
			accumulated = record
			break
		}
		accumulated = Merge(accumulated, record)
	}

	if accumulated == nil {
		if len(failures) > 0 {
			return nil, errors.WithStack(&AllProvidersFailedError{Errors: failures})
		}
		return nil, nil
	}

	if fetchCovers && accumulated.CoverURL == "" {
		accumulated.CoverURL = a.coverURL(ctx, isbn)
	}

	return accumulated, nil
}

// Search queries providers in order for title/author matches filtered by the
// confidence floor. Without merging, the first provider with any usable
// results wins; with merging, results accumulate across providers and are
// re-sorted by confidence.
func (a *Aggregator) Search(ctx context.Context, title, author string, opts SearchOptions) ([]*BookMetadata, error) {
	if len(a.providers) == 0 {
		return nil, errors.WithStack(ErrNoProviders)
	}

	log := logger.FromContext(ctx)
	minConfidence := floatOrDefault(opts.MinConfidence, defaultMinConfidence)
	merge := boolOrDefault(opts.Merge, true)
	maxResults := intOrDefault(opts.MaxResults, defaultMaxResults)

	var accumulated []*BookMetadata
	var failures []error

	for _, provider := range a.providers {
		results, err := provider.SearchByTitleAuthor(ctx, title, author)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				log.Data(logger.Data{"provider": provider.Name()}).Debug("provider rate limited, trying next")
				continue
			}
			failures = append(failures, err)
			continue
		}

		var filtered []*BookMetadata
		for _, record := range results {
			if record.Confidence >= minConfidence {
				filtered = append(filtered, record)
			}
		}
		if len(filtered) == 0 {
			continue
		}

		if !merge {
			return truncate(filtered, maxResults), nil
		}
		accumulated = append(accumulated, filtered...)
	}

	if len(accumulated) == 0 {
		if len(failures) > 0 {
			return nil, errors.WithStack(&AllProvidersFailedError{Errors: failures})
		}
		return nil, nil
	}

	sort.SliceStable(accumulated, func(i, j int) bool {
		return accumulated[i].Confidence > accumulated[j].Confidence
	})

	return truncate(accumulated, maxResults), nil
}

// Enhance tries to improve an existing record: ISBN lookup first (preferring
// ISBN-13), then a title/author search. A candidate only replaces fields when
// its confidence strictly exceeds the existing record's.
func (a *Aggregator) Enhance(ctx context.Context, existing *BookMetadata) (*BookMetadata, error) {
	if existing == nil {
		return nil, errors.WithStack(ErrInvalidRequest)
	}

	var candidate *BookMetadata

	isbn := existing.ISBN13
	if isbn == "" {
		isbn = existing.ISBN10
	}
	if isbn != "" {
		record, err := a.FetchByISBN(ctx, isbn, FetchOptions{})
		if err == nil && record != nil {
			candidate = record
		}
	}

	if candidate == nil && existing.Title != "" {
		author := ""
		if len(existing.Authors) > 0 {
			author = existing.Authors[0]
		}
		results, err := a.Search(ctx, existing.Title, author, SearchOptions{})
		if err == nil && len(results) > 0 {
			candidate = results[0]
		}
	}

	if candidate == nil || candidate.Confidence <= existing.Confidence {
		return existing, nil
	}

	return Merge(existing, candidate), nil
}

func (a *Aggregator) coverURL(ctx context.Context, isbn string) string {
	for _, provider := range a.providers {
		url, err := provider.CoverURLByISBN(ctx, isbn)
		if err == nil && url != "" {
			return url
		}
	}
	return ""
}

func truncate(records []*BookMetadata, max int) []*BookMetadata {
	if len(records) > max {
		return records[:max]
	}
	return records
}

func floatOrDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
