package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foliobooks/folio/pkg/identifiers"
	"github.com/pkg/errors"
)

const (
	openLibraryName       = "openlibrary"
	openLibraryBooksURL   = "https://openlibrary.org/api/books"
	openLibrarySearchURL  = "https://openlibrary.org/search.json"
	openLibraryCoverURL   = "https://covers.openlibrary.org/b/isbn/%s-L.jpg"
	openLibraryISBNScore  = 0.9
	openLibraryFirstScore = 0.75
	openLibraryScoreStep  = 0.05
)

// OpenLibrary queries openlibrary.org. No API key is required.
type OpenLibrary struct {
	client  *http.Client
	baseURL string
}

func NewOpenLibrary() *OpenLibrary {
	return &OpenLibrary{client: newProviderClient()}
}

func (p *OpenLibrary) Name() string {
	return openLibraryName
}

type openLibraryBook struct {
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Publishers []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	PublishDate   string `json:"publish_date"`
	NumberOfPages int    `json:"number_of_pages"`
	Subjects      []struct {
		Name string `json:"name"`
	} `json:"subjects"`
	Cover struct {
		Large string `json:"large"`
	} `json:"cover"`
}

func (p *OpenLibrary) LookupByISBN(ctx context.Context, isbn string) (*BookMetadata, error) {
	isbn = identifiers.NormalizeISBN(isbn)
	if isbn == "" {
		return nil, errors.WithStack(ErrInvalidRequest)
	}

	u := p.booksURL() + "?bibkeys=ISBN:" + url.QueryEscape(isbn) + "&format=json&jscmd=data"
	results := map[string]openLibraryBook{}
	if err := getJSON(ctx, p.client, u, &results); err != nil {
		return nil, err
	}

	book, ok := results["ISBN:"+isbn]
	if !ok {
		return nil, nil
	}

	record := &BookMetadata{
		Title:      book.Title,
		Confidence: openLibraryISBNScore,
		Source:     openLibraryName,
		CoverURL:   book.Cover.Large,
	}
	for _, a := range book.Authors {
		record.Authors = append(record.Authors, a.Name)
	}
	if len(book.Publishers) > 0 {
		record.Publisher = book.Publishers[0].Name
	}
	for _, s := range book.Subjects {
		record.Tags = append(record.Tags, s.Name)
	}
	if book.NumberOfPages > 0 {
		pages := book.NumberOfPages
		record.PageCount = &pages
	}
	if t := parseLoosePublishDate(book.PublishDate); t != nil {
		record.PublishedDate = t
	}
	assignISBN(record, isbn)

	return record, nil
}

type openLibrarySearchResponse struct {
	Docs []struct {
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		ISBN             []string `json:"isbn"`
		Language         []string `json:"language"`
		Subject          []string `json:"subject"`
	} `json:"docs"`
}

func (p *OpenLibrary) SearchByTitleAuthor(ctx context.Context, title, author string) ([]*BookMetadata, error) {
	if title == "" {
		return nil, errors.WithStack(ErrInvalidRequest)
	}

	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("limit", "10")

	var resp openLibrarySearchResponse
	if err := getJSON(ctx, p.client, p.searchURL()+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	confidence := openLibraryFirstScore
	var records []*BookMetadata
	for _, doc := range resp.Docs {
		record := &BookMetadata{
			Title:      doc.Title,
			Authors:    doc.AuthorName,
			Confidence: confidence,
			Source:     openLibraryName,
		}
		if doc.FirstPublishYear > 0 {
			t := time.Date(doc.FirstPublishYear, 1, 1, 0, 0, 0, 0, time.UTC)
			record.PublishedDate = &t
		}
		if len(doc.Language) > 0 {
			record.Language = doc.Language[0]
		}
		for _, raw := range doc.ISBN {
			assignISBN(record, raw)
		}
		if len(doc.Subject) > 10 {
			record.Tags = doc.Subject[:10]
		} else {
			record.Tags = doc.Subject
		}
		records = append(records, record)

		confidence -= openLibraryScoreStep
		if confidence < 0 {
			confidence = 0
		}
	}

	return records, nil
}

func (p *OpenLibrary) CoverURLByISBN(_ context.Context, isbn string) (string, error) {
	isbn = identifiers.NormalizeISBN(isbn)
	if isbn == "" {
		return "", errors.WithStack(ErrInvalidRequest)
	}
	return fmt.Sprintf(openLibraryCoverURL, isbn), nil
}

func (p *OpenLibrary) booksURL() string {
	if p.baseURL != "" {
		return p.baseURL + "/api/books"
	}
	return openLibraryBooksURL
}

func (p *OpenLibrary) searchURL() string {
	if p.baseURL != "" {
		return p.baseURL + "/search.json"
	}
	return openLibrarySearchURL
}

// assignISBN routes a raw ISBN string into the record's 10 or 13 slot if it
// validates; anything else is discarded.
func assignISBN(record *BookMetadata, raw string) {
	normalized := identifiers.NormalizeISBN(raw)
	switch {
	case len(normalized) == 10 && identifiers.ValidateISBN10(normalized) && record.ISBN10 == "":
		record.ISBN10 = normalized
	case len(normalized) == 13 && identifiers.ValidateISBN13(normalized) && record.ISBN13 == "":
		record.ISBN13 = normalized
	}
}

// parseLoosePublishDate handles the date shapes providers emit: a full date,
// a "Month day, year" form, or a bare year.
func parseLoosePublishDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "Jan 2, 2006", "January 2, 2006", "2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
