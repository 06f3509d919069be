package metadata

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/foliobooks/folio/pkg/htmlutil"
	"github.com/foliobooks/folio/pkg/identifiers"
	"github.com/pkg/errors"
)

const (
	googleBooksName       = "googlebooks"
	googleBooksVolumesURL = "https://www.googleapis.com/books/v1/volumes"
	googleBooksISBNScore  = 0.85
	googleBooksFirstScore = 0.7
	googleBooksScoreStep  = 0.05
)

// GoogleBooks queries the Google Books volumes API. Works unauthenticated at
// low request rates; rate limiting surfaces as ErrRateLimited.
type GoogleBooks struct {
	client  *http.Client
	baseURL string
}

func NewGoogleBooks() *GoogleBooks {
	return &GoogleBooks{client: newProviderClient()}
}

func (p *GoogleBooks) Name() string {
	return googleBooksName
}

type googleBooksResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title               string   `json:"title"`
			Authors             []string `json:"authors"`
			Publisher           string   `json:"publisher"`
			PublishedDate       string   `json:"publishedDate"`
			Description         string   `json:"description"`
			PageCount           int      `json:"pageCount"`
			Categories          []string `json:"categories"`
			Language            string   `json:"language"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
			ImageLinks struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (p *GoogleBooks) LookupByISBN(ctx context.Context, isbn string) (*BookMetadata, error) {
	isbn = identifiers.NormalizeISBN(isbn)
	if isbn == "" {
		return nil, errors.WithStack(ErrInvalidRequest)
	}

	records, err := p.query(ctx, "isbn:"+isbn, googleBooksISBNScore, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (p *GoogleBooks) SearchByTitleAuthor(ctx context.Context, title, author string) ([]*BookMetadata, error) {
	if title == "" {
		return nil, errors.WithStack(ErrInvalidRequest)
	}

	q := "intitle:" + title
	if author != "" {
		q += "+inauthor:" + author
	}
	return p.query(ctx, q, googleBooksFirstScore, googleBooksScoreStep)
}

func (p *GoogleBooks) CoverURLByISBN(ctx context.Context, isbn string) (string, error) {
	record, err := p.LookupByISBN(ctx, isbn)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}
	return record.CoverURL, nil
}

func (p *GoogleBooks) query(ctx context.Context, q string, confidence, step float64) ([]*BookMetadata, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", "10")

	var resp googleBooksResponse
	if err := getJSON(ctx, p.client, p.volumesURL()+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	var records []*BookMetadata
	for _, item := range resp.Items {
		info := item.VolumeInfo
		record := &BookMetadata{
			Title:      info.Title,
			Authors:    info.Authors,
			Publisher:  info.Publisher,
			Language:   info.Language,
			Tags:       info.Categories,
			Summary:    htmlutil.StripTags(info.Description),
			Confidence: confidence,
			Source:     googleBooksName,
			// Google serves covers over http by default; upgrade the scheme.
			CoverURL: strings.Replace(info.ImageLinks.Thumbnail, "http://", "https://", 1),
		}
		if info.PageCount > 0 {
			pages := info.PageCount
			record.PageCount = &pages
		}
		if t := parseLoosePublishDate(info.PublishedDate); t != nil {
			record.PublishedDate = t
		}
		for _, id := range info.IndustryIdentifiers {
			switch id.Type {
			case "ISBN_10", "ISBN_13":
				assignISBN(record, id.Identifier)
			}
		}
		records = append(records, record)

		confidence -= step
		if confidence < 0 {
			confidence = 0
		}
	}

	return records, nil
}

func (p *GoogleBooks) volumesURL() string {
	if p.baseURL != "" {
		return p.baseURL + "/books/v1/volumes"
	}
	return googleBooksVolumesURL
}
