package library

import (
	"strconv"
	"strings"
	"time"

	"github.com/foliobooks/folio/pkg/fileutils"
	"github.com/uptrace/bun"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID            int64      `bun:",pk,autoincrement" json:"id"`
	Title         string     `bun:",nullzero" json:"title"`
	Authors       string     `bun:",nullzero" json:"authors"`
	Format        string     `bun:",nullzero" json:"format"`
	Filepath      string     `bun:",nullzero" json:"filepath"`
	Filesize      int64      `json:"filesize"`
	CoverPath     *string    `json:"cover_path"`
	ISBN10        *string    `bun:"isbn10" json:"isbn10"`
	ISBN13        *string    `bun:"isbn13" json:"isbn13"`
	Series        *string    `json:"series"`
	SeriesIndex   *float64   `json:"series_index"`
	Summary       *string    `json:"summary"`
	Language      *string    `json:"language"`
	Publisher     *string    `json:"publisher"`
	PublishedDate *time.Time `json:"published_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `bun:",soft_delete,nullzero" json:"-"`
}

// AuthorList splits the stored author string into display names.
func (b *Book) AuthorList() []string {
	return fileutils.SplitNames(b.Authors)
}

// Descriptor projects the persisted row into the read-only contract shape.
func (b *Book) Descriptor() Descriptor {
	return Descriptor{
		ID:        strconv.FormatInt(b.ID, 10),
		Title:     b.Title,
		Authors:   b.AuthorList(),
		Format:    b.Format,
		FileSize:  b.Filesize,
		DateAdded: b.CreatedAt,
		HasCover:  b.CoverPath != nil && *b.CoverPath != "",
	}
}

// JoinAuthors is the inverse of AuthorList for persistence.
func JoinAuthors(authors []string) string {
	return strings.Join(authors, "; ")
}
