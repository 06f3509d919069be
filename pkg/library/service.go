// Package library persists the book catalog and implements the Provider
// contract the transfer server and delivery service consume.
package library

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveBookOptions struct {
	ID       *int64
	Filepath *string
}

type ListBooksOptions struct {
	Limit  *int
	Offset *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateBook(ctx context.Context, book *Book) error {
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = book.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(book).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*Book, error) {
	book := &Book{}
	q := svc.db.NewSelect().Model(book)

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("b.filepath = ?", *opts.Filepath)
	}

	err := q.Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(ErrBookNotFound)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*Book, error) {
	var books []*Book
	q := svc.db.NewSelect().Model(&books).Order("title ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return books, nil
}

func (svc *Service) UpdateBook(ctx context.Context, book *Book, columns ...string) error {
	book.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(book).
		Column(columns...).
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) DeleteBook(ctx context.Context, book *Book) error {
	_, err := svc.db.NewDelete().Model(book).WherePK().Exec(ctx)
	return errors.WithStack(err)
}

// CountBooks returns the number of live catalog entries.
func (svc *Service) CountBooks(ctx context.Context) (int, error) {
	count, err := svc.db.NewSelect().Model((*Book)(nil)).Count(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return count, nil
}

// Provider contract implementation.

func (svc *Service) List(ctx context.Context) ([]Descriptor, error) {
	books, err := svc.ListBooks(ctx, ListBooksOptions{})
	if err != nil {
		return nil, err
	}

	descriptors := make([]Descriptor, 0, len(books))
	for _, book := range books {
		descriptors = append(descriptors, book.Descriptor())
	}
	return descriptors, nil
}

func (svc *Service) FilePath(ctx context.Context, id string) (string, error) {
	book, err := svc.bookByStringID(ctx, id)
	if err != nil {
		return "", err
	}
	return book.Filepath, nil
}

func (svc *Service) Format(ctx context.Context, id string) (string, error) {
	book, err := svc.bookByStringID(ctx, id)
	if err != nil {
		return "", err
	}
	return book.Format, nil
}

func (svc *Service) BookInfo(ctx context.Context, id string) (string, []string, error) {
	book, err := svc.bookByStringID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return book.Title, book.AuthorList(), nil
}

func (svc *Service) CoverPath(ctx context.Context, id string) (string, error) {
	book, err := svc.bookByStringID(ctx, id)
	if err != nil {
		return "", err
	}
	if book.CoverPath == nil || *book.CoverPath == "" {
		return "", errors.WithStack(ErrNoCover)
	}
	return *book.CoverPath, nil
}

// Acquire returns the book's path directly. Files live in a plain directory,
// so no scoped access is needed and release is a no-op.
func (svc *Service) Acquire(ctx context.Context, id string) (string, func(), error) {
	path, err := svc.FilePath(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return path, func() {}, nil
}

func (svc *Service) bookByStringID(ctx context.Context, id string) (*Book, error) {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, errors.WithStack(ErrBookNotFound)
	}
	return svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &numericID})
}
