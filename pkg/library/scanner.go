package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/foliobooks/folio/pkg/fileutils"
	"github.com/foliobooks/folio/pkg/formats"
	"github.com/foliobooks/folio/pkg/metadata"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// metadataExtractor is implemented by the converter when the calibre tools
// are installed. Extraction is best-effort.
type metadataExtractor interface {
	IsAvailable() bool
	GetMetadata(ctx context.Context, path string) (*metadata.BookMetadata, error)
}

// Scanner reconciles the catalog with the files under the library directory.
type Scanner struct {
	svc       *Service
	dir       string
	extractor metadataExtractor
}

func NewScanner(svc *Service, dir string, extractor metadataExtractor) *Scanner {
	return &Scanner{svc: svc, dir: dir, extractor: extractor}
}

// Scan walks the library directory once. New files are inserted, changed
// files updated, and rows whose file disappeared are deleted.
func (s *Scanner) Scan(ctx context.Context) error {
	log := logger.FromContext(ctx)

	seen := map[string]bool{}
	err := filepath.WalkDir(s.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			return nil
		}

		tag := formats.FromPath(path)
		if !formats.IsRecognized(tag) {
			return nil
		}

		seen[path] = true
		if err := s.reconcileFile(ctx, path); err != nil {
			log.Err(err).Data(logger.Data{"path": path}).Error("failed to reconcile file")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Data(logger.Data{"dir": s.dir}).Warn("library directory does not exist")
			return nil
		}
		return errors.WithStack(err)
	}

	return s.pruneMissing(ctx, seen)
}

func (s *Scanner) reconcileFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.WithStack(err)
	}

	existing, err := s.svc.RetrieveBook(ctx, RetrieveBookOptions{Filepath: &path})
	if err != nil && !errors.Is(err, ErrBookNotFound) {
		return err
	}

	if existing != nil {
		if existing.Filesize == info.Size() {
			return nil
		}
		existing.Filesize = info.Size()
		return s.svc.UpdateBook(ctx, existing, "filesize")
	}

	book := &Book{
		Filepath: path,
		Filesize: info.Size(),
		Format:   formats.FromPath(path),
	}
	s.applyMetadata(ctx, book, path)

	if book.Title == "" {
		book.Title = titleFromFilename(path)
	}

	return s.svc.CreateBook(ctx, book)
}

// applyMetadata fills the book from embedded metadata when the extractor is
// around. Failures leave the book to filename-derived fields.
func (s *Scanner) applyMetadata(ctx context.Context, book *Book, path string) {
	if s.extractor == nil || !s.extractor.IsAvailable() {
		return
	}

	meta, err := s.extractor.GetMetadata(ctx, path)
	if err != nil || meta == nil {
		logger.FromContext(ctx).Data(logger.Data{"path": path}).Debug("no embedded metadata")
		return
	}

	book.Title = meta.Title
	book.Authors = JoinAuthors(meta.Authors)
	if meta.ISBN10 != "" {
		book.ISBN10 = &meta.ISBN10
	}
	if meta.ISBN13 != "" {
		book.ISBN13 = &meta.ISBN13
	}
	if meta.Publisher != "" {
		book.Publisher = &meta.Publisher
	}
	book.PublishedDate = meta.PublishedDate
	if meta.Language != "" {
		book.Language = &meta.Language
	}
	if meta.Series != "" {
		book.Series = &meta.Series
	}
	book.SeriesIndex = meta.SeriesIndex
	if meta.Summary != "" {
		book.Summary = &meta.Summary
	}
}

func (s *Scanner) pruneMissing(ctx context.Context, seen map[string]bool) error {
	books, err := s.svc.ListBooks(ctx, ListBooksOptions{})
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	for _, book := range books {
		if seen[book.Filepath] {
			continue
		}
		if err := s.svc.DeleteBook(ctx, book); err != nil {
			log.Err(err).Data(logger.Data{"path": book.Filepath}).Error("failed to remove missing book")
		}
	}
	return nil
}

// titleFromFilename derives "Author - Title" style names, falling back to
// the bare stem.
func titleFromFilename(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, after, ok := strings.Cut(stem, " - "); ok && after != "" {
		return after
	}
	return fileutils.SanitizeFilename(stem)
}
