package transfer

import (
	"fmt"
	"html"
	"strings"

	"github.com/foliobooks/folio/pkg/formats"
	"github.com/foliobooks/folio/pkg/library"
)

const baseTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Folio</title>
  <style>
    body { font-family: sans-serif; margin: 8px; max-width: 720px; }
    h1 { font-size: 1.4em; }
    .item { padding: 12px 0; border-bottom: 1px solid #ccc; }
    .item-title { font-size: 1.1em; font-weight: bold; }
    .item-meta { font-size: 0.9em; color: #666; margin: 4px 0; }
    .badge { display: inline-block; padding: 2px 6px; border: 1px solid #999; font-size: 0.8em; text-transform: uppercase; }
    .btn { display: inline-block; padding: 10px 14px; margin: 4px 4px 0 0; border: 1px solid #000; text-decoration: none; color: #000; }
    .empty { margin: 48px 0; text-align: center; color: #666; }
  </style>
</head>
<body>
  %s
</body>
</html>`

// renderCatalog produces the full catalog page. Titles and authors come from
// user files, so everything dynamic is escaped.
func renderCatalog(books []library.Descriptor, converterAvailable bool) string {
	var content strings.Builder
	content.WriteString("<h1>Folio Library</h1>")

	if len(books) == 0 {
		content.WriteString(`<div class="empty"><p>No books in the library yet.</p></div>`)
		return fmt.Sprintf(baseTemplate, content.String())
	}

	for _, book := range books {
		content.WriteString(bookRow(book, converterAvailable))
	}
	return fmt.Sprintf(baseTemplate, content.String())
}

func bookRow(book library.Descriptor, converterAvailable bool) string {
	authors := "Unknown Author"
	if len(book.Authors) > 0 {
		authors = strings.Join(book.Authors, ", ")
	}

	buttons := fmt.Sprintf(`<a href="/api/books/%s/download" class="btn">Download</a>`, html.EscapeString(book.ID))
	if !formats.IsKindleNative(book.Format) && converterAvailable {
		buttons += fmt.Sprintf(` <a href="/api/books/%s/kindle" class="btn">Kindle</a>`, html.EscapeString(book.ID))
	}

	return fmt.Sprintf(`<div class="item">
  <div class="item-title">%s</div>
  <div class="item-meta">%s · <span class="badge">%s</span> · %s</div>
  %s
</div>`,
		html.EscapeString(book.Title),
		html.EscapeString(authors),
		html.EscapeString(book.Format),
		humanSize(book.FileSize),
		buttons)
}

// converterMissingPage explains why Kindle downloads are unavailable.
func converterMissingPage() string {
	return fmt.Sprintf(baseTemplate, `<h1>Converter Not Installed</h1>
<p>Converting books for Kindle requires the calibre command line tools (ebook-convert).</p>
<p>Install calibre and try again.</p>
<div class="nav"><a href="/" class="btn">Back to catalog</a></div>`)
}
