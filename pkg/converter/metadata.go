package converter

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/foliobooks/folio/pkg/fileutils"
	"github.com/foliobooks/folio/pkg/identifiers"
	"github.com/foliobooks/folio/pkg/metadata"
	"github.com/pkg/errors"
)

// metadataConfidence is the fixed confidence for records extracted from the
// file itself (embedded metadata is usually right, but not authoritative).
const metadataConfidence = 0.8

var publishedDateLayouts = []string{"2006-01-02", "2006", "Jan 2, 2006", "January 2, 2006"}

// seriesWithIndexRE matches "Name [N]" series values.
var seriesWithIndexRE = regexp.MustCompile(`^(.*?)\s*\[(\d+(?:\.\d+)?)\]$`)

// GetMetadata runs the sibling metadata tool against path and parses its
// key: value dump.
func (c *Converter) GetMetadata(ctx context.Context, path string) (*metadata.BookMetadata, error) {
	c.mu.Lock()
	metaPath := c.metaPath
	c.mu.Unlock()
	if metaPath == "" {
		return nil, errors.WithStack(ErrConverterMissing)
	}

	cmd := exec.CommandContext(ctx, metaPath, path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, errors.WithStack(&ProcessFailedError{
			ExitCode:   exitCode,
			StderrTail: stderrTail(stderr.Bytes()),
		})
	}

	return parseMetadataDump(stdout.String()), nil
}

// parseMetadataDump converts the tool's line-oriented "key: value" output
// into a BookMetadata record.
func parseMetadataDump(dump string) *metadata.BookMetadata {
	record := &metadata.BookMetadata{
		Confidence: metadataConfidence,
		Source:     "converter",
	}

	for _, line := range strings.Split(dump, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch key {
		case "title":
			record.Title = value
		case "author(s)", "authors", "author":
			record.Authors = fileutils.SplitNames(value)
		case "publisher":
			record.Publisher = value
		case "published", "publication date", "pubdate":
			for _, layout := range publishedDateLayouts {
				if t, err := time.Parse(layout, value); err == nil {
					record.PublishedDate = &t
					break
				}
			}
		case "language", "languages":
			record.Language = value
		case "tags", "subjects", "subject":
			record.Tags = fileutils.SplitNames(value)
		case "series":
			if match := seriesWithIndexRE.FindStringSubmatch(value); match != nil {
				record.Series = match[1]
				if idx, err := strconv.ParseFloat(match[2], 64); err == nil {
					record.SeriesIndex = &idx
				}
			} else {
				record.Series = value
			}
		case "series index", "series_index":
			if idx, err := strconv.ParseFloat(value, 64); err == nil {
				record.SeriesIndex = &idx
			}
		case "isbn":
			normalized := identifiers.NormalizeISBN(value)
			switch len(normalized) {
			case 10:
				record.ISBN10 = normalized
			case 13:
				record.ISBN13 = normalized
			}
		}
	}

	return record
}
