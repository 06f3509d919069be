package transfer

import (
	"net/http"

	"github.com/foliobooks/folio/pkg/errcodes"
	"github.com/foliobooks/folio/pkg/identifiers"
	"github.com/foliobooks/folio/pkg/metadata"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type searchMetadataPayload struct {
	Title  string `query:"title" validate:"required"`
	Author string `query:"author"`
}

func (h *handler) metadataByISBN(c echo.Context) error {
	ctx := c.Request().Context()

	isbn := identifiers.NormalizeISBN(c.Param("isbn"))
	if !identifiers.IsValidISBN(isbn) {
		return errcodes.ValidationError(`"isbn" is not a valid ISBN-10 or ISBN-13`)
	}

	record, err := h.metadata.FetchByISBN(ctx, isbn, metadata.FetchOptions{})
	if err != nil {
		var failed *metadata.AllProvidersFailedError
		if errors.As(err, &failed) {
			return errcodes.Unavailable("No metadata provider could be reached.")
		}
		return err
	}
	if record == nil {
		return errcodes.NotFound("Metadata")
	}

	return c.JSON(http.StatusOK, record)
}

func (h *handler) searchMetadata(c echo.Context) error {
	ctx := c.Request().Context()

	payload := &searchMetadataPayload{}
	if err := c.Bind(payload); err != nil {
		return err
	}

	results, err := h.metadata.Search(ctx, payload.Title, payload.Author, metadata.SearchOptions{})
	if err != nil {
		var failed *metadata.AllProvidersFailedError
		if errors.As(err, &failed) {
			return errcodes.Unavailable("No metadata provider could be reached.")
		}
		return err
	}
	if results == nil {
		results = []*metadata.BookMetadata{}
	}

	return c.JSON(http.StatusOK, results)
}
