package transfer

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/foliobooks/folio/pkg/convertcache"
	"github.com/foliobooks/folio/pkg/converter"
	"github.com/foliobooks/folio/pkg/delivery"
	"github.com/foliobooks/folio/pkg/errcodes"
	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/formats"
	"github.com/foliobooks/folio/pkg/library"
	"github.com/foliobooks/folio/pkg/metadata"
	"github.com/foliobooks/folio/pkg/qrcode"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// conversionTimeout bounds the wait for an on-demand transcode.
const conversionTimeout = 300 * time.Second

type handler struct {
	provider  library.Provider
	converter *converter.Converter
	cache     *convertcache.Cache
	delivery  *delivery.Service
	metadata  *metadata.Aggregator
	server    *Server

	activeDownloads atomic.Int64
}

// beginDownload and endDownload bracket every download handler, including
// error paths.
func (h *handler) beginDownload() {
	count := h.activeDownloads.Add(1)
	h.publishDownloadCount(count)
}

func (h *handler) endDownload() {
	count := h.activeDownloads.Add(-1)
	h.publishDownloadCount(count)
}

func (h *handler) publishDownloadCount(count int64) {
	if h.server.hub != nil {
		h.server.hub.Publish(events.TypeDownloadCountChanged, count)
	}
}

func (h *handler) catalogPage(c echo.Context) error {
	ctx := c.Request().Context()

	books, err := h.provider.List(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	page := renderCatalog(books, h.converter.IsAvailable())
	return c.HTML(http.StatusOK, page)
}

func (h *handler) listBooks(c echo.Context) error {
	ctx := c.Request().Context()

	books, err := h.provider.List(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if books == nil {
		books = []library.Descriptor{}
	}
	return c.JSON(http.StatusOK, books)
}

func (h *handler) downloadBook(c echo.Context) error {
	h.beginDownload()
	defer h.endDownload()

	return h.serveRaw(c, c.Param("id"))
}

// serveRaw streams the original file with its original MIME type. Shared by
// the raw handler and the kindle handler's native-format delegation.
func (h *handler) serveRaw(c echo.Context, id string) error {
	ctx := c.Request().Context()

	path, release, err := h.provider.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			return errcodes.NotFound("Book")
		}
		return err
	}
	defer release()

	return h.streamFile(c, path, formats.MIMEType(formats.FromPath(path)), filepath.Base(path))
}

func (h *handler) streamFile(c echo.Context, path, mime, filename string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errcodes.NotFound("Book file")
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size(), 10))
	return c.Stream(http.StatusOK, mime, f)
}

func (h *handler) kindleDownload(c echo.Context) error {
	h.beginDownload()
	defer h.endDownload()

	ctx := c.Request().Context()
	id := c.Param("id")

	format, err := h.provider.Format(ctx, id)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			return errcodes.NotFound("Book")
		}
		return err
	}

	// Native formats need no transcoding.
	if formats.IsKindleNative(format) {
		return h.serveRaw(c, id)
	}

	if !h.converter.IsAvailable() {
		return c.HTML(http.StatusServiceUnavailable, converterMissingPage())
	}

	path, release, err := h.provider.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			return errcodes.NotFound("Book")
		}
		return err
	}
	defer release()

	title, authors, err := h.provider.BookInfo(ctx, id)
	if err != nil {
		return err
	}

	convertCtx, cancel := context.WithTimeout(ctx, conversionTimeout)
	defer cancel()

	workDir, err := os.MkdirTemp("", "folio-convert-")
	if err != nil {
		return errors.WithStack(err)
	}
	// The artifact is moved into the cache before GetOrConvert returns, so
	// the scratch dir is disposable on every path.
	defer os.RemoveAll(workDir)

	key := convertcache.Key{BookID: id, TargetFormat: formats.FormatMOBI}
	artifact, err := h.cache.GetOrConvert(key, func() (string, error) {
		return h.transcode(convertCtx, workDir, path, title, authors)
	})
	if err != nil {
		if errors.Is(convertCtx.Err(), context.DeadlineExceeded) {
			return errcodes.GatewayTimeout("Conversion timed out.")
		}
		logger.FromContext(ctx).Err(err).Error("conversion failed")
		return c.HTML(http.StatusInternalServerError, conversionFailedPage(err))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return h.streamFile(c, artifact, formats.MIMEType(formats.FormatMOBI), base+".mobi")
}

// transcode produces a fresh mobi in the caller's scratch directory so the
// cache can move it into place atomically.
func (h *handler) transcode(ctx context.Context, workDir, source, title string, authors []string) (string, error) {
	var extra []string
	if title != "" {
		extra = append(extra, "--title", title)
	}
	if len(authors) > 0 {
		extra = append(extra, "--authors", strings.Join(authors, " & "))
	}

	jobID := h.converter.NewJobID()
	return h.converter.Convert(ctx, jobID, source, formats.FormatMOBI, converter.ConvertOptions{
		Profile:   "kindle",
		Quality:   75,
		OutputDir: workDir,
		ExtraArgs: extra,
	})
}

func (h *handler) bookCover(c echo.Context) error {
	// Covers are not served in this revision.
	return errcodes.NotFound("Cover")
}

type sendBookPayload struct {
	Destination string `json:"destination" validate:"omitempty,kindle_email"`
}

func (h *handler) sendBook(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	c.Set("disallow_empty_body", false)
	payload := &sendBookPayload{}
	if err := c.Bind(payload); err != nil {
		return err
	}

	destination := payload.Destination
	if destination == "" {
		saved, err := h.delivery.DefaultDestination()
		if err != nil {
			return err
		}
		destination = saved
	}
	if destination == "" {
		return errcodes.ValidationError(`"destination" is required`)
	}

	path, release, err := h.provider.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, library.ErrBookNotFound) {
			return errcodes.NotFound("Book")
		}
		return err
	}
	defer release()

	title, _, err := h.provider.BookInfo(ctx, id)
	if err != nil {
		return err
	}

	result, err := h.delivery.Send(ctx, path, destination, title)
	if err != nil {
		var invalid *delivery.InvalidDestinationError
		var tooLarge *delivery.FileTooLargeError
		switch {
		case errors.As(err, &invalid):
			return errcodes.ValidationError(`"destination" is not a kindle address`)
		case errors.As(err, &tooLarge):
			return errcodes.ValidationError("Book file exceeds the 50 MiB delivery limit.")
		case errors.Is(err, delivery.ErrNotConfigured):
			return errcodes.Unavailable("SMTP delivery is not configured.")
		}
		return err
	}

	return c.JSON(http.StatusOK, result)
}

type statusResponse struct {
	Running            bool   `json:"running"`
	ServerURL          string `json:"server_url"`
	Port               int    `json:"port"`
	ActiveDownloads    int64  `json:"active_downloads"`
	ConverterAvailable bool   `json:"converter_available"`
	BookCount          int    `json:"book_count"`
}

func (h *handler) status(c echo.Context) error {
	ctx := c.Request().Context()

	books, err := h.provider.List(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return c.JSON(http.StatusOK, statusResponse{
		Running:            true,
		ServerURL:          h.server.URL(),
		Port:               h.server.Port(),
		ActiveDownloads:    h.activeDownloads.Load(),
		ConverterAvailable: h.converter.IsAvailable(),
		BookCount:          len(books),
	})
}

func (h *handler) listPeers(c echo.Context) error {
	return c.JSON(http.StatusOK, h.server.Peers())
}

func (h *handler) qrCode(c echo.Context) error {
	url := h.server.URL()
	if url == "" {
		return errcodes.NotFound("Server URL")
	}

	png, err := qrcode.Generate(url, qrcode.Options{Size: 256})
	if err != nil {
		return errors.WithStack(err)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func conversionFailedPage(err error) string {
	return fmt.Sprintf(baseTemplate, fmt.Sprintf(`<h1>Conversion Failed</h1>
<p>%s</p>
<div class="nav"><a href="/" class="nav-btn">Back to catalog</a></div>`, html.EscapeString(err.Error())))
}
