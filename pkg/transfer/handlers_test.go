package transfer

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foliobooks/folio/pkg/config"
	"github.com/foliobooks/folio/pkg/convertcache"
	"github.com/foliobooks/folio/pkg/converter"
	"github.com/foliobooks/folio/pkg/delivery"
	"github.com/foliobooks/folio/pkg/discovery"
	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/library"
	"github.com/foliobooks/folio/pkg/secrets"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBook backs one entry of the stub provider.
type stubBook struct {
	title   string
	authors []string
	format  string
	path    string
	size    int64
}

// stubProvider serves a fixed set of books out of temp files.
type stubProvider struct {
	books map[string]stubBook
	order []string
}

func (p *stubProvider) add(id string, book stubBook) {
	if p.books == nil {
		p.books = map[string]stubBook{}
	}
	p.books[id] = book
	p.order = append(p.order, id)
}

func (p *stubProvider) lookup(id string) (stubBook, error) {
	book, ok := p.books[id]
	if !ok {
		return stubBook{}, errors.WithStack(library.ErrBookNotFound)
	}
	return book, nil
}

func (p *stubProvider) List(_ context.Context) ([]library.Descriptor, error) {
	var descriptors []library.Descriptor
	for _, id := range p.order {
		book := p.books[id]
		descriptors = append(descriptors, library.Descriptor{
			ID:       id,
			Title:    book.title,
			Authors:  book.authors,
			Format:   book.format,
			FileSize: book.size,
		})
	}
	return descriptors, nil
}

func (p *stubProvider) FilePath(_ context.Context, id string) (string, error) {
	book, err := p.lookup(id)
	if err != nil {
		return "", err
	}
	return book.path, nil
}

func (p *stubProvider) Format(_ context.Context, id string) (string, error) {
	book, err := p.lookup(id)
	if err != nil {
		return "", err
	}
	return book.format, nil
}

func (p *stubProvider) BookInfo(_ context.Context, id string) (string, []string, error) {
	book, err := p.lookup(id)
	if err != nil {
		return "", nil, err
	}
	return book.title, book.authors, nil
}

func (p *stubProvider) CoverPath(_ context.Context, id string) (string, error) {
	if _, err := p.lookup(id); err != nil {
		return "", err
	}
	return "", errors.WithStack(library.ErrNoCover)
}

func (p *stubProvider) Acquire(_ context.Context, id string) (string, func(), error) {
	book, err := p.lookup(id)
	if err != nil {
		return "", nil, err
	}
	return book.path, func() {}, nil
}

func newTestServer(t *testing.T, provider library.Provider) *Server {
	t.Helper()

	cfg := &config.Config{
		PortRangeStart: 8080,
		PortRangeEnd:   8180,
	}

	hub := events.NewHub()
	cache, err := convertcache.New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	dir := t.TempDir()
	deliverySvc := delivery.NewService(config.NewUserSettings(dir), secrets.NewFileStore(dir), nil, hub)

	s, err := New(cfg, provider, converter.New(hub), cache, deliverySvc, hub)
	require.NoError(t, err)
	return s
}

func bookFile(t *testing.T, name, contents string) (string, int64) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path, int64(len(contents))
}

func do(s *Server, method, target, body, contentType string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set(echoHeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestListBooks(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	path, size := bookFile(t, "novel.epub", "epub bytes")
	provider.add("1", stubBook{title: "The Novel", authors: []string{"Author One"}, format: "epub", path: path, size: size})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodGet, "/api/books", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var books []library.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &books))
	require.Len(t, books, 1)
	assert.Equal(t, "1", books[0].ID)
	assert.Equal(t, "The Novel", books[0].Title)
	assert.Equal(t, "epub", books[0].Format)
}

func TestListBooks_EmptyIsAnArray(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := do(s, http.MethodGet, "/api/books", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCatalogPage_Empty(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := do(s, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No books in the library yet.")
}

func TestCatalogPage_EscapesUserContent(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	provider.add("1", stubBook{
		title:   `<script>alert("xss")</script>`,
		authors: []string{`Mallory <img src=x>`},
		format:  "epub",
		size:    1024,
	})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	page := rec.Body.String()
	assert.NotContains(t, page, `<script>alert`)
	assert.Contains(t, page, "&lt;script&gt;")
	assert.Contains(t, page, "Mallory &lt;img src=x&gt;")
}

func TestRenderCatalog_Buttons(t *testing.T) {
	t.Parallel()

	books := []library.Descriptor{
		{ID: "1", Title: "Epub Book", Format: "epub", FileSize: 1024},
		{ID: "2", Title: "Mobi Book", Format: "mobi", FileSize: 1024},
	}

	page := renderCatalog(books, true)
	assert.Contains(t, page, `/api/books/1/download`)
	assert.Contains(t, page, `/api/books/1/kindle`)
	// Native formats never get a conversion button.
	assert.Contains(t, page, `/api/books/2/download`)
	assert.NotContains(t, page, `/api/books/2/kindle`)

	// Without a converter the button disappears entirely.
	page = renderCatalog(books, false)
	assert.NotContains(t, page, "/kindle")

	// Books without authors get a placeholder.
	assert.Contains(t, page, "Unknown Author")
}

func TestDownloadBook(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	path, size := bookFile(t, "novel.epub", "epub file contents")
	provider.add("1", stubBook{title: "The Novel", format: "epub", path: path, size: size})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodGet, "/api/books/1/download", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "epub file contents", rec.Body.String())
	assert.Equal(t, "application/epub+zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="novel.epub"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "18", rec.Header().Get("Content-Length"))

	// The download counter is back to zero once the response is written.
	assert.Equal(t, int64(0), s.handler.activeDownloads.Load())
}

func TestDownloadBook_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := do(s, http.MethodGet, "/api/books/999/download", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	// Error paths decrement the counter too.
	assert.Equal(t, int64(0), s.handler.activeDownloads.Load())
}

func TestKindleDownload_NativeFormatServedAsIs(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	path, size := bookFile(t, "novel.mobi", "mobi file contents")
	provider.add("1", stubBook{title: "The Novel", format: "mobi", path: path, size: size})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodGet, "/api/books/1/kindle", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mobi file contents", rec.Body.String())
	assert.Equal(t, "application/x-mobipocket-ebook", rec.Header().Get("Content-Type"))
}

func TestKindleDownload_ConverterMissing(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	path, size := bookFile(t, "novel.epub", "epub bytes")
	provider.add("1", stubBook{title: "The Novel", format: "epub", path: path, size: size})

	s := newTestServer(t, provider)
	s.handler.converter.SetBinaryPath("")

	rec := do(s, http.MethodGet, "/api/books/1/kindle", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Converter Not Installed")
}

// converterScript installs a stand-in converter binary on the test server.
func converterScript(t *testing.T, s *Server, body string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-convert")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	s.handler.converter.SetBinaryPath(path)
}

func countScratchDirs(t *testing.T) int {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "folio-convert-*"))
	require.NoError(t, err)
	return len(matches)
}

func TestKindleDownload_Transcodes(t *testing.T) {
	provider := &stubProvider{}
	path, _ := bookFile(t, "novel.epub", "epub bytes")
	provider.add("1", stubBook{title: "The Novel", format: "epub", path: path})

	s := newTestServer(t, provider)
	converterScript(t, s, `cp "$1" "$2"
`)

	before := countScratchDirs(t)

	rec := do(s, http.MethodGet, "/api/books/1/kindle", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/x-mobipocket-ebook")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="novel.mobi"`)
	assert.Equal(t, "epub bytes", rec.Body.String())

	// The scratch directory never outlives the request.
	assert.Equal(t, before, countScratchDirs(t))

	// A second request is served from the cache without re-converting.
	rec = do(s, http.MethodGet, "/api/books/1/kindle", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "epub bytes", rec.Body.String())
	assert.Equal(t, before, countScratchDirs(t))
}

func TestKindleDownload_ConversionFailure(t *testing.T) {
	provider := &stubProvider{}
	path, _ := bookFile(t, "novel.epub", "epub bytes")
	provider.add("1", stubBook{title: "The Novel", format: "epub", path: path})

	s := newTestServer(t, provider)
	converterScript(t, s, `echo "boom" >&2
exit 1
`)

	before := countScratchDirs(t)

	rec := do(s, http.MethodGet, "/api/books/1/kindle", "", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Conversion Failed")
	assert.Equal(t, before, countScratchDirs(t))
}

func TestKindleDownload_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := do(s, http.MethodGet, "/api/books/999/kindle", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestBookCover_NotFound(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	provider.add("1", stubBook{title: "The Novel", format: "epub"})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodGet, "/api/books/1/cover", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	provider.add("1", stubBook{title: "The Novel", format: "epub"})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.BookCount)
	assert.Equal(t, int64(0), status.ActiveDownloads)
	assert.Equal(t, s.handler.converter.IsAvailable(), status.ConverterAvailable)
}

func TestListPeers(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})

	rec := do(s, http.MethodGet, "/api/peers", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	// Peers arrive through the discovery event stream.
	eventsCh := make(chan discovery.PeerEvent, 2)
	eventsCh <- discovery.PeerEvent{Added: true, Peer: discovery.Peer{ID: "peer-1", Name: "study", Host: "192.168.1.20", Port: 8081}}
	close(eventsCh)
	s.TrackPeers(context.Background(), eventsCh)

	rec = do(s, http.MethodGet, "/api/peers", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var peers []discovery.Peer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, "peer-1", peers[0].ID)
	assert.Equal(t, 8081, peers[0].Port)
}

func TestTrackPeers_Removal(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})

	eventsCh := make(chan discovery.PeerEvent, 2)
	eventsCh <- discovery.PeerEvent{Added: true, Peer: discovery.Peer{ID: "peer-1", Name: "study"}}
	eventsCh <- discovery.PeerEvent{Added: false, Peer: discovery.Peer{ID: "peer-1"}}
	close(eventsCh)
	s.TrackPeers(context.Background(), eventsCh)

	assert.Empty(t, s.Peers())
}

func TestSendBook_InvalidDestination(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	path, size := bookFile(t, "novel.epub", "epub bytes")
	provider.add("1", stubBook{title: "The Novel", format: "epub", path: path, size: size})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodPost, "/api/books/1/send", `{"destination":"reader@gmail.com"}`, "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))
}

func TestSendBook_MissingDestination(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	provider.add("1", stubBook{title: "The Novel", format: "epub"})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodPost, "/api/books/1/send", `{}`, "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), "destination")
}

func TestSendBook_UnknownField(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := do(s, http.MethodPost, "/api/books/1/send", `{"bogus":true}`, "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unknown_parameter", errorCode(t, rec))
}

func TestSendBook_NotConfigured(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{}
	path, size := bookFile(t, "novel.epub", "epub bytes")
	provider.add("1", stubBook{title: "The Novel", format: "epub", path: path, size: size})

	s := newTestServer(t, provider)
	rec := do(s, http.MethodPost, "/api/books/1/send", `{"destination":"reader@kindle.com"}`, "application/json")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", errorCode(t, rec))
}

func TestQRCode(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})

	// No URL before the server binds.
	rec := do(s, http.MethodGet, "/api/qr.png", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	s.mu.Lock()
	s.serverURL = "http://192.168.1.10:8080"
	s.mu.Unlock()

	rec = do(s, http.MethodGet, "/api/qr.png", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"), "body should be a PNG")
}

func TestStart_NoPortAvailable(t *testing.T) {
	t.Parallel()

	// Occupy a port, then offer a range containing only it.
	l, err := net.Listen("tcp4", ":0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	s := newTestServer(t, &stubProvider{})
	s.cfg.PortRangeStart = port
	s.cfg.PortRangeEnd = port

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoPortAvailable)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()

	hub := events.NewHub()
	statusCh, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	s := newTestServer(t, &stubProvider{})
	s.hub = hub
	s.cfg.PortRangeStart = 18080
	s.cfg.PortRangeEnd = 18180

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background()) //nolint:errcheck

	assert.GreaterOrEqual(t, s.Port(), 18080)
	assert.LessOrEqual(t, s.Port(), 18180)
	assert.True(t, strings.HasPrefix(s.URL(), "http://"))

	event := <-statusCh
	require.Equal(t, events.TypeServerStatus, event.Type)
	status := event.Data.(events.ServerStatus)
	assert.True(t, status.Running)
	assert.Equal(t, s.Port(), status.Port)

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestHumanSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0 B", humanSize(0))
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.0 KB", humanSize(1024))
	assert.Equal(t, "1.5 MB", humanSize(3*512*1024))
	assert.Equal(t, "2.0 GB", humanSize(2*1024*1024*1024))
}
