package delivery

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/foliobooks/folio/pkg/config"
	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/migrations"
	"github.com/foliobooks/folio/pkg/secrets"
	"github.com/foliobooks/folio/pkg/smtpclient"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	return db
}

// fakeSender scripts the SMTP outcome and records what it was asked to send.
type fakeSender struct {
	err error

	recipient string
	msg       *smtpclient.Message
}

func (f *fakeSender) Send(_ context.Context, _, recipient string, msg *smtpclient.Message) error {
	f.recipient = recipient
	f.msg = msg
	return f.err
}

type serviceFixture struct {
	svc    *Service
	sender *fakeSender
	hub    *events.Hub
}

// newConfiguredService builds a service with SMTP settings, a stored
// password, and a fake sender already in place.
func newConfiguredService(t *testing.T, db *bun.DB) *serviceFixture {
	t.Helper()

	dir := t.TempDir()
	settings := config.NewUserSettings(dir)
	require.NoError(t, settings.SetSMTPConfig(&config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "sender@example.com",
		UseTLS:   true,
	}))

	store := secrets.NewFileStore(dir)
	require.NoError(t, store.Set(secrets.AccountSMTPPassword, "hunter2"))

	hub := events.NewHub()
	svc := NewService(settings, store, db, hub)
	fake := &fakeSender{}
	svc.newSender = func(_ smtpclient.Config) sender { return fake }

	return &serviceFixture{svc: svc, sender: fake, hub: hub}
}

func writeBookFile(t *testing.T, name, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestIsValidDestination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr  string
		valid bool
	}{
		{"reader@kindle.com", true},
		{"reader@free.kindle.com", true},
		{"reader_42@kindle.com", true},
		{"reader@gmail.com", false},
		{"@kindle.com", false},
		{"@free.kindle.com", false},
		{"a@b@kindle.com", false},
		{"kindle.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.valid, IsValidDestination(tt.addr))
		})
	}
}

func TestSend_InvalidDestination(t *testing.T) {
	t.Parallel()

	f := newConfiguredService(t, nil)
	_, err := f.svc.Send(context.Background(), writeBookFile(t, "b.epub", "x"), "reader@gmail.com", "Title")

	var invalid *InvalidDestinationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "reader@gmail.com", invalid.Address)
}

func TestSend_SourceMissing(t *testing.T) {
	t.Parallel()

	f := newConfiguredService(t, nil)
	_, err := f.svc.Send(context.Background(), "/nowhere/book.epub", "reader@kindle.com", "Title")

	var missing *SourceMissingError
	assert.ErrorAs(t, err, &missing)
}

func TestSend_FileTooLarge(t *testing.T) {
	t.Parallel()

	path := writeBookFile(t, "big.epub", "")
	require.NoError(t, os.Truncate(path, maxAttachmentSize+1))

	f := newConfiguredService(t, nil)
	_, err := f.svc.Send(context.Background(), path, "reader@kindle.com", "Title")

	var tooLarge *FileTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(maxAttachmentSize+1), tooLarge.Size)
}

func TestSend_ExactLimitIsAccepted(t *testing.T) {
	t.Parallel()

	path := writeBookFile(t, "big.epub", "")
	require.NoError(t, os.Truncate(path, maxAttachmentSize))

	f := newConfiguredService(t, nil)
	result, err := f.svc.Send(context.Background(), path, "reader@kindle.com", "Title")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestSend_NotConfigured(t *testing.T) {
	t.Parallel()

	path := writeBookFile(t, "b.epub", "x")

	t.Run("no smtp settings", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		svc := NewService(config.NewUserSettings(dir), secrets.NewFileStore(dir), nil, nil)
		_, err := svc.Send(context.Background(), path, "reader@kindle.com", "Title")
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("no stored password", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		settings := config.NewUserSettings(dir)
		require.NoError(t, settings.SetSMTPConfig(&config.SMTPConfig{Host: "h", Port: 587, Username: "u"}))

		svc := NewService(settings, secrets.NewFileStore(dir), nil, nil)
		_, err := svc.Send(context.Background(), path, "reader@kindle.com", "Title")
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	f := newConfiguredService(t, db)
	eventsCh, unsubscribe := f.hub.Subscribe()
	defer unsubscribe()

	path := writeBookFile(t, "novel.epub", "epub bytes")
	result, err := f.svc.Send(context.Background(), path, "reader@kindle.com", "The Novel")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "The Novel", result.BookTitle)
	assert.Equal(t, "reader@kindle.com", result.Destination)

	// The composed message carries the file as an attachment.
	require.NotNil(t, f.sender.msg)
	assert.Equal(t, "reader@kindle.com", f.sender.recipient)
	assert.Equal(t, "sender@example.com", f.sender.msg.From)
	assert.Equal(t, "The Novel", f.sender.msg.Subject)
	assert.Equal(t, "novel.epub", f.sender.msg.AttachmentName)
	assert.Equal(t, "application/epub+zip", f.sender.msg.AttachmentMIME)
	assert.Equal(t, []byte("epub bytes"), f.sender.msg.Attachment)

	event := <-eventsCh
	assert.Equal(t, events.TypeDeliveryCompleted, event.Type)

	// The attempt lands in the delivery log.
	history, err := f.svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, "The Novel", history[0].BookTitle)
}

func TestSend_ServerRejectionIsAFailedResult(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	f := newConfiguredService(t, db)
	f.sender.err = errors.WithStack(&smtpclient.ServerRejectedError{Code: 552, Text: "message size exceeds limit"})

	path := writeBookFile(t, "b.epub", "x")
	result, err := f.svc.Send(context.Background(), path, "reader@kindle.com", "Title")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "552")

	history, err := f.svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestSend_TransportFailureRaises(t *testing.T) {
	t.Parallel()

	f := newConfiguredService(t, nil)
	f.sender.err = errors.WithStack(smtpclient.ErrTimeout)

	path := writeBookFile(t, "b.epub", "x")
	_, err := f.svc.Send(context.Background(), path, "reader@kindle.com", "Title")

	var failed *SendFailedError
	assert.ErrorAs(t, err, &failed)
}

func TestHistory_NewestFirst(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	f := newConfiguredService(t, db)

	for _, title := range []string{"First", "Second", "Third"} {
		path := writeBookFile(t, "b.epub", "x")
		_, err := f.svc.Send(context.Background(), path, "reader@kindle.com", title)
		require.NoError(t, err)
	}

	history, err := f.svc.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Third", history[0].BookTitle)
	assert.Equal(t, "Second", history[1].BookTitle)
}

func TestDefaultDestination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	settings := config.NewUserSettings(dir)
	svc := NewService(settings, secrets.NewFileStore(dir), nil, nil)

	dest, err := svc.DefaultDestination()
	require.NoError(t, err)
	assert.Equal(t, "", dest)

	require.NoError(t, settings.SetKindleEmail("reader@kindle.com"))
	dest, err = svc.DefaultDestination()
	require.NoError(t, err)
	assert.Equal(t, "reader@kindle.com", dest)
}
