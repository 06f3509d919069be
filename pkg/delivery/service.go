package delivery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foliobooks/folio/pkg/config"
	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/formats"
	"github.com/foliobooks/folio/pkg/secrets"
	"github.com/foliobooks/folio/pkg/smtpclient"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// maxAttachmentSize is the Amazon ingest attachment limit (50 MiB).
const maxAttachmentSize = 50 * 1024 * 1024

// deliveryBody is the fixed plain-text part of every delivery mail.
const deliveryBody = "A book from your Folio library is attached."

// ingestSuffixes are the recognized Kindle ingest address domains.
var ingestSuffixes = []string{"@kindle.com", "@free.kindle.com"}

type sender interface {
	Send(ctx context.Context, password, recipient string, msg *smtpclient.Message) error
}

// Service validates a delivery request, composes the MIME message, and hands
// it to the SMTP client. One Service is shared process-wide.
type Service struct {
	settings *config.UserSettings
	store    secrets.Store
	db       *bun.DB
	hub      *events.Hub

	// newSender is swappable for tests.
	newSender func(cfg smtpclient.Config) sender
}

// NewService builds a delivery service. db may be nil when no delivery log
// is wanted (e.g. the one-shot CLI).
func NewService(settings *config.UserSettings, store secrets.Store, db *bun.DB, hub *events.Hub) *Service {
	return &Service{
		settings: settings,
		store:    store,
		db:       db,
		hub:      hub,
		newSender: func(cfg smtpclient.Config) sender {
			return smtpclient.New(cfg)
		},
	}
}

// IsValidDestination reports whether addr is a Kindle ingest address: a
// non-empty local part with no extra '@', under one of the recognized
// suffixes.
func IsValidDestination(addr string) bool {
	for _, suffix := range ingestSuffixes {
		if !strings.HasSuffix(addr, suffix) {
			continue
		}
		local := strings.TrimSuffix(addr, suffix)
		return local != "" && !strings.Contains(local, "@")
	}
	return false
}

// Send delivers the file at sourcePath to destination as an attachment.
// Precondition failures raise; an SMTP rejection after a well-formed
// exchange returns a Result with Success=false.
func (svc *Service) Send(ctx context.Context, sourcePath, destination, bookTitle string) (*Result, error) {
	log := logger.FromContext(ctx)

	if !IsValidDestination(destination) {
		return nil, errors.WithStack(&InvalidDestinationError{Address: destination})
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, errors.WithStack(&SourceMissingError{Path: sourcePath})
	}
	if info.Size() > maxAttachmentSize {
		return nil, errors.WithStack(&FileTooLargeError{Size: info.Size()})
	}

	tag := formats.FromPath(sourcePath)
	if !formats.IsKindleCompatible(tag) {
		// Amazon ingest may still accept it, so deliver anyway.
		log.Data(logger.Data{"format": tag, "path": sourcePath}).Warn("format is not kindle compatible")
	}

	smtpCfg, err := svc.settings.SMTPConfig()
	if err != nil {
		return nil, err
	}
	if smtpCfg == nil {
		return nil, errors.WithStack(ErrNotConfigured)
	}
	password, err := svc.store.Get(secrets.AccountSMTPPassword)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return nil, errors.WithStack(ErrNotConfigured)
		}
		return nil, err
	}

	payload, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	msg := &smtpclient.Message{
		From:           smtpCfg.Username,
		To:             destination,
		Subject:        bookTitle,
		Body:           deliveryBody,
		AttachmentName: filepath.Base(sourcePath),
		AttachmentMIME: formats.MIMEType(tag),
		Attachment:     payload,
	}

	client := svc.newSender(smtpclient.Config{
		Host:     smtpCfg.Host,
		Port:     smtpCfg.Port,
		Username: smtpCfg.Username,
		UseTLS:   smtpCfg.UseTLS,
	})

	sendErr := client.Send(ctx, password, destination, msg)

	result := &Result{
		Success:     sendErr == nil,
		BookTitle:   bookTitle,
		Destination: destination,
		Message:     "Delivered",
		CreatedAt:   time.Now(),
	}

	if sendErr != nil {
		// A server rejection means the exchange reached a well-formed final
		// state; report it as an unsuccessful result. Everything else raises.
		var rejected *smtpclient.ServerRejectedError
		if !errors.As(sendErr, &rejected) {
			return nil, errors.WithStack(&SendFailedError{Reason: sendErr.Error()})
		}
		result.Message = rejected.Error()
	}

	svc.record(ctx, result)
	if svc.hub != nil {
		svc.hub.Publish(events.TypeDeliveryCompleted, result)
	}

	return result, nil
}

// DefaultDestination returns the saved Kindle address, or "".
func (svc *Service) DefaultDestination() (string, error) {
	return svc.settings.KindleEmail()
}

// History lists recent delivery attempts, newest first.
func (svc *Service) History(ctx context.Context, limit int) ([]*Result, error) {
	if svc.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var results []*Result
	err := svc.db.NewSelect().
		Model(&results).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return results, nil
}

func (svc *Service) record(ctx context.Context, result *Result) {
	if svc.db == nil {
		return
	}
	_, err := svc.db.NewInsert().Model(result).Exec(ctx)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to record delivery attempt")
	}
}
