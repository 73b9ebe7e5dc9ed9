// Package notification delivers in-app notifications and a best-effort
// email copy. Email failures are logged and swallowed: a user must never
// lose access to an in-app message because their mail provider rejected a
// connection.
package notification

import (
	"context"
	"fmt"
	"time"

	core "github.com/carbonledger/platform/internal/app/core/service"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/pkg/config"
	"github.com/carbonledger/platform/pkg/logger"
	"gopkg.in/gomail.v2"
)

// emailRetryPolicy covers a transient SMTP dial/send failure; three attempts
// with a short backoff before the failure is logged and swallowed.
var emailRetryPolicy = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2,
}

// Service sends notifications; the zero value with a nil mailer still works,
// it just never attempts email delivery.
type Service struct {
	store  storage.NotificationStore
	mailer *gomail.Dialer
	from   string
	log    *logger.Logger
}

// New builds a Service. cfg.SMTPHost == "" disables email delivery entirely.
func New(store storage.NotificationStore, cfg config.NotificationConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notification")
	}
	var dialer *gomail.Dialer
	if cfg.SMTPHost != "" {
		dialer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return &Service{store: store, mailer: dialer, from: cfg.FromAddress, log: log}
}

// Notify creates an in-app notification and attempts a best-effort email
// copy when recipientEmail is non-empty and SMTP is configured.
func (s *Service) Notify(ctx context.Context, n carbon.Notification, recipientEmail string) (carbon.Notification, error) {
	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return carbon.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	if recipientEmail != "" && s.mailer != nil {
		sendErr := core.Retry(ctx, emailRetryPolicy, func() error {
			return s.sendEmail(recipientEmail, created.Title, created.Message)
		})
		if sendErr != nil {
			s.log.WithError(sendErr).WithField("notification_id", created.ID).Warn("notification email delivery failed after retries; in-app notification still recorded")
		}
	}

	return created, nil
}

func (s *Service) sendEmail(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return s.mailer.DialAndSend(msg)
}

// List returns a user's notifications, optionally filtered to unread only.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]carbon.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly, limit)
}

// MarkRead flips a single notification's read flag.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}

// Notification type tags used across workers so callers share one
// vocabulary instead of inlining strings.
const (
	TypeInvoiceProcessed  = "invoice_processed"
	TypeReportReady       = "report_ready"
	TypeAnomalyDetected   = "anomaly"
	TypeSupplierInvite    = "supplier_invite"
	TypeDataQualityIssue  = "data_quality_issue"
)
