package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridConfig holds SendGrid delivery configuration.
type SendGridConfig struct {
	// APIKey is the SendGrid API key.
	APIKey string

	// FromName is the display name on outgoing mail.
	FromName string

	// FromAddress is the sender address on outgoing mail.
	FromAddress string

	// SubjectPrefix is prepended to every subject line.
	SubjectPrefix string
}

// SendGridMailer delivers mail through the SendGrid v3 API.
type SendGridMailer struct {
	config SendGridConfig
	from   *sgmail.Email
	logger *slog.Logger
}

// NewSendGridMailer creates a new SendGridMailer.
func NewSendGridMailer(cfg SendGridConfig, logger *slog.Logger) *SendGridMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridMailer{
		config: cfg,
		from:   sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		logger: logger,
	}
}

// Send delivers the message through SendGrid.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	p := sgmail.NewPersonalization()
	p.Subject = m.config.SubjectPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Body))

	req := sendgrid.GetRequest(m.config.APIKey, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(v3)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return shared.WrapError("email", "Send", shared.ErrNotification, "sendgrid request", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return shared.WrapError("email", "Send", shared.ErrNotification,
			fmt.Sprintf("sendgrid status %d", res.StatusCode), nil)
	}

	m.logger.Debug("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}
