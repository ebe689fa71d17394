// Package email implements the alert transport on SendGrid.
package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/chemviz/equipment-monitor/internal/models"
)

type SendGridTransport struct {
	client      *sendgrid.Client
	fromName    string
	fromAddress string
}

// NewSendGridTransport returns nil when no API key is configured, which
// disables email delivery without disabling alert logging.
func NewSendGridTransport(apiKey, fromName, fromAddress string) *SendGridTransport {
	if apiKey == "" {
		return nil
	}
	return &SendGridTransport{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromAddress: fromAddress,
	}
}

func (t *SendGridTransport) Send(ctx context.Context, address, subject, body string) error {
	from := mail.NewEmail(t.fromName, t.fromAddress)
	to := mail.NewEmail("", address)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	response, err := t.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDispatch, err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("%w: sendgrid returned status %d", models.ErrDispatch, response.StatusCode)
	}
	return nil
}
