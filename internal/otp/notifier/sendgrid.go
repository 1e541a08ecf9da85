package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const emailSubject = "Your profile verification code"

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier emails codes through SendGrid.
type SendGridNotifier struct {
	client   mailSender
	fromName string
	fromAddr string
	nowF     func() time.Time
}

// NewSendGridNotifier returns a notifier sending from fromAddr with the given API key.
func NewSendGridNotifier(apiKey, fromName, fromAddr string) *SendGridNotifier {
	return &SendGridNotifier{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		fromAddr: fromAddr,
		nowF:     time.Now,
	}
}

// Send emails the code to d.Contact. Any non-2xx response is an error.
func (n *SendGridNotifier) Send(ctx context.Context, d Delivery) error {
	from := mail.NewEmail(n.fromName, n.fromAddr)
	to := mail.NewEmail("", d.Contact)
	minutes := int(d.ExpiresAt.Sub(n.nowF()).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	plain := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", d.Code, minutes)
	html := fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>", d.Code, minutes)
	msg := mail.NewSingleEmail(from, emailSubject, to, plain, html)

	resp, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("email: sendgrid: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email: sendgrid status=%d", resp.StatusCode)
	}
	return nil
}
