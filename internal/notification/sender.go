package notification

import (
	"context"
	"fmt"
	"log"
	"net/smtp"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender is the external delivery collaborator for one channel.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SMTPSender delivers email through a plain SMTP relay.
type SMTPSender struct {
	addr string // host:port
	from string
}

func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{addr: addr, from: from}
}

func (s *SMTPSender) Send(_ context.Context, recipient, subject, body string) error {
	msg := []byte("To: " + recipient + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")

	if err := smtp.SendMail(s.addr, nil, s.from, []string{recipient}, msg); err != nil {
		return fmt.Errorf("%w: smtp send to %s: %v", ErrDeliveryFailed, recipient, err)
	}
	return nil
}

// TwilioSender delivers SMS through the Twilio REST API. Credentials come
// from the TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN environment variables the
// client picks up itself.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(fromPhone string) *TwilioSender {
	return &TwilioSender{
		client: twilio.NewRestClient(),
		from:   fromPhone,
	}
}

func (s *TwilioSender) Send(_ context.Context, recipient, _ string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("%w: twilio send to %s: %v", ErrDeliveryFailed, recipient, err)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. Used in
// dev and as the fallback when a channel is not configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, recipient, subject, body string) error {
	log.Printf("notification (log only) to=%s subject=%q body=%q", recipient, subject, body)
	return nil
}
