package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/hibiken/asynq"
)

// Mailer sends plain-text mail through the configured SMTP relay.
type Mailer struct {
	Host string
	Port int
	From string
}

// Send delivers one message. The relay is assumed to be a trusted local
// submission endpoint; no authentication is attempted.
func (m *Mailer) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	msg := []byte("From: " + m.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body + "\r\n")
	return smtp.SendMail(addr, nil, m.From, []string{to}, msg)
}

// NewSendEmailHandler returns the handler for TaskTypeSendEmail tasks. A
// nil mailer logs and drops the message, which keeps development setups
// working without a relay.
func NewSendEmailHandler(mailer *Mailer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if mailer == nil {
			logger.Info("mail dropped, no relay configured",
				slog.String("to", payload.To),
				slog.String("subject", payload.Subject),
			)
			return nil
		}
		if err := mailer.Send(payload.To, payload.Subject, payload.Body); err != nil {
			return fmt.Errorf("jobs: send mail: %w", err)
		}
		return nil
	}
}
