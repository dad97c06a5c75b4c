package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SMTPNotifier delivers alerts as plain-text email over SMTP with PLAIN auth.
type SMTPNotifier struct {
	addr    string
	auth    smtp.Auth
	from    string
	timeout time.Duration
	logger  zerolog.Logger

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier constructs the mail notifier.
func NewSMTPNotifier(host string, port int, username, password, from string, timeout time.Duration, logger zerolog.Logger) *SMTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPNotifier{
		addr:    fmt.Sprintf("%s:%d", host, port),
		auth:    auth,
		from:    from,
		timeout: timeout,
		logger:  logger.With().Str("component", "alert_smtp").Logger(),
		send:    smtp.SendMail,
	}
}

// Notify sends the rendered notification to its recipient. Delivery is
// bounded by the configured timeout and the caller's context.
func (n *SMTPNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Recipient == "" {
		return errors.New("notification recipient is empty")
	}

	msg := buildMessage(n.from, note.Recipient, Subject(note), Body(note))

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.send(n.addr, n.auth, n.from, []string{note.Recipient}, msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("send mail: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("chain", note.Chain).
		Str("recipient", note.Recipient).
		Msg("alert email sent")
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	builder := strings.Builder{}
	builder.WriteString("From: " + from + "\r\n")
	builder.WriteString("To: " + to + "\r\n")
	builder.WriteString("Subject: " + subject + "\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(body)
	builder.WriteString("\r\n")
	return []byte(builder.String())
}

var _ Notifier = (*SMTPNotifier)(nil)
