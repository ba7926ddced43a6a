package sessionkit

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Mailer delivers password-reset messages. Mail transport is an external
// collaborator; implementations only need to get the link out.
type Mailer interface {
	SendPasswordReset(ctx context.Context, toEmail string, toName string, resetURL string) error
}

// SMTPMailer sends reset mail through a plain SMTP relay.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer constructs a mailer for the given relay address
// ("host:port") and sender. Username may be empty for unauthenticated relays.
func NewSMTPMailer(addr string, from string, username string, password string) *SMTPMailer {
	mailer := &SMTPMailer{addr: addr, from: from}
	if username != "" {
		host := addr
		if index := strings.LastIndex(addr, ":"); index >= 0 {
			host = addr[:index]
		}
		mailer.auth = smtp.PlainAuth("", username, password, host)
	}
	return mailer
}

// SendPasswordReset delivers the reset link to the recipient.
func (mailer *SMTPMailer) SendPasswordReset(ctx context.Context, toEmail string, toName string, resetURL string) error {
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Reset your Rooftop password\r\n\r\nHi %s,\r\n\r\nFollow this link to choose a new password. It expires shortly and works once:\r\n\r\n%s\r\n\r\nIf you did not request this, ignore this message.\r\n",
		mailer.from, toEmail, toName, resetURL)
	if err := smtp.SendMail(mailer.addr, mailer.auth, mailer.from, []string{toEmail}, []byte(message)); err != nil {
		return fmt.Errorf("mailer.smtp.send: %w", err)
	}
	return nil
}

// LogMailer writes the reset link to the log instead of sending mail.
// Used for local development.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordReset logs the reset link.
func (mailer *LogMailer) SendPasswordReset(ctx context.Context, toEmail string, toName string, resetURL string) error {
	mailer.logger.Info("password reset link",
		zap.String("code", "mailer.log.reset_link"),
		zap.String("email", toEmail),
		zap.String("url", resetURL),
	)
	return nil
}

// BuildResetURL joins the client base URL with the reset path and token.
func BuildResetURL(clientBaseURL string, token string) string {
	return strings.TrimRight(clientBaseURL, "/") + "/reset-password/" + token
}
