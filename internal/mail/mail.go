// Package mail sends transactional email for the account flows that confirm
// an address change or a password reset.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"perroquet/internal/platform/config"
)

// Email is one outbound message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SMTPMailer sends mail through a configured SMTP relay.
type SMTPMailer struct {
	cfg config.SMTP
}

// NewSMTP constructs a Mailer for the configured relay.
func NewSMTP(cfg config.SMTP) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", email.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", email.Subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(email.Body)

	addr := m.cfg.Host + ":" + m.cfg.Port
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{email.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// EmailUpdateMessage builds the confirmation mail for a staged address
// change. The token authorizes exactly that one change.
func EmailUpdateMessage(to, token string) Email {
	return Email{
		To:      to,
		Subject: "Perroquet: confirm your new email address",
		Body: "Someone asked to move your Perroquet account to this address.\n\n" +
			"If that was you, confirm with this code:\n\n" +
			token + "\n\n" +
			"If not, you can ignore this message.\n",
	}
}

// PasswordUpdateMessage builds the mail carrying a password reset code.
func PasswordUpdateMessage(to, token string) Email {
	return Email{
		To:      to,
		Subject: "Perroquet: password reset",
		Body: "Someone asked to reset the password for your Perroquet account.\n\n" +
			"If that was you, reset it with this code:\n\n" +
			token + "\n\n" +
			"If not, your password is unchanged and you can ignore this message.\n",
	}
}
