package crowdsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

// Mailer delivers reports
type Mailer interface {
	SendReport(ctx context.Context, subject string, report *MailReport) error
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer submits reports as plain text mails through an SMTP relay
type SMTPMailer struct {
	Addr string   // host:port of the relay, port 25 if omitted
	From string   // Sender address
	To   []string // Recipients
	Auth smtp.Auth
	Send SendFunc // Default: smtp.SendMail
}

// SendReport renders the report and submits it
func (m *SMTPMailer) SendReport(ctx context.Context, subject string, report *MailReport) error {
	if len(m.To) == 0 {
		return errors.New("no mail recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := m.Addr
	if !strings.Contains(addr, ":") {
		addr += ":25"
	}
	send := m.Send
	if send == nil {
		send = smtp.SendMail
	}

	msg := m.compose(subject, report.Body())
	if err := send(addr, m.Auth, m.From, m.To, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

func (m *SMTPMailer) compose(subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}
