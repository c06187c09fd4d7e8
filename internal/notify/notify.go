// Package notify tells the site owner about accepted submissions.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/webmatic/backend/internal/model"
)

// Notifier is called after a submission has been stored.
type Notifier interface {
	NotifyAccepted(ctx context.Context, s *model.ContactSubmission) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) NotifyAccepted(context.Context, *model.ContactSubmission) error { return nil }

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends a plain-text mail per accepted submission.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

// NotifyAccepted sends the notification. smtp.SendMail takes no context, so
// the send runs in its own goroutine and ctx only bounds how long we wait.
func (n *SMTPNotifier) NotifyAccepted(ctx context.Context, s *model.ContactSubmission) error {
	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprint(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	msg := BuildMessage(n.cfg.From, n.cfg.To, s)

	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, auth, n.cfg.From, []string{n.cfg.To}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BuildMessage renders the RFC 5322 message for s. Stored fields are
// HTML-escaped; they are unescaped here since the body is plain text.
func BuildMessage(from, to string, s *model.ContactSubmission) []byte {
	var b bytes.Buffer
	subject := "Nouvelle demande de contact (réf. " + s.Reference() + ")"
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.SubmittedAt.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")

	fmt.Fprintf(&b, "Référence : %s\r\n", s.Reference())
	fmt.Fprintf(&b, "Nom : %s\r\n", html.UnescapeString(s.Name))
	fmt.Fprintf(&b, "Email : %s\r\n", s.Email)
	if s.Phone != "" {
		fmt.Fprintf(&b, "Téléphone : %s\r\n", s.Phone)
	}
	fmt.Fprintf(&b, "Service : %s\r\n\r\n", html.UnescapeString(s.Service))
	b.WriteString(strings.ReplaceAll(html.UnescapeString(s.Message), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
