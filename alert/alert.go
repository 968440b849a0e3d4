package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"rankpool/config"
	"rankpool/logging"
	"rankpool/models"
)

const subjectPrefix = "[DataPool Alert] "

// Notifier delivers an operator alert. It reports whether delivery
// succeeded and never returns an error; a failed alert must not fail the
// run that raised it.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) bool
}

// LogNotifier writes alerts to the log. Used when SMTP is not configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, subject, body string) bool {
	logging.Logf(models.LogLevelError, "alert", "%s%s\n%s", subjectPrefix, subject, body)
	return true
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	addr     string
	host     string
	user     string
	password string
	to       string
	send     sendFunc
	now      func() time.Time
}

// NewNotifier returns an SMTP notifier when credentials are set, otherwise
// a LogNotifier.
func NewNotifier(cfg config.SMTPConfig) Notifier {
	if cfg.User == "" || cfg.Password == "" {
		logging.Logf(models.LogLevelWarn, "alert", "SMTP credentials not set, alerts go to the log only")
		return LogNotifier{}
	}
	return NewSMTPNotifier(cfg)
}

func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	host := cfg.Server
	if host == "" {
		host = "smtp.gmail.com"
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	to := cfg.To
	if to == "" {
		to = cfg.User
	}
	return &SMTPNotifier{
		addr:     fmt.Sprintf("%s:%d", host, port),
		host:     host,
		user:     cfg.User,
		password: cfg.Password,
		to:       to,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

func (n *SMTPNotifier) Notify(_ context.Context, subject, body string) bool {
	msg := n.message(subject, body)
	auth := smtp.PlainAuth("", n.user, n.password, n.host)
	if err := n.send(n.addr, auth, n.user, []string{n.to}, msg); err != nil {
		logging.Logf(models.LogLevelError, "alert", "failed to send email %q: %v", subject, err)
		return false
	}
	logging.Logf(models.LogLevelInfo, "alert", "email sent: %s", subject)
	return true
}

func (n *SMTPNotifier) message(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.user)
	fmt.Fprintf(&b, "To: %s\r\n", n.to)
	fmt.Fprintf(&b, "Subject: %s%s\r\n", subjectPrefix, sanitizeHeader(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
