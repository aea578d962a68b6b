// Package email renders customer notifications and sends them over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/coachingcentre/notes-store/config"
)

// ErrNotConfigured is returned by senders without credentials.
var ErrNotConfigured = errors.New("email sender not configured")

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP sends through an authenticated SMTP relay with STARTTLS.
type SMTP struct {
	from     string
	password string
	host     string
	port     int
	send     sendFunc
}

func NewSMTP(cfg config.Email) *SMTP {
	return &SMTP{
		from:     cfg.Address,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		send:     smtp.SendMail,
	}
}

// Configured reports whether credentials were provided.
func (s *SMTP) Configured() bool {
	return s.from != "" && s.password != ""
}

func (s *SMTP) Send(ctx context.Context, m Message) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	if err := s.send(addr, auth, s.from, []string{m.To}, s.build(m)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", m.To, err)
	}
	return nil
}

func (s *SMTP) build(m Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.HTML)
	return b.Bytes()
}
