// Package email sends mention notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// BaseURL is the web origin ticket links point at.
	BaseURL string
}

// Sender delivers one message. smtp.SendMail in production.
type Sender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   Sender
	logger *slog.Logger
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		logger: logger.With("component", "email"),
	}
}

// WithSender swaps the delivery function.
func (s *Service) WithSender(send Sender) *Service {
	s.send = send
	return s
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := util.NewID("boundary")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// Mention describes one comment that named the recipient.
type Mention struct {
	AuthorName    string
	RecipientName string
	TicketID      string
	TicketTitle   string
	Excerpt       string
	TicketURL     string
}

// SendMention tells recipient they were mentioned. Users without an
// address are skipped.
func (s *Service) SendMention(ctx context.Context, recipient model.User, author string, ticket model.Ticket, comment model.Comment) error {
	if strings.TrimSpace(recipient.Email) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data := Mention{
		AuthorName:    author,
		RecipientName: recipient.Name,
		TicketID:      ticket.ID,
		TicketTitle:   ticket.Title,
		Excerpt:       excerpt(comment.Body, 280),
		TicketURL:     strings.TrimRight(s.config.BaseURL, "/") + "/issue/" + ticket.ID,
	}

	var html bytes.Buffer
	if err := mentionTemplate.Execute(&html, data); err != nil {
		return fmt.Errorf("render mention template: %w", err)
	}
	subject := fmt.Sprintf("[%s] %s mentioned you", ticket.ID, author)
	text := fmt.Sprintf("%s mentioned you on %s %s:\n\n%s\n\n%s", author, ticket.ID, ticket.Title, data.Excerpt, data.TicketURL)

	if err := s.SendHTMLEmail([]string{recipient.Email}, subject, text, html.String()); err != nil {
		return fmt.Errorf("send mention to %s: %w", recipient.ID, err)
	}
	s.logger.Debug("mention sent", "user", recipient.ID, "ticket", ticket.ID)
	return nil
}

func excerpt(body string, limit int) string {
	body = strings.Join(strings.Fields(body), " ")
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit]) + "…"
}

var mentionTemplate = template.Must(template.New("mention").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AuthorName}} mentioned you</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .quote { border-left: 3px solid #5e6ad2; padding: 4px 12px; color: #444; }
        .button { display: inline-block; padding: 10px 20px; background: #5e6ad2; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <p>Hi {{.RecipientName}},</p>
    <p><strong>{{.AuthorName}}</strong> mentioned you on <strong>{{.TicketID}}</strong> {{.TicketTitle}}</p>
    <p class="quote">{{.Excerpt}}</p>
    <p><a href="{{.TicketURL}}" class="button">Open {{.TicketID}}</a></p>
</body>
</html>`))
