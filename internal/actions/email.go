package actions

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Mailer delivers a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer sends mail through an SMTP relay, upgrading to TLS when offered.
type SMTPMailer struct {
	Addr    string
	From    string
	Auth    smtp.Auth
	Timeout time.Duration
}

// Send dials the relay with a deadline so a stuck server cannot block the run.
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.Addr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp dial %s: %v", m.Addr, err).WithCause(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, _, _ := net.SplitHostPort(m.Addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp handshake: %v", err).WithCause(err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp starttls: %v", err).WithCause(err)
		}
	}
	if m.Auth != nil {
		if err := c.Auth(m.Auth); err != nil {
			return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp auth: %v", err).WithCause(err)
		}
	}

	if err := c.Mail(m.From); err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp MAIL FROM: %v", err).WithCause(err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp RCPT TO %s: %v", rcpt, err).WithCause(err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp DATA: %v", err).WithCause(err)
	}
	if _, err := w.Write(buildMessage(m.From, to, subject, body)); err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp write: %v", err).WithCause(err)
	}
	if err := w.Close(); err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "smtp DATA close: %v", err).WithCause(err)
	}
	return c.Quit()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.NewReplacer("\r", " ", "\n", " ").Replace(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// --- send_email ---

type sendEmailAction struct {
	mailer Mailer
}

// NewSendEmailAction creates send_email. Subject and body interpolate
// {doc_id}, {file_path}, {text} and {tags}.
func NewSendEmailAction(m Mailer) Action {
	return &sendEmailAction{mailer: m}
}

func (a *sendEmailAction) Name() string { return "send_email" }

func (a *sendEmailAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Send an email about the document",
		Required:    []string{"to"},
		Optional:    []string{"subject", "body"},
	}
}

func (a *sendEmailAction) Validate(params map[string]any) error {
	if len(stringListParam(params, "to")) == 0 {
		return schema.NewError(schema.ErrCodeValidation, `send_email: missing required param "to"`)
	}
	return nil
}

func (a *sendEmailAction) CollaboratorKey(map[string]any) string { return "email" }

func (a *sendEmailAction) Execute(ctx context.Context, input ActionInput) error {
	if a.mailer == nil {
		return unavailable(a.Name(), "smtp relay")
	}
	doc := input.Doc
	subject := renderTemplate(stringParam(input.Params, "subject", "Document {doc_id}"), doc)
	body := renderTemplate(stringParam(input.Params, "body", "Document {doc_id} ({file_path}) tagged: {tags}"), doc)
	return a.mailer.Send(ctx, stringListParam(input.Params, "to"), subject, body)
}
