// Package smtpserver accepts mail over SMTP and records every message as
// an email log entry of one site.
package smtpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.io/infrasutra/emaillog/internal/headers"
	"github.io/infrasutra/emaillog/internal/ingest"
)

const (
	defaultDomain = "emaillog"
)

// Recorder receives the event built from every accepted message.
type Recorder interface {
	Record(ctx context.Context, info ingest.MailInfo) (int64, error)
}

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(recorder Recorder, logger *slog.Logger, addr string, authCfg AuthConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	backend := &backend{
		recorder:     recorder,
		logger:       logger,
		authEnabled:  authCfg.Enabled,
		authUsername: authCfg.Username,
		authPassword: authCfg.Password,
	}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	recorder     Recorder
	logger       *slog.Logger
	authEnabled  bool
	authUsername string
	authPassword string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.authUsername && password == s.backend.authPassword {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	if addr := normalizeEmail(to); addr != "" {
		s.to = append(s.to, addr)
	}
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	correlationID := uuid.NewString()
	logger := s.backend.logger.With("correlation_id", correlationID)

	info, err := parseMessage(s.from, s.to, data)
	if err != nil {
		logger.Warn("parse smtp message", "error", err)
	}

	id, err := s.backend.recorder.Record(context.Background(), info)
	if err != nil {
		logger.Error("store smtp message", "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "message could not be logged",
		}
	}
	logger.Info("email logged", "id", id, "from", s.from, "recipients", len(s.to))
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// parseMessage builds the event for raw. On a parse error the event holds
// whatever was recovered before the failure.
func parseMessage(envelopeFrom string, envelopeTo []string, raw []byte) (ingest.MailInfo, error) {
	info := ingest.MailInfo{
		ingest.KeyTo:     append([]string(nil), envelopeTo...),
		ingest.KeyResult: true,
	}
	fields := map[string]string{}
	if envelopeFrom != "" {
		fields[headers.From] = envelopeFrom
	}
	info[ingest.KeyHeaders] = fields

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return info, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		info[ingest.KeySubject] = subject
	}
	for name, key := range map[string]string{
		"From":         headers.From,
		"Cc":           headers.CC,
		"Reply-To":     headers.ReplyTo,
		"Content-Type": headers.ContentType,
	} {
		if value, err := reader.Header.Text(name); err == nil && strings.TrimSpace(value) != "" {
			fields[key] = strings.TrimSpace(value)
		}
	}
	if len(envelopeTo) == 0 {
		if list, err := reader.Header.AddressList("To"); err == nil {
			to := make([]string, 0, len(list))
			for _, addr := range list {
				to = append(to, normalizeEmail(addr.Address))
			}
			info[ingest.KeyTo] = to
		}
	}

	var text, html []string
	attachments := []string{}
	defer func() {
		if len(text) > 0 {
			info[ingest.KeyMessage] = strings.Join(text, "\n")
		} else if len(html) > 0 {
			info[ingest.KeyHTML] = strings.Join(html, "\n")
		}
		info[ingest.KeyAttachments] = attachments
	}()

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return info, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				text = append(text, string(body))
			case strings.HasPrefix(mediaType, "text/html"):
				html = append(html, string(body))
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			attachments = append(attachments, filename)
		}
	}

	return info, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
