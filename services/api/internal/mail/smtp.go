package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/palqo/palqo/services/api/internal/domain"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender sends through an authenticated SMTP relay. Bulk sends reuse a
// single connection and report each message separately.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return &domain.TransportError{Recipient: msg.To, Err: err}
	}
	client, err := s.client()
	if err != nil {
		return &domain.TransportError{Recipient: msg.To, Err: err}
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return &domain.TransportError{Recipient: msg.To, Err: transportErr(ctx, err)}
	}
	return nil
}

func (s *SMTPSender) SendBulk(ctx context.Context, msgs []Message) []Result {
	results := make([]Result, len(msgs))
	built := make([]*gomail.Msg, len(msgs))
	for i, msg := range msgs {
		results[i].Recipient = msg.To
		m, err := s.build(msg)
		if err != nil {
			results[i].Err = &domain.TransportError{Recipient: msg.To, Err: err}
			continue
		}
		built[i] = m
	}

	client, err := s.client()
	if err == nil {
		err = client.DialWithContext(ctx)
	}
	if err != nil {
		return failRemaining(results, built, transportErr(ctx, err))
	}
	defer func() { _ = client.Close() }()

	for i, m := range built {
		if m == nil {
			continue
		}
		if ctx.Err() != nil {
			return failRemaining(results, built, transportErr(ctx, ctx.Err()))
		}
		if err := client.Send(m); err != nil {
			results[i].Err = &domain.TransportError{Recipient: results[i].Recipient, Err: err}
		}
		built[i] = nil
	}
	return results
}

func failRemaining(results []Result, built []*gomail.Msg, err error) []Result {
	for i, m := range built {
		if m == nil {
			continue
		}
		results[i].Err = &domain.TransportError{Recipient: results[i].Recipient, Err: err}
	}
	return results
}

func (s *SMTPSender) client() (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}

func (s *SMTPSender) build(msg Message) (*gomail.Msg, error) {
	if msg.To == "" {
		return nil, errors.New("recipient is required")
	}
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if msg.ToName != "" {
		if err := m.AddToFormat(msg.ToName, msg.To); err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
	} else if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if len(msg.CC) > 0 {
		if err := m.Cc(msg.CC...); err != nil {
			return nil, fmt.Errorf("cc: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	for _, a := range msg.Attachments {
		opts := []gomail.FileOption{}
		if a.ContentType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}
		if err := m.AttachReader(a.Name, bytes.NewReader(a.Data), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return m, nil
}

func transportErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}
