package dispatcher

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

// SMTPProvider delivers through an SMTP relay with gomail. Each send dials a
// fresh connection; gomail has no context support so ctx is only checked
// before dialing.
type SMTPProvider struct {
	name   string
	dialer *gomail.Dialer
	br     *Breaker
	send   func(d *gomail.Dialer, m *gomail.Message) error
}

func NewSMTPProvider(name, host string, port int, username, password string, failThreshold, openForMs int) *SMTPProvider {
	if port <= 0 {
		port = 587
	}
	return &SMTPProvider{
		name:   name,
		dialer: gomail.NewDialer(host, port, username, password),
		br:     NewBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
		send:   func(d *gomail.Dialer, m *gomail.Message) error { return d.DialAndSend(m) },
	}
}

func (p *SMTPProvider) Name() string  { return p.name }
func (p *SMTPProvider) Ready() bool   { return p.br.Ready() }
func (p *SMTPProvider) Acquire() bool { return p.br.Acquire() }

func (p *SMTPProvider) Send(ctx context.Context, m Message) error {
	err := p.deliver(ctx, m)
	p.br.Report(err)
	return err
}

func (p *SMTPProvider) deliver(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.validate(); err != nil {
		return err
	}
	if err := p.send(p.dialer, buildMIME(m)); err != nil {
		return fmt.Errorf("provider=%s smtp: %w", p.name, err)
	}
	return nil
}

func buildMIME(m Message) *gomail.Message {
	g := gomail.NewMessage()
	g.SetHeader("From", m.from())
	g.SetHeader("To", m.to())
	g.SetHeader("Subject", m.Subject)
	if m.MessageID != "" {
		g.SetHeader("Message-ID", m.MessageID)
	}
	if m.Text != "" {
		g.SetBody("text/plain", m.Text)
		g.AddAlternative("text/html", m.HTML)
	} else {
		g.SetBody("text/html", m.HTML)
	}
	return g
}
