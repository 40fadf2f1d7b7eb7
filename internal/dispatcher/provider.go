package dispatcher

import (
	"context"
	"fmt"
	"net/mail"
)

// Message is one rendered funnel email ready for transport.
type Message struct {
	To          string `json:"to"`
	ToName      string `json:"to_name,omitempty"`
	FromName    string `json:"from_name,omitempty"`
	FromAddress string `json:"from"`
	Subject     string `json:"subject"`
	HTML        string `json:"html"`
	Text        string `json:"text,omitempty"`
	// MessageID is stable per (funnel, address, step) so a resend after a
	// failed advance carries the same header.
	MessageID string `json:"message_id"`
}

func (m Message) from() string {
	return (&mail.Address{Name: m.FromName, Address: m.FromAddress}).String()
}

func (m Message) to() string {
	return (&mail.Address{Name: m.ToName, Address: m.To}).String()
}

func (m Message) validate() error {
	if m.To == "" {
		return fmt.Errorf("message: empty recipient")
	}
	if m.FromAddress == "" {
		return fmt.Errorf("message: empty sender address")
	}
	return nil
}

// Provider is one delivery transport guarded by its own breaker.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, m Message) error
}
