package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

type EmailOptions struct {
	Server   string
	Port     int
	Address  string
	Password string
	To       []string
	// Subject defaults to "Stock alert".
	Subject string
}

// Email sends every message as a plain text email.
type Email struct {
	options EmailOptions
	send    func(mail *email.Email, addr string, auth smtp.Auth) error
}

func NewEmail(options EmailOptions) (*Email, error) {
	if options.Server == "" || options.Address == "" {
		return nil, fmt.Errorf("email: server and address are required")
	}
	if len(options.To) == 0 {
		return nil, fmt.Errorf("email: at least one recipient is required")
	}
	if options.Port == 0 {
		options.Port = 587
	}
	if options.Subject == "" {
		options.Subject = "Stock alert"
	}
	return &Email{
		options: options,
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}, nil
}

func (e *Email) compose(message string) *email.Email {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Stockwatch <%s>", e.options.Address)
	mail.To = e.options.To
	mail.Subject = e.options.Subject
	mail.Text = []byte(message)
	return mail
}

// Send ignores ctx, the smtp client does not support cancellation.
func (e *Email) Send(_ context.Context, message string) error {
	mail := e.compose(message)
	addr := fmt.Sprintf("%s:%d", e.options.Server, e.options.Port)

	err := e.send(mail, addr, smtp.PlainAuth("", e.options.Address, e.options.Password, e.options.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = e.send(mail, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}
