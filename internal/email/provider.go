// Package email sends customer order e-mail.
package email

import (
	"context"
	"fmt"
	"strings"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	APIKey string
	From   string
}

func NewProvider(config Config) (Provider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("email api key is required")
	}
	if strings.TrimSpace(config.From) == "" {
		return nil, fmt.Errorf("email from address is required")
	}
	return NewResendProvider(config.APIKey, config.From), nil
}
