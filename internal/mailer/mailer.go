// Package mailer sends transactional email through a pluggable provider.
package mailer

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Sender sends account emails using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	baseURL  string // for login links in emails
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger, baseURL string) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// MagicLink builds the one-time login URL embedding the token and email.
func (s *Sender) MagicLink(token, email string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("email", email)
	return s.baseURL + "/api/auth/magic-login?" + q.Encode()
}

// SendWelcome sends the account-created email containing the magic login
// link. tierName is the display name of the granted membership tier.
func (s *Sender) SendWelcome(ctx context.Context, to, name, tierName, magicLink string) error {
	subject := "Welcome to the IBAM Learning Platform"

	body, err := renderWelcome(name, tierName, magicLink)
	if err != nil {
		return fmt.Errorf("render welcome email: %w", err)
	}

	s.logger.Info("sending welcome email",
		"to", to,
		"tier", tierName,
	)

	return s.provider.Send(ctx, to, subject, body)
}

var welcomeTmpl = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #3B82F6;">Welcome to the IBAM Learning Platform</h1>
  <p>Hello {{.Name}},</p>
  <p>Thank you for joining. Your account has been created with <strong>{{.Tier}}</strong> access.</p>
  <p style="text-align: center;">
    <a href="{{.Link}}" style="display: inline-block; padding: 14px 30px; background: #3B82F6; color: white; text-decoration: none; border-radius: 8px; font-weight: 600;">Access Your Account</a>
  </p>
  <p style="color: #666; font-size: 14px;">Or copy and paste this link into your browser:<br>{{.Link}}</p>
  <p style="color: #666; font-size: 14px;"><strong>Important:</strong> this link expires in 7 days. If it expires, request a new one from the login page.</p>
  <p>God bless,<br>The IBAM Team</p>
</body>
</html>
`))

func renderWelcome(name, tierName, magicLink string) (string, error) {
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	err := welcomeTmpl.Execute(&b, struct {
		Name string
		Tier string
		Link string
	}{Name: name, Tier: tierName, Link: magicLink})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
