package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// EmailService sends transactional mail through Resend. In development it
// only logs what would have been sent.
type EmailService struct {
	client    *resend.Client
	fromEmail string
	isDev     bool
	appURL    string
	appName   string
}

func NewEmailService(apiKey, fromEmail, appURL, appName string, isDev bool) *EmailService {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}

	return &EmailService{
		client:    client,
		fromEmail: fromEmail,
		isDev:     isDev,
		appURL:    appURL,
		appName:   appName,
	}
}

func (s *EmailService) SendPasswordResetEmail(ctx context.Context, email, token, name string) error {
	resetURL := fmt.Sprintf("%s/auth/reset-password/%s", s.appURL, token)
	subject, body := passwordResetEmailTemplate(name, resetURL, s.appName)
	return s.send(ctx, "password_reset", email, subject, body, "url", resetURL)
}

func (s *EmailService) SendWelcomeEmail(ctx context.Context, email, name string) error {
	appURL := fmt.Sprintf("%s/app/records", s.appURL)
	subject, body := welcomeEmailTemplate(name, appURL, s.appName)
	return s.send(ctx, "welcome", email, subject, body, "url", appURL)
}

func (s *EmailService) send(ctx context.Context, kind, to, subject, body string, attrs ...any) error {
	if s.isDev {
		slog.Info("email sent (dev mode)", append([]any{"type", kind, "to", to, "subject", subject}, attrs...)...)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}

	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	slog.Info("email sent", "type", kind, "to", to)
	return nil
}
