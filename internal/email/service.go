package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

type Service interface {
	SendLockoutNotice(ctx context.Context, to string, lockedUntil time.Time) error
	SendPasswordChanged(ctx context.Context, to string, changedAt time.Time) error
}

type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	dialer sender
	from   string
}

// NewSMTPService returns a no-op service when mail is disabled.
func NewSMTPService(cfg Config) Service {
	if !cfg.Enabled {
		return nopService{}
	}
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendLockoutNotice(ctx context.Context, to string, lockedUntil time.Time) error {
	body := fmt.Sprintf(
		"Your account was locked after repeated failed sign-in attempts.\n"+
			"You can try again after %s.\n\n"+
			"If this wasn't you, change your password once the lock has expired.",
		lockedUntil.UTC().Format(time.RFC1123))
	return s.send(ctx, to, "Your account has been temporarily locked", body)
}

func (s *smtpService) SendPasswordChanged(ctx context.Context, to string, changedAt time.Time) error {
	body := fmt.Sprintf("The password for your account was changed at %s.", changedAt.UTC().Format(time.RFC1123))
	return s.send(ctx, to, "Your password was changed", body)
}

func (s *smtpService) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type nopService struct{}

func (nopService) SendLockoutNotice(context.Context, string, time.Time) error   { return nil }
func (nopService) SendPasswordChanged(context.Context, string, time.Time) error { return nil }
