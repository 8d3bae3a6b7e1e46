package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/secure-auth/internal/email"
	"github.com/jwalitptl/secure-auth/internal/lockout"
	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/internal/repository"
	apperrors "github.com/jwalitptl/secure-auth/pkg/errors"
	"github.com/jwalitptl/secure-auth/pkg/logger"
	"github.com/jwalitptl/secure-auth/pkg/messaging"
	"github.com/jwalitptl/secure-auth/pkg/metrics"
	"github.com/jwalitptl/secure-auth/pkg/security"
	"github.com/jwalitptl/secure-auth/pkg/validator"
)

const EventsChannel = "auth.events"

// timingPassword is hashed once at startup so unknown accounts cost the same
// verification time as known ones.
const timingPassword = "timing-equalizer-not-a-real-password"

type Deps struct {
	Repo           repository.SecurityRecordRepository
	Guard          *lockout.Guard
	Hasher         security.PasswordHasher
	Clock          lockout.Clock
	Broker         messaging.Broker
	Mailer         email.Service
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	PasswordPolicy model.PasswordPolicy
	Validator      validator.Validator
}

type Service struct {
	repo      repository.SecurityRecordRepository
	guard     *lockout.Guard
	hasher    security.PasswordHasher
	clock     lockout.Clock
	broker    messaging.Broker
	mailer    email.Service
	metrics   *metrics.Metrics
	logger    *logger.Logger
	policy    model.PasswordPolicy
	validate  validator.Validator
	dummyHash string
}

// LoginResult is the decision for one attempt. Wrong passwords and active
// locks are reported here, not as errors.
type LoginResult struct {
	Email        string
	Outcome      lockout.Outcome
	LockedUntil  *time.Time
	RetryAfter   time.Duration
	AuthorizedAt time.Time
}

func (r *LoginResult) Allowed() bool {
	return r.Outcome == lockout.Success
}

func NewService(d Deps) (*Service, error) {
	if d.Repo == nil || d.Guard == nil || d.Hasher == nil {
		return nil, apperrors.Configuration("auth service requires a repository, guard and hasher", nil)
	}
	if d.Clock == nil {
		d.Clock = lockout.SystemClock()
	}
	if d.Broker == nil {
		d.Broker = messaging.NopBroker()
	}
	if d.Mailer == nil {
		d.Mailer = email.NewSMTPService(email.Config{})
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Validator == nil {
		d.Validator = validator.New()
	}
	if d.PasswordPolicy == (model.PasswordPolicy{}) {
		d.PasswordPolicy = model.DefaultPasswordPolicy()
	}
	if err := d.Validator.Validate(d.PasswordPolicy); err != nil {
		return nil, apperrors.Configuration("invalid password policy", err)
	}

	dummy, err := d.Hasher.Hash(timingPassword)
	if err != nil {
		return nil, apperrors.Configuration("password hasher is not usable", err)
	}

	return &Service{
		repo:      d.Repo,
		guard:     d.Guard,
		hasher:    d.Hasher,
		clock:     d.Clock,
		broker:    d.Broker,
		mailer:    d.Mailer,
		metrics:   d.Metrics,
		logger:    d.Logger,
		policy:    d.PasswordPolicy,
		validate:  d.Validator,
		dummyHash: dummy,
	}, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Login runs one attempt through the guard and persists the outcome.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*LoginResult, error) {
	emailAddr = normalizeEmail(emailAddr)
	now := s.clock.Now()
	defer s.observeLatency(time.Now())

	var (
		res lockout.Result
		rec model.SecurityRecord
	)
	err := s.repo.Mutate(ctx, emailAddr, func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
		r, next, err := s.guard.AttemptLogin(cur, password, now)
		if err != nil {
			return cur, false, err
		}
		res, rec = r, next
		return next, r.Changed, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		if _, verr := s.hasher.Verify(password, s.dummyHash); verr != nil {
			s.logger.Error(verr, "timing verification failed")
		}
		s.countOutcome(lockout.InvalidCredential.String())
		s.logger.Info("login for unknown account", "email", emailAddr)
		return &LoginResult{Email: emailAddr, Outcome: lockout.InvalidCredential}, nil
	}
	if err != nil {
		s.countOutcome("error")
		s.countStorage("mutate", "error")
		return nil, apperrors.Internal(fmt.Errorf("login attempt for %s: %w", emailAddr, err))
	}
	s.countStorage("mutate", "ok")
	s.countOutcome(res.Outcome.String())

	out := &LoginResult{
		Email:       emailAddr,
		Outcome:     res.Outcome,
		LockedUntil: res.LockedUntil,
		RetryAfter:  res.RetryAfter(now),
	}

	switch res.Outcome {
	case lockout.Success:
		out.AuthorizedAt = now
		s.logger.Info("login succeeded", "email", emailAddr)
	case lockout.AccountLocked:
		s.logger.Warn("login rejected, account locked", "email", emailAddr, "retry_after", out.RetryAfter.String())
	case lockout.InvalidCredential:
		s.logger.Info("login failed", "email", emailAddr, "failed_login_attempts", res.Attempts)
	}

	if res.LockTriggered {
		s.onLockTriggered(ctx, rec, now)
	}

	return out, nil
}

// ChangePassword verifies current through the guard, so wrong guesses here
// count toward the lockout like any other attempt. On success the new hash is
// stored and the counters are reset.
func (s *Service) ChangePassword(ctx context.Context, emailAddr, current, newPassword string) (*LoginResult, error) {
	emailAddr = normalizeEmail(emailAddr)
	if err := s.checkPolicy(newPassword); err != nil {
		return nil, err
	}
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := s.clock.Now()
	var (
		res lockout.Result
		rec model.SecurityRecord
	)
	err = s.repo.Mutate(ctx, emailAddr, func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
		r, next, err := s.guard.AttemptLogin(cur, current, now)
		if err != nil {
			return cur, false, err
		}
		res, rec = r, next
		if !r.Allowed() {
			return next, r.Changed, nil
		}
		next.SetPasswordHash(newHash, now)
		rec = next
		return next, true, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		if _, verr := s.hasher.Verify(current, s.dummyHash); verr != nil {
			s.logger.Error(verr, "timing verification failed")
		}
		return &LoginResult{Email: emailAddr, Outcome: lockout.InvalidCredential}, nil
	}
	if err != nil {
		s.countStorage("mutate", "error")
		return nil, apperrors.Internal(fmt.Errorf("change password for %s: %w", emailAddr, err))
	}
	s.countStorage("mutate", "ok")

	out := &LoginResult{
		Email:       emailAddr,
		Outcome:     res.Outcome,
		LockedUntil: res.LockedUntil,
		RetryAfter:  res.RetryAfter(now),
	}
	if res.LockTriggered {
		s.onLockTriggered(ctx, rec, now)
	}
	if !res.Allowed() {
		s.logger.Info("password change rejected", "email", emailAddr, "outcome", res.Outcome.String())
		return out, nil
	}

	out.AuthorizedAt = now
	s.onPasswordChanged(ctx, rec, now)
	return out, nil
}

// SetPassword establishes a password without checking the old one, creating
// the record when the account has none yet.
func (s *Service) SetPassword(ctx context.Context, emailAddr, newPassword string) error {
	emailAddr = normalizeEmail(emailAddr)
	if err := s.checkPolicy(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperrors.Internal(err)
	}
	now := s.clock.Now()

	var rec model.SecurityRecord
	update := func(cur model.SecurityRecord) (model.SecurityRecord, bool, error) {
		cur.SetPasswordHash(hash, now)
		rec = cur
		return cur, true, nil
	}

	err = s.repo.Mutate(ctx, emailAddr, update)
	if errors.Is(err, repository.ErrNotFound) {
		rec = model.NewSecurityRecord(emailAddr, hash, now)
		err = s.repo.Create(ctx, &rec)
		if errors.Is(err, repository.ErrAlreadyExists) {
			err = s.repo.Mutate(ctx, emailAddr, update)
		}
	}
	if err != nil {
		s.countStorage("set_password", "error")
		return apperrors.Internal(fmt.Errorf("set password for %s: %w", emailAddr, err))
	}
	s.countStorage("set_password", "ok")
	s.onPasswordChanged(ctx, rec, now)
	return nil
}

func (s *Service) checkPolicy(pw string) error {
	rules := []string{fmt.Sprintf("min=%d", s.policy.MinLength)}
	if s.policy.MaxLength > 0 {
		rules = append(rules, fmt.Sprintf("max=%d", s.policy.MaxLength))
	}
	if err := s.validate.ValidateField("new password", pw, rules...); err != nil {
		return apperrors.BadRequest(err.Error(), nil)
	}
	if limit := security.MaxPasswordBytes(s.hasher); limit > 0 && len(pw) > limit {
		return apperrors.BadRequest(fmt.Sprintf("new password must be at most %d bytes", limit), nil)
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	switch {
	case s.policy.RequireUppercase && !upper:
		return apperrors.BadRequest("new password must contain an uppercase letter", nil)
	case s.policy.RequireLowercase && !lower:
		return apperrors.BadRequest("new password must contain a lowercase letter", nil)
	case s.policy.RequireNumbers && !digit:
		return apperrors.BadRequest("new password must contain a number", nil)
	case s.policy.RequireSpecialChars && !special:
		return apperrors.BadRequest("new password must contain a special character", nil)
	}
	return nil
}

// Side effects after the record is stored. Failures are logged, never
// returned: the login decision is already final.
func (s *Service) onLockTriggered(ctx context.Context, rec model.SecurityRecord, now time.Time) {
	if s.metrics != nil {
		s.metrics.LocksTriggered.Inc()
	}
	s.logger.Warn("account locked", "email", rec.Email, "failed_login_attempts", rec.FailedLoginAttempts)

	s.publish(ctx, model.LockoutEvent{
		Type:        model.EventAccountLocked,
		RecordID:    rec.ID.String(),
		Email:       rec.Email,
		Attempts:    rec.FailedLoginAttempts,
		LockedUntil: rec.AccountLockedUntil,
		OccurredAt:  now,
	})
	if rec.AccountLockedUntil != nil {
		if err := s.mailer.SendLockoutNotice(ctx, rec.Email, *rec.AccountLockedUntil); err != nil {
			s.logger.Error(err, "failed to send lockout notice", "email", rec.Email)
		}
	}
}

func (s *Service) onPasswordChanged(ctx context.Context, rec model.SecurityRecord, now time.Time) {
	if s.metrics != nil {
		s.metrics.PasswordChanges.Inc()
	}
	s.logger.Info("password changed", "email", rec.Email)

	s.publish(ctx, model.LockoutEvent{
		Type:       model.EventPasswordChanged,
		RecordID:   rec.ID.String(),
		Email:      rec.Email,
		OccurredAt: now,
	})
	if err := s.mailer.SendPasswordChanged(ctx, rec.Email, now); err != nil {
		s.logger.Error(err, "failed to send password change notice", "email", rec.Email)
	}
}

func (s *Service) publish(ctx context.Context, evt model.LockoutEvent) {
	status := "ok"
	if err := s.broker.Publish(ctx, EventsChannel, evt); err != nil {
		status = "error"
		s.logger.Error(err, "failed to publish event", "event_type", evt.Type)
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(evt.Type, status).Inc()
	}
}

func (s *Service) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countStorage(op, status string) {
	if s.metrics != nil {
		s.metrics.StorageOperations.WithLabelValues(op, status).Inc()
	}
}

func (s *Service) observeLatency(start time.Time) {
	if s.metrics != nil {
		s.metrics.LoginLatency.Observe(time.Since(start).Seconds())
	}
}
