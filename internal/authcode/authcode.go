// Package authcode implements the email login-code flow: a short-lived
// numeric code is hashed at rest and verified with rate limits. Rate
// limiting goes through an injected Counter so deployments can share limits
// across instances instead of keeping process-wide maps.
package authcode

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pathway-labs/pathway/internal/apperr"
)

// Error codes returned by the login-code flow.
const (
	CodeRateLimited = "rate_limited"
	CodeInvalid     = "code_invalid"
	CodeExpired     = "code_expired"
)

// Counter increments a rate-limit bucket and returns the new count. The
// bucket expires ttl after its first increment.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// CodeStore persists hashed login codes.
type CodeStore interface {
	Put(ctx context.Context, email, hash string, expiresAt time.Time) error
	// Get returns the stored hash and expiry, or ("", zero, nil) when absent.
	Get(ctx context.Context, email string) (string, time.Time, error)
	Delete(ctx context.Context, email string) error
}

// Sender delivers a code to the user; email delivery itself lives outside
// this system.
type Sender interface {
	SendCode(ctx context.Context, email, code string) error
}

// Options tunes the service.
type Options struct {
	CodeTTL          time.Duration // default 10m
	MaxCodesPerHour  int           // default 5
	MaxVerifyPerHour int           // default 10
}

// Service issues and verifies login codes.
type Service struct {
	codes   CodeStore
	counter Counter
	sender  Sender
	opts    Options
	now     func() time.Time
}

// NewService creates a login-code service.
func NewService(codes CodeStore, counter Counter, sender Sender, opts Options) *Service {
	if opts.CodeTTL == 0 {
		opts.CodeTTL = 10 * time.Minute
	}
	if opts.MaxCodesPerHour == 0 {
		opts.MaxCodesPerHour = 5
	}
	if opts.MaxVerifyPerHour == 0 {
		opts.MaxVerifyPerHour = 10
	}
	return &Service{codes: codes, counter: counter, sender: sender, opts: opts, now: time.Now}
}

// Request generates a fresh 6-digit code for the email, stores its bcrypt
// hash, and hands the plaintext to the sender.
func (s *Service) Request(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return apperr.Validation("email_invalid", "a valid email address is required")
	}

	n, err := s.counter.Incr(ctx, "authcode:req:"+email, time.Hour)
	if err != nil {
		return fmt.Errorf("rate counter: %w", err)
	}
	if n > int64(s.opts.MaxCodesPerHour) {
		return apperr.Conflict(CodeRateLimited, "too many code requests; try again later")
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	if err := s.codes.Put(ctx, email, string(hash), s.now().Add(s.opts.CodeTTL)); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := s.sender.SendCode(ctx, email, code); err != nil {
		return fmt.Errorf("send code: %w", err)
	}

	slog.Info("login code issued", "email", email)
	return nil
}

// Verify checks a submitted code. A matching, unexpired code is consumed so
// it cannot be replayed.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	n, err := s.counter.Incr(ctx, "authcode:verify:"+email, time.Hour)
	if err != nil {
		return fmt.Errorf("rate counter: %w", err)
	}
	if n > int64(s.opts.MaxVerifyPerHour) {
		return apperr.Conflict(CodeRateLimited, "too many verification attempts; try again later")
	}

	hash, expiresAt, err := s.codes.Get(ctx, email)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if hash == "" {
		return apperr.Unauthorized(CodeInvalid, "invalid login code")
	}
	if s.now().After(expiresAt) {
		_ = s.codes.Delete(ctx, email)
		return apperr.Unauthorized(CodeExpired, "this login code has expired; request a new one")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return apperr.Unauthorized(CodeInvalid, "invalid login code")
	}

	if err := s.codes.Delete(ctx, email); err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	slog.Info("login code verified", "email", email)
	return nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
