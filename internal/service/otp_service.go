package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/otpguard/internal/clock"
	"github.com/qcom/otpguard/internal/config"
	"github.com/qcom/otpguard/internal/delivery"
	"github.com/qcom/otpguard/internal/models"
	"github.com/qcom/otpguard/internal/ratelimit"
	"github.com/qcom/otpguard/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// OTPStore persists one record per identifier. Upsert is last-write-wins and
// Get returns repository.ErrOTPNotFound for unknown identifiers.
type OTPStore interface {
	Get(ctx context.Context, identifier string) (*models.OTPRecord, error)
	Upsert(ctx context.Context, record models.OTPRecord) error
}

type OTPService struct {
	store           OTPStore
	limiter         ratelimit.Limiter
	sender          delivery.Sender
	cfg             *config.OTPConfig
	deliveryTimeout time.Duration
	clock           clock.Clock
	locks           *keyedMutex
	logger          *logrus.Logger
}

type OTPServiceOption func(*OTPService)

func WithClock(c clock.Clock) OTPServiceOption {
	return func(s *OTPService) { s.clock = c }
}

func NewOTPService(
	store OTPStore,
	limiter ratelimit.Limiter,
	sender delivery.Sender,
	cfg *config.OTPConfig,
	deliveryTimeout time.Duration,
	logger *logrus.Logger,
	opts ...OTPServiceOption,
) *OTPService {
	s := &OTPService{
		store:           store,
		limiter:         limiter,
		sender:          sender,
		cfg:             cfg,
		deliveryTimeout: deliveryTimeout,
		clock:           clock.New(),
		locks:           newKeyedMutex(),
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestOTP issues a new code for identifier, replacing any pending one, and
// hands it to the sender. It returns the code's expiry.
//
// A delivery failure is reported as ErrDeliveryFailed but the record is kept:
// the code stays verifiable and the user can ask again after the cooldown.
func (s *OTPService) RequestOTP(ctx context.Context, identifier string) (time.Time, error) {
	identifier = models.NormalizeIdentifier(identifier)
	log := s.logger.WithField("identifier", identifier)

	dec, err := s.limiter.Allow(ctx, identifier)
	if err != nil {
		log.WithError(err).Error("Failed to check OTP rate limit")
		return time.Time{}, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !dec.Allowed {
		log.WithField("retry_after", dec.RetryAfter.String()).Info("OTP request throttled")
		return time.Time{}, &ThrottledError{RetryAfter: dec.RetryAfter}
	}

	code, err := GenerateCode()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.clock.Now()
	record := models.OTPRecord{
		Identifier: identifier,
		Channel:    models.ChannelFor(identifier),
		CodeHash:   string(hashedOTP),
		CreatedAt:  now,
		ExpiresAt:  Expiry(now, s.cfg.Expiry),
	}

	unlock := s.locks.Lock(identifier)
	err = s.store.Upsert(ctx, record)
	unlock()
	if err != nil {
		log.WithError(err).Error("Failed to store OTP")
		return time.Time{}, fmt.Errorf("failed to store OTP: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	if err := s.sender.Send(sendCtx, delivery.Message{
		Identifier: identifier,
		Channel:    record.Channel,
		Code:       code,
		ExpiresAt:  record.ExpiresAt,
	}); err != nil {
		log.WithError(err).Warn("Failed to deliver OTP")
		return record.ExpiresAt, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	log.WithField("channel", record.Channel).Info("OTP issued")
	return record.ExpiresAt, nil
}

// VerifyOTP checks code against the pending record for identifier and marks
// it verified on success. A verified record cannot be verified again.
func (s *OTPService) VerifyOTP(ctx context.Context, identifier, code string) (*models.OTPRecord, error) {
	identifier = models.NormalizeIdentifier(identifier)
	log := s.logger.WithField("identifier", identifier)

	unlock := s.locks.Lock(identifier)
	defer unlock()

	record, err := s.store.Get(ctx, identifier)
	if errors.Is(err, repository.ErrOTPNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.WithError(err).Error("Failed to get OTP")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if record.Verified {
		return nil, ErrAlreadyVerified
	}

	now := s.clock.Now()
	if record.IsExpired(now) {
		return nil, ErrExpired
	}

	if record.Attempts >= s.cfg.MaxAttempts {
		return nil, ErrTooManyAttempts
	}

	err = bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		record.Attempts++
		if err := s.store.Upsert(ctx, *record); err != nil {
			log.WithError(err).Error("Failed to record OTP attempt")
			return nil, fmt.Errorf("failed to record OTP attempt: %w", err)
		}
		log.WithField("attempts", record.Attempts).Info("OTP verification failed")
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compare OTP: %w", err)
	}

	record.Verified = true
	record.VerifiedAt = now
	if err := s.store.Upsert(ctx, *record); err != nil {
		log.WithError(err).Error("Failed to mark OTP verified")
		return nil, fmt.Errorf("failed to mark OTP verified: %w", err)
	}

	log.Info("OTP verified")
	return record, nil
}
