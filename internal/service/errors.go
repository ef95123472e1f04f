package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrThrottled       = errors.New("OTP requested too soon")
	ErrDeliveryFailed  = errors.New("OTP delivery failed")
	ErrNotFound        = errors.New("OTP not found")
	ErrExpired         = errors.New("OTP expired")
	ErrInvalidCode     = errors.New("invalid OTP")
	ErrAlreadyVerified = errors.New("OTP already verified")
	ErrTooManyAttempts = errors.New("maximum attempts exceeded")
)

// ThrottledError carries the remaining cooldown. It matches ErrThrottled
// under errors.Is.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}
