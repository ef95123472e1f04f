package repository

import "errors"

// ErrOTPNotFound is returned by Get when no record exists for an identifier.
var ErrOTPNotFound = errors.New("OTP not found")
