package models

import (
	"strings"
	"time"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// OTPRecord is the pending or verified code issued to one identifier.
type OTPRecord struct {
	Identifier string    `json:"identifier" dynamodbav:"Identifier"`
	Channel    string    `json:"channel" dynamodbav:"Channel"`
	CodeHash   string    `json:"code_hash" dynamodbav:"CodeHash"`
	Attempts   int       `json:"attempts" dynamodbav:"Attempts"`
	Verified   bool      `json:"verified" dynamodbav:"Verified"`
	VerifiedAt time.Time `json:"verified_at,omitempty" dynamodbav:"VerifiedAt,omitempty"`
	CreatedAt  time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt  time.Time `json:"expires_at" dynamodbav:"ExpiresAt"`
}

func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// NormalizeIdentifier lower-cases emails and trims whitespace so that the
// same address always maps to the same record.
func NormalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}
	return identifier
}

// ChannelFor reports how a code for identifier is delivered.
func ChannelFor(identifier string) string {
	if strings.Contains(identifier, "@") {
		return ChannelEmail
	}
	return ChannelSMS
}
