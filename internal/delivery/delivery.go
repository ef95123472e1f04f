// Package delivery hands freshly issued codes to whatever actually reaches
// the user: an email or SMS gateway behind a message broker, or the log in
// development.
package delivery

import (
	"context"
	"time"
)

// Message is one code to deliver.
type Message struct {
	Identifier string    `json:"identifier"`
	Channel    string    `json:"channel"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}
