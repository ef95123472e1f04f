package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ErrNATSSubjectRequired is returned when the sender has no subject to publish to.
var ErrNATSSubjectRequired = errors.New("delivery: nats subject is required")

// Publisher is the part of *nats.Conn the sender needs.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATSSender publishes each code as a JSON message for the notification
// service, which owns the actual email and SMS providers.
type NATSSender struct {
	conn    Publisher
	subject string
}

func NewNATSSender(conn Publisher, subject string) (*NATSSender, error) {
	if subject == "" {
		return nil, ErrNATSSubjectRequired
	}
	return &NATSSender{conn: conn, subject: subject}, nil
}

func (s *NATSSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("delivery: marshal message: %w", err)
	}

	nmsg := nats.NewMsg(s.subject)
	nmsg.Data = body
	nmsg.Header.Set("Content-Type", "application/json")
	nmsg.Header.Set("Message-Id", uuid.NewString())
	nmsg.Header.Set("Channel", msg.Channel)

	if err := s.conn.PublishMsg(nmsg); err != nil {
		return fmt.Errorf("delivery: nats publish: %w", err)
	}
	// Flush so a dead connection surfaces here rather than being buffered.
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("delivery: nats flush: %w", err)
	}

	return nil
}
