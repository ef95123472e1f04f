package delivery

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes codes to the log instead of delivering them. Development only.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"identifier": msg.Identifier,
		"channel":    msg.Channel,
		"otp":        msg.Code,
		"expires_at": msg.ExpiresAt,
	}).Info("OTP generated (logged for development)")

	return nil
}
