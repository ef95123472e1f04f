package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/otpguard/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisOTPRepository keeps each record as a JSON value under otp:<identifier>.
// Keys live until the record's expiry plus the retention period.
type RedisOTPRepository struct {
	client    redis.UniversalClient
	retention time.Duration
	logger    *logrus.Logger
}

func NewRedisOTPRepository(client redis.UniversalClient, retention time.Duration, logger *logrus.Logger) *RedisOTPRepository {
	return &RedisOTPRepository{
		client:    client,
		retention: retention,
		logger:    logger,
	}
}

func redisOTPKey(identifier string) string {
	return fmt.Sprintf("otp:%s", identifier)
}

func (r *RedisOTPRepository) Upsert(ctx context.Context, record models.OTPRecord) error {
	dataJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	ttl := time.Until(record.ExpiresAt.Add(r.retention))
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := r.client.Set(ctx, redisOTPKey(record.Identifier), dataJSON, ttl).Err(); err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *RedisOTPRepository) Get(ctx context.Context, identifier string) (*models.OTPRecord, error) {
	dataJSON, err := r.client.Get(ctx, redisOTPKey(identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to get OTP from Redis")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var record models.OTPRecord
	if err := json.Unmarshal([]byte(dataJSON), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	return &record, nil
}
