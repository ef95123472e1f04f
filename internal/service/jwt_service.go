package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/qcom/otpguard/internal/config"
	"github.com/qcom/otpguard/internal/models"
	"github.com/sirupsen/logrus"
)

const TokenTypeOTPVerified = "otp_verified"

// JWTService signs the short-lived tokens handed out after a successful
// verification. Other domains accept them as proof that the bearer controls
// the identifier.
type JWTService struct {
	secretKey   []byte
	tokenExpiry time.Duration
	logger      *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:   secretKey,
		tokenExpiry: cfg.TokenExpiry,
		logger:      logger,
	}, nil
}

type Claims struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
	Type       string `json:"type"`
	jwt.RegisteredClaims
}

func (s *JWTService) IssueVerificationToken(identifier, channel string) (*models.VerificationToken, error) {
	now := time.Now()

	claims := &Claims{
		Identifier: identifier,
		Channel:    channel,
		Type:       TokenTypeOTPVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identifier,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign verification token")
		return nil, fmt.Errorf("failed to sign verification token: %w", err)
	}

	return &models.VerificationToken{
		Token:     tokenString,
		TokenType: "Bearer",
		ExpiresIn: int64(s.tokenExpiry.Seconds()),
	}, nil
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
