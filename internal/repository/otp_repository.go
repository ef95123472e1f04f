package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/otpguard/internal/models"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of *dynamodb.Client used by OTPRepository.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// OTPRepository stores OTP records in a single DynamoDB table keyed by
// PK=OTP#<identifier>, SK=METADATA. The table's TTL attribute removes records
// once their retention has passed.
type OTPRepository struct {
	client    DynamoDBAPI
	tableName string
	retention time.Duration
	logger    *logrus.Logger
}

func NewOTPRepository(client DynamoDBAPI, tableName string, retention time.Duration, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		retention: retention,
		logger:    logger,
	}
}

func otpKey(identifier string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("OTP#%s", identifier)},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// Upsert replaces whatever record the identifier had.
func (r *OTPRepository) Upsert(ctx context.Context, record models.OTPRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP: %w", err)
	}

	for k, v := range otpKey(record.Identifier) {
		item[k] = v
	}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", record.ExpiresAt.Add(r.retention).Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

// Get retrieves the record for identifier.
func (r *OTPRepository) Get(ctx context.Context, identifier string) (*models.OTPRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            otpKey(identifier),
		ConsistentRead: aws.Bool(true),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if result.Item == nil {
		return nil, ErrOTPNotFound
	}

	var record models.OTPRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	return &record, nil
}
