package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key layout. Both indexes live in one table with a fixed sort key.
const (
	pkHandle = "FILE#"
	pkHash   = "HASH#"
	skRef    = "REF"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// dynamoRecord is the item body; PK and SK are added by putIfAbsent.
type dynamoRecord struct {
	Ref        int    `dynamodbav:"ref"`
	Handle     string `dynamodbav:"handle,omitempty"`
	Hash       string `dynamodbav:"hash,omitempty"`
	Size       int64  `dynamodbav:"size,omitempty"`
	RecordedAt string `dynamodbav:"recordedAt"`
}

// DynamoStore keeps records in a DynamoDB table with a string PK and SK.
// Records never expire.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

func handlePK(handle string) string {
	return pkHandle + handle
}

func hashPK(hash string, size int64) string {
	return pkHash + FingerprintKey(hash, size)
}

func (s *DynamoStore) LookupByHandle(ctx context.Context, handle string) (int, bool, error) {
	return s.getRef(ctx, handlePK(handle))
}

func (s *DynamoStore) LookupByHash(ctx context.Context, hash string, size int64) (int, bool, error) {
	return s.getRef(ctx, hashPK(hash, size))
}

// Record writes the handle entry first, then the fingerprint entry. Both
// writes are attempted; a failed fingerprint write never hides the handle.
func (s *DynamoStore) Record(ctx context.Context, rec Record) error {
	now := time.Now().UTC().Format(time.RFC3339)

	body := dynamoRecord{Ref: rec.Ref, Handle: rec.Handle, Hash: rec.Hash, Size: rec.Size, RecordedAt: now}
	handleErr := s.putIfAbsent(ctx, handlePK(rec.Handle), body)

	var hashErr error
	if rec.HasFingerprint() {
		body := dynamoRecord{Ref: rec.Ref, Hash: rec.Hash, Size: rec.Size, RecordedAt: now}
		if err := s.putIfAbsent(ctx, hashPK(rec.Hash, rec.Size), body); err != nil && !errors.Is(err, ErrAlreadyExists) {
			hashErr = err
		}
	}
	return joinRecordErrors(handleErr, hashErr)
}

func (s *DynamoStore) Close() error { return nil }

// getRef reads one record by PK. Returns false if the item does not exist.
func (s *DynamoStore) getRef(ctx context.Context, pk string) (int, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skRef},
		},
		ProjectionExpression: aws.String("#ref"),
		ExpressionAttributeNames: map[string]string{
			"#ref": "ref",
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("GetItem PK=%s: %w", pk, err)
	}
	if result.Item == nil {
		return 0, false, nil
	}

	var out dynamoRecord
	if err := attributevalue.UnmarshalMap(result.Item, &out); err != nil {
		return 0, false, fmt.Errorf("unmarshal PK=%s: %w", pk, err)
	}
	return out.Ref, true, nil
}

// putIfAbsent writes the record only if no item with the same PK exists.
func (s *DynamoStore) putIfAbsent(ctx context.Context, pk string, body dynamoRecord) error {
	item, err := attributevalue.MarshalMap(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: skRef}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("PutItem PK=%s: %w", pk, err)
	}
	log.Debug().Str("pk", pk).Int("ref", body.Ref).Msg("Dedup record stored")
	return nil
}
