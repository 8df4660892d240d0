package internal

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bdlm/bedlam"
)

var _ bedlam.StateStore = (*DynamoDBStateStore)(nil)

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// stateItem is one row of the state table. The table's partition key is pk.
type stateItem struct {
	PK        string `dynamodbav:"pk"`
	Name      string `dynamodbav:"name,omitempty"`
	Data      string `dynamodbav:"data"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// DynamoDBStateStore keeps JSON encoded Objects in a DynamoDB table.
type DynamoDBStateStore struct {
	client dynamoAPI
	table  string
	prefix string
}

func NewDynamoDBStateStore(client dynamoAPI, table, prefix string) (*DynamoDBStateStore, error) {
	if client == nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "dynamodb state store needs a client", nil)
	}
	if table == "" {
		return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidName, "dynamodb state store needs a table")
	}
	return &DynamoDBStateStore{client: client, table: table, prefix: prefix}, nil
}

func (s *DynamoDBStateStore) pk(key string) string { return s.prefix + key }

func (s *DynamoDBStateStore) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: s.pk(key)},
	}
}

func (s *DynamoDBStateStore) Put(ctx context.Context, key string, obj *bedlam.Object) error {
	if obj == nil {
		return bedlam.NewConfigurationError(bedlam.ErrCodeInvalidType, "cannot store a nil object")
	}
	data, err := obj.Serialize()
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(stateItem{
		PK:        s.pk(key),
		Name:      obj.Name(),
		Data:      string(data),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return bedlam.NewInternalError("marshal state item", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "dynamodb put", err).WithDetail("key", key)
	}
	return nil
}

func (s *DynamoDBStateStore) Get(ctx context.Context, key string) (*bedlam.Object, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "dynamodb get", err).WithDetail("key", key)
	}
	if len(out.Item) == 0 {
		return nil, bedlam.NewStateNotFoundError(key)
	}
	var item stateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, bedlam.NewInternalError("unmarshal state item", err)
	}
	return bedlam.Unserialize([]byte(item.Data))
}

func (s *DynamoDBStateStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.keyAttr(key),
	}); err != nil {
		return bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "dynamodb delete", err).WithDetail("key", key)
	}
	return nil
}

func (s *DynamoDBStateStore) Close() error { return nil }
