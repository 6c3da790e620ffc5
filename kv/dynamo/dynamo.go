// Package dynamo implements the primary store on DynamoDB.
//
// All records live in a single table keyed by (pk, sk) string attributes.
// Conditional expressions carry the concurrency control; a failed condition
// is translated to kv.ErrConflict at this boundary so callers never see
// AWS error types.
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name sparkboard \
//	  --attribute-definitions AttributeName=pk,AttributeType=S AttributeName=sk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH AttributeName=sk,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//
// Counter shard rows carry a numeric "ttl" attribute; enable table TTL on it.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sparkboardhq/sparkboard/kv"
)

const (
	attrPK = "pk"
	attrSK = "sk"

	batchGetBound   = 100
	batchWriteBound = 25
)

// Client is the narrow DynamoDB surface this package needs. The real
// *dynamodb.Client satisfies it; tests substitute an in-memory fake.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store implements kv.Store on a DynamoDB table.
type Store struct {
	client    Client
	tableName string
}

// New creates a Store on the given table.
func New(client Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// NewFromConfig loads default AWS config and creates a Store.
func NewFromConfig(ctx context.Context, tableName string, optFns ...func(*awsconfig.LoadOptions) error) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), tableName), nil
}

// Get returns the record at key, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key kv.Key) (kv.Attributes, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            keyAttrs(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get %s/%s: %w", key.PK, key.SK, err)
	}
	if len(resp.Item) == 0 {
		return nil, kv.ErrNotFound
	}
	return fromItem(resp.Item), nil
}

// Put writes a full record, honoring the condition.
func (s *Store) Put(ctx context.Context, put kv.Put) error {
	item := toItem(put.Key, put.Attributes)

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: conditionExpr(put.Condition),
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return kv.ErrConflict
		}
		return fmt.Errorf("dynamo: put %s/%s: %w", put.Key.PK, put.Key.SK, err)
	}
	return nil
}

// Update applies a partial write and returns the record's new attributes.
func (s *Store) Update(ctx context.Context, update kv.Update) (kv.Attributes, error) {
	expr, names, values := updateExpr(update)

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       keyAttrs(update.Key),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       conditionExpr(update.Condition),
		ReturnValues:              types.ReturnValueAllNew,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}

	resp, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, kv.ErrConflict
		}
		return nil, fmt.Errorf("dynamo: update %s/%s: %w", update.Key.PK, update.Key.SK, err)
	}
	return fromItem(resp.Attributes), nil
}

// Delete removes the record at key. Absent keys are a no-op.
func (s *Store) Delete(ctx context.Context, key kv.Key) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       keyAttrs(key),
	}); err != nil {
		return fmt.Errorf("dynamo: delete %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

// BatchGet returns records for the given keys, splitting requests at the
// DynamoDB batch bound and retrying unprocessed keys within the call.
func (s *Store) BatchGet(ctx context.Context, keys []kv.Key) (map[kv.Key]kv.Attributes, error) {
	out := make(map[kv.Key]kv.Attributes, len(keys))

	for start := 0; start < len(keys); start += batchGetBound {
		end := min(start+batchGetBound, len(keys))

		pending := make([]map[string]types.AttributeValue, 0, end-start)
		for _, key := range keys[start:end] {
			pending = append(pending, keyAttrs(key))
		}

		for len(pending) > 0 {
			resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					s.tableName: {Keys: pending, ConsistentRead: aws.Bool(true)},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("dynamo: batch get: %w", err)
			}

			for _, item := range resp.Responses[s.tableName] {
				key := kv.Key{PK: stringAttr(item[attrPK]), SK: stringAttr(item[attrSK])}
				out[key] = fromItem(item)
			}

			pending = nil
			if unprocessed, ok := resp.UnprocessedKeys[s.tableName]; ok {
				pending = unprocessed.Keys
			}
		}
	}
	return out, nil
}

// BatchDelete issues one bounded batch-write and returns the keys DynamoDB
// reported unprocessed plus any keys beyond the batch bound.
func (s *Store) BatchDelete(ctx context.Context, keys []kv.Key) ([]kv.Key, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	n := min(len(keys), batchWriteBound)

	requests := make([]types.WriteRequest, 0, n)
	for _, key := range keys[:n] {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: keyAttrs(key)},
		})
	}

	resp, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
	})
	if err != nil {
		return keys, fmt.Errorf("dynamo: batch delete: %w", err)
	}

	var unprocessed []kv.Key
	for _, req := range resp.UnprocessedItems[s.tableName] {
		if req.DeleteRequest != nil {
			unprocessed = append(unprocessed, kv.Key{
				PK: stringAttr(req.DeleteRequest.Key[attrPK]),
				SK: stringAttr(req.DeleteRequest.Key[attrSK]),
			})
		}
	}
	unprocessed = append(unprocessed, keys[n:]...)
	return unprocessed, nil
}

// Query reads a page of records from one partition.
func (s *Store) Query(ctx context.Context, q kv.Query) (kv.Page, error) {
	keyCond := "#pk = :pk"
	names := map[string]string{"#pk": attrPK}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: q.PK},
	}
	if q.SKPrefix != "" {
		keyCond += " AND begins_with(#sk, :skp)"
		names["#sk"] = attrSK
		values[":skp"] = &types.AttributeValueMemberS{Value: q.SKPrefix}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(!q.Reverse),
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}
	if q.ExclusiveStartSK != "" {
		input.ExclusiveStartKey = keyAttrs(kv.Key{PK: q.PK, SK: q.ExclusiveStartSK})
	}

	resp, err := s.client.Query(ctx, input)
	if err != nil {
		return kv.Page{}, fmt.Errorf("dynamo: query %s: %w", q.PK, err)
	}

	page := kv.Page{Items: make([]kv.Item, 0, len(resp.Items))}
	for _, item := range resp.Items {
		page.Items = append(page.Items, kv.Item{
			Key:        kv.Key{PK: stringAttr(item[attrPK]), SK: stringAttr(item[attrSK])},
			Attributes: fromItem(item),
		})
	}
	if len(resp.LastEvaluatedKey) > 0 {
		page.LastSK = stringAttr(resp.LastEvaluatedKey[attrSK])
		page.More = true
	}
	return page, nil
}

// TransactPut writes all puts in one all-or-nothing transaction. A
// condition failure on any item cancels the whole transaction and surfaces
// as kv.ErrConflict.
func (s *Store) TransactPut(ctx context.Context, puts []kv.Put) error {
	items := make([]types.TransactWriteItem, 0, len(puts))
	for _, put := range puts {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                toItem(put.Key, put.Attributes),
				ConditionExpression: conditionExpr(put.Condition),
			},
		})
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return kv.ErrConflict
				}
			}
		}
		return fmt.Errorf("dynamo: transact put: %w", err)
	}
	return nil
}

func conditionExpr(c kv.Condition) *string {
	switch c {
	case kv.ConditionNotExists:
		return aws.String("attribute_not_exists(pk)")
	case kv.ConditionExists:
		return aws.String("attribute_exists(pk)")
	default:
		return nil
	}
}

// updateExpr builds a SET/ADD update expression with name and value
// placeholders. Attribute names are always aliased to dodge reserved words.
func updateExpr(update kv.Update) (string, map[string]string, map[string]types.AttributeValue) {
	names := make(map[string]string)
	values := make(map[string]types.AttributeValue)

	var sets, adds []string
	i := 0
	for name, v := range update.Set {
		nameKey := fmt.Sprintf("#n%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		names[nameKey] = name
		values[valueKey] = toAttr(v)
		sets = append(sets, nameKey+" = "+valueKey)
		i++
	}
	for name, delta := range update.Add {
		nameKey := fmt.Sprintf("#n%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		names[nameKey] = name
		values[valueKey] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", delta)}
		adds = append(adds, nameKey+" "+valueKey)
		i++
	}

	var parts []string
	if len(sets) > 0 {
		parts = append(parts, "SET "+strings.Join(sets, ", "))
	}
	if len(adds) > 0 {
		parts = append(parts, "ADD "+strings.Join(adds, ", "))
	}
	return strings.Join(parts, " "), names, values
}

var _ kv.Store = (*Store)(nil)
