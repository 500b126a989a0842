package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/leadgen-site/internal/datanorm"
	"github.com/ignite/leadgen-site/internal/pkg/logger"
)

// Single-table layout.
const (
	pricingPK        = "PRICING"
	pricingRowPrefix = "ROW#"
	pricingMetaSK    = "META"
	counterPK        = "COUNTER"
	counterSK        = "marketplace_registrations"
	registrationSK   = "PROFILE"
	byTypePrefix     = "Type_"

	batchWriteLimit   = 25
	maxUnprocessedTry = 5
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBItem represents an item stored in DynamoDB
type DynamoDBItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Variant   string `dynamodbav:"Variant,omitempty"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
}

// DynamoStore keeps the catalog, registrations and the counter in one table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
	backoff   time.Duration
}

func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
		backoff:   50 * time.Millisecond,
	}
}

func (s *DynamoStore) UpsertPricing(ctx context.Context, rows []datanorm.Row) (UploadResult, error) {
	rows = dedupeRows(rows)
	now := s.now()
	ts := now.Format(time.RFC3339Nano)

	requests := make([]types.WriteRequest, 0, len(rows))
	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return UploadResult{}, fmt.Errorf("marshaling row %s: %w", r.Key(), err)
		}
		av, err := attributevalue.MarshalMap(DynamoDBItem{
			PK:        pricingPK,
			SK:        pricingRowPrefix + r.Key(),
			Variant:   string(r.Variant()),
			Data:      string(data),
			Timestamp: ts,
		})
		if err != nil {
			return UploadResult{}, fmt.Errorf("marshaling item: %w", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}
		if err := s.batchWrite(ctx, requests[start:end]); err != nil {
			return UploadResult{}, err
		}
	}

	meta, err := json.Marshal(map[string]int{"count": len(rows)})
	if err != nil {
		return UploadResult{}, err
	}
	av, err := attributevalue.MarshalMap(DynamoDBItem{PK: pricingPK, SK: pricingMetaSK, Data: string(meta), Timestamp: ts})
	if err != nil {
		return UploadResult{}, fmt.Errorf("marshaling item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av}); err != nil {
		return UploadResult{}, fmt.Errorf("putting catalog metadata: %w", err)
	}

	return UploadResult{Count: len(rows), UpdatedAt: now}, nil
}

func (s *DynamoStore) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: reqs}
	for attempt := 0; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch writing catalog rows: %w", err)
		}
		if len(out.UnprocessedItems[s.tableName]) == 0 {
			return nil
		}
		if attempt+1 >= maxUnprocessedTry {
			return fmt.Errorf("batch writing catalog rows: %d items unprocessed after %d attempts",
				len(out.UnprocessedItems[s.tableName]), maxUnprocessedTry)
		}
		logger.Warn("dynamodb unprocessed items, retrying", "count", len(out.UnprocessedItems[s.tableName]), "attempt", attempt+1)
		pending = out.UnprocessedItems

		timer := time.NewTimer(s.backoff << attempt)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (s *DynamoStore) ListPricing(ctx context.Context) (*Catalog, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pricingPK},
			":prefix": &types.AttributeValueMemberS{Value: pricingRowPrefix},
		},
	})

	cat := &Catalog{Rows: []datanorm.Entry{}}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}
		for _, item := range page.Items {
			var dbItem DynamoDBItem
			if err := attributevalue.UnmarshalMap(item, &dbItem); err != nil {
				logger.Warn("skipping unreadable catalog item", "error", err)
				continue
			}
			row, err := datanorm.DecodeRow(datanorm.Variant(dbItem.Variant), []byte(dbItem.Data))
			if err != nil {
				logger.Warn("skipping undecodable catalog row", "sk", dbItem.SK, "error", err)
				continue
			}
			cat.Rows = append(cat.Rows, datanorm.Entry{
				Variant: row.Variant(),
				Key:     strings.TrimPrefix(dbItem.SK, pricingRowPrefix),
				Row:     row,
			})
		}
	}
	cat.Count = len(cat.Rows)

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(pricingPK, pricingMetaSK),
	})
	if err != nil {
		return nil, fmt.Errorf("getting catalog metadata: %w", err)
	}
	if out.Item != nil {
		var meta DynamoDBItem
		if err := attributevalue.UnmarshalMap(out.Item, &meta); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, meta.Timestamp); err == nil {
				cat.UpdatedAt = &t
			}
		}
	}
	return cat, nil
}

func (s *DynamoStore) SaveRegistration(ctx context.Context, reg *Registration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshaling registration: %w", err)
	}
	av, err := attributevalue.MarshalMap(DynamoDBItem{
		PK:        "REGISTRATION#" + reg.ID,
		SK:        registrationSK,
		Variant:   reg.ListingType,
		Data:      string(data),
		Timestamp: reg.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrDuplicateRegistration
	}
	if err != nil {
		return fmt.Errorf("putting registration: %w", err)
	}
	return nil
}

func (s *DynamoStore) IncrementRegistrations(ctx context.Context, listingType string) (RegistrationCount, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              itemKey(counterPK, counterSK),
		UpdateExpression: aws.String("ADD #total :one, #bytype :one SET #ts = :ts"),
		ExpressionAttributeNames: map[string]string{
			"#total":  "Total",
			"#bytype": byTypePrefix + listingType,
			"#ts":     "Timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ts":  &types.AttributeValueMemberS{Value: s.now().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return RegistrationCount{}, fmt.Errorf("incrementing registration counter: %w", err)
	}
	return parseCounter(out.Attributes), nil
}

func (s *DynamoStore) RegistrationCount(ctx context.Context) (RegistrationCount, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(counterPK, counterSK),
	})
	if err != nil {
		return RegistrationCount{}, fmt.Errorf("getting registration counter: %w", err)
	}
	return parseCounter(out.Item), nil
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	return err
}

func (s *DynamoStore) Close() error { return nil }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func parseCounter(item map[string]types.AttributeValue) RegistrationCount {
	c := RegistrationCount{ByType: map[string]int64{}}
	for name, av := range item {
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case name == "Total":
			c.Total = v
		case strings.HasPrefix(name, byTypePrefix):
			c.ByType[strings.TrimPrefix(name, byTypePrefix)] = v
		}
	}
	return c
}
