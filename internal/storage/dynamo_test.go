package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadgen-site/internal/datanorm"
)

// fakeDynamo is a tiny in-memory table keyed by PK/SK.
type fakeDynamo struct {
	mu            sync.Mutex
	items         map[string]map[string]types.AttributeValue
	batchSizes    []int
	unprocessOnce bool
	updates       []*dynamodb.UpdateItemInput
	putErr        error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value + "|" + item["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		f.batchSizes = append(f.batchSizes, len(reqs))
		if len(reqs) > 25 {
			return nil, errors.New("ValidationException: too many items")
		}
		for i, r := range reqs {
			if f.unprocessOnce && i == len(reqs)-1 {
				f.unprocessOnce = false
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], r)
				continue
			}
			f.items[keyOf(r.PutRequest.Item)] = r.PutRequest.Item
		}
	}
	return out, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	k := keyOf(in.Item)
	if in.ConditionExpression != nil {
		if _, exists := f.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("exists")}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	k := keyOf(in.Key)
	item, ok := f.items[k]
	if !ok {
		item = map[string]types.AttributeValue{"PK": in.Key["PK"], "SK": in.Key["SK"]}
	}
	for _, alias := range []string{"#total", "#bytype"} {
		name := in.ExpressionAttributeNames[alias]
		var cur int64
		if n, ok := item[name].(*types.AttributeValueMemberN); ok {
			cur, _ = strconv.ParseInt(n.Value, 10, 64)
		}
		item[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+1, 10)}
	}
	item["Timestamp"] = in.ExpressionAttributeValues[":ts"]
	f.items[k] = item
	return &dynamodb.UpdateItemOutput{Attributes: item}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value
	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, pk+"|"+prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func strPtr(s string) *string { return &s }

func newTestDynamoStore(f *fakeDynamo) *DynamoStore {
	s := NewDynamoStore(f, "leadgen-test")
	s.now = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }
	s.backoff = time.Millisecond
	return s
}

func TestDynamoUpsertChunksAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newFakeDynamo()
	f.unprocessOnce = true
	s := newTestDynamoStore(f)

	var rows []datanorm.Row
	for i := 0; i < 30; i++ {
		rows = append(rows, &datanorm.StandardRow{
			Segment: "Business", BillingCycle: "Monthly", PlanName: "Plan " + strconv.Itoa(i), Price: datanorm.Number(float64(i)),
		})
	}

	res, err := s.UpsertPricing(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Count)
	assert.Equal(t, []int{25, 1, 5}, f.batchSizes, "25-item chunks with the unprocessed item retried")

	cat, err := s.ListPricing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, cat.Count)
	require.NotNil(t, cat.UpdatedAt)
	assert.Equal(t, res.UpdatedAt, *cat.UpdatedAt)

	meta := f.items["PRICING|META"]
	var item DynamoDBItem
	require.NoError(t, attributevalue.UnmarshalMap(meta, &item))
	assert.JSONEq(t, `{"count":30}`, item.Data)
}

func TestDynamoListDecodesVariants(t *testing.T) {
	ctx := context.Background()
	s := newTestDynamoStore(newFakeDynamo())

	_, err := s.UpsertPricing(ctx, []datanorm.Row{proRow(199), funnelRow("TOFU")})
	require.NoError(t, err)

	cat, err := s.ListPricing(ctx)
	require.NoError(t, err)
	require.Len(t, cat.Rows, 2)
	assert.Equal(t, datanorm.VariantFunnel, cat.Rows[0].Variant)
	assert.Equal(t, "funnel#funnel-level#monthly#tofu#ads", cat.Rows[0].Key)
	assert.Equal(t, "Pro", cat.Rows[1].Row.(*datanorm.StandardRow).PlanName)
}

func TestDynamoRegistrationAndCounter(t *testing.T) {
	ctx := context.Background()
	f := newFakeDynamo()
	s := newTestDynamoStore(f)

	reg := &Registration{ID: "abc", CompanyName: "Acme", ListingType: "agency", Status: "pending", CreatedAt: s.now()}
	require.NoError(t, s.SaveRegistration(ctx, reg))
	assert.ErrorIs(t, s.SaveRegistration(ctx, reg), ErrDuplicateRegistration)

	var stored DynamoDBItem
	require.NoError(t, attributevalue.UnmarshalMap(f.items["REGISTRATION#abc|PROFILE"], &stored))
	var doc Registration
	require.NoError(t, json.Unmarshal([]byte(stored.Data), &doc))
	assert.Equal(t, "Acme", doc.CompanyName)

	_, err := s.IncrementRegistrations(ctx, "agency")
	require.NoError(t, err)
	c, err := s.IncrementRegistrations(ctx, "software")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Total)
	assert.Equal(t, map[string]int64{"agency": 1, "software": 1}, c.ByType)

	last := f.updates[len(f.updates)-1]
	assert.Equal(t, "ADD #total :one, #bytype :one SET #ts = :ts", *last.UpdateExpression)
	assert.Equal(t, "Type_software", last.ExpressionAttributeNames["#bytype"])

	again, err := s.RegistrationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestDynamoRegistrationCountEmpty(t *testing.T) {
	c, err := newTestDynamoStore(newFakeDynamo()).RegistrationCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Total)
	assert.Empty(t, c.ByType)
}

func TestDynamoUpsertPutFailure(t *testing.T) {
	f := newFakeDynamo()
	f.putErr = errors.New("ProvisionedThroughputExceededException")
	_, err := newTestDynamoStore(f).UpsertPricing(context.Background(), []datanorm.Row{proRow(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog metadata")
}
