package ddb

import (
	"context"
	"errors"
	"strconv"
	"time"

	"docs4usync/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// IdentityCache implements ports.IdentityCache with one item per (scope, name).
// expires_at (ms) is authoritative; ttl (s) only lets DynamoDB reclaim the item later.
type IdentityCache struct {
	table string
	cli   *dynamodb.Client
}

type identityItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.IdentityEntry
	TTL int64 `dynamodbav:"ttl"`
}

func NewIdentityCache(table string, cli *dynamodb.Client) *IdentityCache {
	return &IdentityCache{table: table, cli: cli}
}

func (s *IdentityCache) Initialize(ctx context.Context) error {
	if err := createTableIfNotExists(ctx, s.cli, s.table); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	err := dynamodb.NewTableExistsWaiter(s.cli).Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	}, 30*time.Second)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "waiting for table %s", s.table)
	}
	enableTTL(ctx, s.cli, s.table)
	return nil
}

func (s *IdentityCache) Destroy(ctx context.Context) error {
	_, err := s.cli.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: &s.table,
	})
	var nf *ddbTypes.ResourceNotFoundException
	if err != nil && !errors.As(err, &nf) {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	if err != nil {
		return nil
	}
	// wait until the table is deleted
	err = dynamodb.NewTableNotExistsWaiter(s.cli).Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	}, 30*time.Second)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *IdentityCache) Lookup(ctx context.Context, scopeKey, name string, now time.Time) (string, bool, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkScope(scopeKey)},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skName(name)},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return "", false, types.Err(types.ErrDataStoreAccess, err, "")
	}
	if out.Item == nil {
		return "", false, nil
	}
	var item identityItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", false, types.Err(types.ErrDataStoreAccess, err, "")
	}
	if !item.Live(now) {
		return "", false, nil
	}
	return item.TargetID, true, nil
}

func (s *IdentityCache) Store(ctx context.Context, scopeKey, name, targetID string, expiresAt int64) error {
	item := identityItem{
		PK: pkScope(scopeKey),
		SK: skName(name),
		IdentityEntry: types.IdentityEntry{
			ScopeKey:  scopeKey,
			Name:      name,
			TargetID:  targetID,
			ExpiresAt: expiresAt,
		},
		// round up so DynamoDB never reclaims an item before it expires
		TTL: (expiresAt + 999) / 1000,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

// PurgeExpired scans for expired entries and deletes each one under a condition, so an
// entry refreshed between scan and delete survives.
func (s *IdentityCache) PurgeExpired(ctx context.Context, now time.Time) error {
	nowMs := itoa(now.UnixMilli())
	p := dynamodb.NewScanPaginator(s.cli, &dynamodb.ScanInput{
		TableName:            &s.table,
		FilterExpression:     awsString("#exp <= :now"),
		ProjectionExpression: awsString("PK, SK"),
		ExpressionAttributeNames: map[string]string{
			"#exp": "expires_at",
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":now": &ddbTypes.AttributeValueMemberN{Value: nowMs},
		},
	})
	purged := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return types.Err(types.ErrDataStoreAccess, err, "")
		}
		for _, it := range page.Items {
			_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:           &s.table,
				Key:                 map[string]ddbTypes.AttributeValue{"PK": it["PK"], "SK": it["SK"]},
				ConditionExpression: awsString("#exp <= :now"),
				ExpressionAttributeNames: map[string]string{
					"#exp": "expires_at",
				},
				ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
					":now": &ddbTypes.AttributeValueMemberN{Value: nowMs},
				},
			})
			if err != nil {
				var cc *ddbTypes.ConditionalCheckFailedException
				if errors.As(err, &cc) {
					continue
				}
				return types.Err(types.ErrDataStoreAccess, err, "")
			}
			purged++
		}
	}
	if purged > 0 {
		log.WithField("purged", purged).Debug("purged expired identity cache entries")
	}
	return nil
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }
