package ddb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const (
	SScope = "SCOPE"
	SName  = "NAME"
)

func pkScope(scopeKey string) string { return fmt.Sprintf("%s#%s", SScope, scopeKey) }
func skName(name string) string      { return fmt.Sprintf("%s#%s", SName, name) }

func createTableIfNotExists(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if err == nil {
		log.WithField("table", table).Info("created identity cache table")
	}
	return nil
}

func enableTTL(ctx context.Context, client *dynamodb.Client, table string) {
	_, err := client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: &table,
		TimeToLiveSpecification: &ddbTypes.TimeToLiveSpecification{
			AttributeName: awsString("ttl"),
			Enabled:       awsBool(true),
		},
	})
	if err != nil {
		// Already enabled, or not supported by a local emulator; lookups check expires_at anyway.
		log.WithError(err).WithField("table", table).Debug("could not enable native TTL")
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
