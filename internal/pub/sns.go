package pub

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the slice of the SNS client the publisher needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes JSON messages to a topic, tagging each with the producing service.
type SNS struct {
	cli    SNSAPI
	source string
}

func NewSNS(c SNSAPI, source string) *SNS { return &SNS{cli: c, source: source} }

func (s *SNS) PublishRaw(ctx context.Context, arn string, payload []byte) error {
	attrs := map[string]types.MessageAttributeValue{
		"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
	}
	if s.source != "" {
		attrs["source"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.source)}
	}
	_, err := s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn:          &arn,
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	return err
}
