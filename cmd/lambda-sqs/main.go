//go:build lambda

package main

import (
	"context"
	"fmt"
	"os"

	"docs4usync/internal/activity"
	"docs4usync/internal/backends"
	"docs4usync/internal/connector"
	"docs4usync/internal/docs4u"
	"docs4usync/internal/outputdesc"
	"docs4usync/internal/ports"
	"docs4usync/internal/pub"
	"docs4usync/internal/specfile"
	"docs4usync/internal/types"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	err := godotenv.Load(envFile)
	if err != nil {
		log.Info("The .env file not found.")
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	ctx := context.Background()

	st, err := backends.SettingsFromEnv()
	if err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}
	cache, err := backends.IdentityCacheFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize identity cache: %v", err)
	}
	locker, err := backends.LockerFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize locker: %v", err)
	}

	conn := connector.New(connector.Options{
		Repository:      docs4u.Factory{},
		Cache:           cache,
		Locker:          locker,
		SessionLifetime: st.SessionLifetime,
		CacheLifetime:   st.CacheLifetime,
		LookupTimeout:   st.LookupTimeout,
	})
	if err := conn.Connect(types.ConnectionConfig{RootDirectory: st.RootDirectory}); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	recorders := activity.Multi{activity.LogRecorder{}}
	if st.ActivitySNSArn != "" {
		snsClient, err := backends.SNSClientFromEnv(ctx)
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		recorders = append(recorders, &activity.SNSRecorder{
			Pub:           pub.NewSNS(snsClient, "docs4u-sync-lambda"),
			TopicARN:      st.ActivitySNSArn,
			RootDirectory: st.RootDirectory,
		})
	}

	handler := &LambdaHandler{Connector: conn, Activities: recorders}
	if st.SpecFile != "" {
		spec, err := specfile.Load(st.SpecFile)
		if err != nil {
			log.Fatalf("Failed to load specification: %v", err)
		}
		handler.DefaultDescription = outputdesc.Encode(spec)
	}

	lambda.Start(handler.HandleSQSEvent)
}

// LambdaHandler applies queued upserts and removals with one connector. Lambda
// delivers one batch at a time, so the connector is never shared.
type LambdaHandler struct {
	Connector          *connector.Connector
	Activities         ports.ActivityRecorder
	DefaultDescription string
}

// HandleSQSEvent processes a batch and reports the messages worth retrying.
func (h *LambdaHandler) HandleSQSEvent(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	log.Infof("Processing batch of %d messages", len(sqsEvent.Records))
	h.Connector.Poll()

	var batchItemFailures []events.SQSBatchItemFailure
	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			log.WithError(err).Errorf("Failed to process message %s", record.MessageId)
			batchItemFailures = append(batchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: batchItemFailures}, nil
}

func (h *LambdaHandler) processMessage(ctx context.Context, record events.SQSMessage) error {
	op := OperationUpsert
	if attr, ok := record.MessageAttributes[OperationAttribute]; ok && attr.StringValue != nil {
		op = *attr.StringValue
	}
	msg, err := DecodeMessage([]byte(record.Body))
	if err != nil {
		return fmt.Errorf("parse message body: %w", err)
	}
	if msg.Description == "" {
		msg.Description = h.DefaultDescription
	}

	fields := log.Fields{"messageID": record.MessageId, "uri": msg.URI, "operation": op}
	switch op {
	case OperationUpsert:
		doc, err := msg.Document()
		if err != nil {
			return err
		}
		status, err := h.Connector.AddOrReplaceDocument(ctx, msg.URI, msg.Description, doc, msg.Authority, h.Activities)
		if err != nil {
			return err
		}
		// A rejection is final; retrying would reject again.
		log.WithFields(fields).WithField("status", types.StatusTextMap[status]).Debug("document processed")
		return nil
	case OperationDelete:
		if err := h.Connector.RemoveDocument(ctx, msg.URI, msg.Description, h.Activities); err != nil {
			return err
		}
		log.WithFields(fields).Debug("document removed")
		return nil
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}
