package ports

import "context"

// Publisher pushes a raw message to a topic, e.g. activity events to SNS.
type Publisher interface {
	PublishRaw(ctx context.Context, arn string, payload []byte) error
}
