// Package activity delivers save/delete history entries to their sinks.
package activity

import (
	"context"
	"errors"
	"sync"

	"docs4usync/internal/ports"
	"docs4usync/internal/types"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// LogRecorder writes every activity to the process log.
type LogRecorder struct{}

func (LogRecorder) RecordActivity(_ context.Context, a types.Activity) error {
	fields := log.Fields{
		"kind":   a.Kind,
		"object": a.ObjectID,
		"result": a.ResultCode,
		"start":  a.StartTime,
	}
	if a.ByteCount != nil {
		fields["bytes"] = *a.ByteCount
	}
	entry := log.WithFields(fields)
	switch a.ResultCode {
	case types.ResultOK:
		entry.Info("activity")
	default:
		entry.WithField("reason", a.ResultReason).Warn("activity")
	}
	return nil
}

// Event is the message published for one activity.
type Event struct {
	RootDirectory string `json:"root_directory,omitempty"`
	types.Activity
}

// SNSRecorder publishes every activity as JSON to a topic.
type SNSRecorder struct {
	Pub           ports.Publisher
	TopicARN      string
	RootDirectory string
}

func (r *SNSRecorder) RecordActivity(ctx context.Context, a types.Activity) error {
	b, err := json.Marshal(Event{RootDirectory: r.RootDirectory, Activity: a})
	if err != nil {
		return err
	}
	return r.Pub.PublishRaw(ctx, r.TopicARN, b)
}

// Multi fans an activity out to every recorder and joins their errors.
type Multi []ports.ActivityRecorder

func (m Multi) RecordActivity(ctx context.Context, a types.Activity) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordActivity(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Journal keeps the most recent activities in memory.
type Journal struct {
	mu    sync.Mutex
	limit int
	items []types.Activity
}

func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = 1000
	}
	return &Journal{limit: limit}
}

func (j *Journal) RecordActivity(_ context.Context, a types.Activity) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items = append(j.items, a)
	if over := len(j.items) - j.limit; over > 0 {
		j.items = append(j.items[:0:0], j.items[over:]...)
	}
	return nil
}

// Recent returns a copy of the kept activities, oldest first.
func (j *Journal) Recent() []types.Activity {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]types.Activity(nil), j.items...)
}
