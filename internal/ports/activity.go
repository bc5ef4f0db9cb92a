package ports

import (
	"context"

	"docs4usync/internal/types"
)

// ActivityRecorder receives one entry per save or delete attempt.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a types.Activity) error
}
