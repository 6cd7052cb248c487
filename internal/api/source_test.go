package api

import (
	"context"
	"time"

	"github.com/baroque-dev/baroque/internal/usagesource"
)

// emptySource reports no usage.
type emptySource struct{}

func (emptySource) FetchUsage(context.Context, time.Time, time.Time, usagesource.BucketWidth) ([]usagesource.RawRecord, error) {
	return nil, nil
}
