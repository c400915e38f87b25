package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/toolgate"
)

// ActivityLog appends activity events to the activity_logs collection.
type ActivityLog struct {
	logs *mongo.Collection
}

func NewActivityLog(db *mongo.Database) *ActivityLog {
	return &ActivityLog{logs: db.Collection(ActivityLogsCollection)}
}

// RecordActivity implements toolgate.ActivityRecorder.
func (a *ActivityLog) RecordActivity(ctx context.Context, event toolgate.ActivityEvent) error {
	if _, err := a.logs.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to insert activity event: %w", err)
	}
	return nil
}

var _ toolgate.ActivityRecorder = (*ActivityLog)(nil)
