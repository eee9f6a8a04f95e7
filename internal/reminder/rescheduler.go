package reminder

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/verdant/internal/db"
	"github.com/lalithlochan/verdant/internal/metrics"
)

// NextDueAt returns when p is due again after a reminder sent at now.
// The interval is counted from the previous due time when there is one, then
// from the last watering, then from now.
func NextDueAt(p *db.Plant, now time.Time) time.Time {
	base := now
	switch {
	case p.NextDueAt != nil:
		base = *p.NextDueAt
	case p.LastWateredAt != nil:
		base = *p.LastWateredAt
	}
	return base.Add(time.Duration(p.Interval()) * 24 * time.Hour)
}

// Rescheduler writes the next due time of every attempted plant.
type Rescheduler struct {
	writer      ScheduleWriter
	concurrency int
	logger      *zap.Logger
}

// NewRescheduler creates a rescheduler issuing at most concurrency writes at once.
func NewRescheduler(writer ScheduleWriter, concurrency int, logger *zap.Logger) *Rescheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Rescheduler{writer: writer, concurrency: concurrency, logger: logger}
}

// Reschedule writes every plant and waits for all writes. A failed write is
// logged and does not affect the others. It returns the number of successful
// writes.
func (r *Rescheduler) Reschedule(ctx context.Context, plants []*db.Plant, now time.Time) int {
	var updated atomic.Int64

	var eg errgroup.Group
	eg.SetLimit(r.concurrency)

	for _, p := range plants {
		eg.Go(func() error {
			next := NextDueAt(p, now)
			if err := r.writer.UpdatePlantSchedule(ctx, p.UserID, p.ID, now, next); err != nil {
				r.logger.Error("failed to reschedule plant",
					zap.String("user_id", p.UserID),
					zap.String("plant_id", p.ID),
					zap.Time("next_due_at", next),
					zap.Error(err),
				)
				metrics.RecordStageFailure(string(StageRescheduling))
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	return int(updated.Load())
}
