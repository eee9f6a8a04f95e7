// Package reminder runs the watering-reminder batch: it finds due plants,
// sends one push per user and destination, reconciles delivery receipts and
// moves every attempted plant to its next due time.
//
// Only the due query can fail a run. Every later stage logs and absorbs its
// own failures so that one bad user, chunk or write never blocks the rest.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/db"
	"github.com/lalithlochan/verdant/internal/expo"
	"github.com/lalithlochan/verdant/internal/metrics"
)

// ErrRunInProgress is returned when another run holds the run lease.
var ErrRunInProgress = errors.New("reminder run already in progress")

// DueQuerier selects plants that are due.
type DueQuerier interface {
	ListDuePlants(ctx context.Context, now time.Time, limit int) ([]*db.Plant, error)
}

// UserGetter resolves the owner of a plant.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// TokenRemover drops one destination from one user.
type TokenRemover interface {
	RemovePushToken(ctx context.Context, userID, token string) error
}

// ScheduleWriter persists a plant's reminder bookkeeping.
type ScheduleWriter interface {
	UpdatePlantSchedule(ctx context.Context, userID, plantID string, notifiedAt, nextDueAt time.Time) error
}

// Store is everything the pipeline needs from the record store.
type Store interface {
	DueQuerier
	UserGetter
	TokenRemover
	ScheduleWriter
}

// PushProvider is the push delivery service. Chunkers must preserve order so
// that concatenating the chunks gives back the input.
type PushProvider interface {
	ChunkMessages(messages []expo.Message) [][]expo.Message
	Send(ctx context.Context, messages []expo.Message) ([]expo.Ticket, error)
	ChunkReceiptIDs(ids []string) [][]string
	FetchReceipts(ctx context.Context, ids []string) (map[string]expo.Receipt, error)
}

// Locker guards against overlapping runs. TryAcquire returns acquired=false
// when someone else holds the lease.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, name, token string) error
}

// Stage names a step of a run.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageQuerying     Stage = "querying"
	StageGrouping     Stage = "grouping"
	StageComposing    Stage = "composing"
	StageDispatching  Stage = "dispatching"
	StageReconciling  Stage = "reconciling"
	StageRescheduling Stage = "rescheduling"
	StageDone         Stage = "done"
)

// Summary is what a trigger gets back from a run.
type Summary struct {
	RunID        string `json:"runId"`
	DueCount     int    `json:"dueCount"`
	SentCount    int    `json:"sentCount"`
	UpdatedCount int    `json:"updatedCount"`
}

// Config tunes a pipeline.
type Config struct {
	BatchSize          int
	LookupConcurrency  int
	ReceiptConcurrency int
	WriteConcurrency   int
	ReceiptDelay       time.Duration
	LeaseName          string
	LeaseTTL           time.Duration
	Location           *time.Location
}

// Pipeline wires the stages together.
type Pipeline struct {
	store  Store
	locker Locker
	config Config
	logger *zap.Logger
	clock  func() time.Time

	grouper     *Grouper
	dispatcher  *Dispatcher
	reconciler  *Reconciler
	rescheduler *Rescheduler
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLocker enables the run lease.
func WithLocker(l Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithClock overrides the reference time source.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// New creates a pipeline over store and provider.
func New(store Store, provider PushProvider, cfg Config, logger *zap.Logger, opts ...Option) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = 10
	}
	if cfg.ReceiptConcurrency <= 0 {
		cfg.ReceiptConcurrency = 4
	}
	if cfg.WriteConcurrency <= 0 {
		cfg.WriteConcurrency = 10
	}
	if cfg.LeaseName == "" {
		cfg.LeaseName = "watering-reminders"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	p := &Pipeline{
		store:  store,
		config: cfg,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.grouper = NewGrouper(store, cfg.LookupConcurrency, logger)
	p.dispatcher = NewDispatcher(provider, logger)
	p.reconciler = NewReconciler(provider, store, cfg.ReceiptConcurrency, cfg.ReceiptDelay, logger)
	p.rescheduler = NewRescheduler(store, cfg.WriteConcurrency, logger)

	return p
}

// Run performs one end-to-end reminder run. The returned error is non-nil
// only when the due query fails or the lease is held by another run; in both
// cases nothing was written.
//
// ctx bounds the lease and the due query. Once plants are selected every
// later stage runs to completion, so a cancelled caller never leaves sent
// reminders unrescheduled. The receipt wait is the one step that still
// gives way to ctx.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := p.logger.With(zap.String("run_id", summary.RunID))

	if p.locker != nil {
		token, acquired, err := p.locker.TryAcquire(ctx, p.config.LeaseName, p.config.LeaseTTL)
		switch {
		case err != nil:
			logger.Warn("run lease unavailable, continuing without it", zap.Error(err))
		case !acquired:
			logger.Info("another reminder run holds the lease, skipping")
			metrics.RecordRun(metrics.RunSkipped, time.Since(start))
			return summary, ErrRunInProgress
		default:
			defer func() {
				if err := p.locker.Release(context.WithoutCancel(ctx), p.config.LeaseName, token); err != nil {
					logger.Warn("failed to release run lease", zap.Error(err))
				}
			}()
		}
	}

	now := p.clock().In(p.config.Location)
	stages := &stageClock{logger: logger}

	stages.enter(StageQuerying)
	plants, err := p.store.ListDuePlants(ctx, now, p.config.BatchSize)
	if err != nil {
		logger.Error("due query failed, aborting run", zap.Error(err))
		metrics.RecordRun(metrics.RunFailed, time.Since(start))
		return summary, fmt.Errorf("list due plants: %w", err)
	}
	summary.DueCount = len(plants)
	metrics.AddPlantsDue(len(plants))

	if len(plants) == 0 {
		stages.enter(StageDone)
		logger.Info("no plants due")
		metrics.RecordRun(metrics.RunCompleted, time.Since(start))
		return summary, nil
	}

	work := context.WithoutCancel(ctx)

	stages.enter(StageGrouping)
	groups := p.grouper.Group(work, plants, now)

	stages.enter(StageComposing)
	notifications := make(map[string]Notification, len(groups))
	for _, g := range groups {
		notifications[g.User.ID] = Compose(g)
	}

	stages.enter(StageDispatching)
	tickets := p.dispatcher.Dispatch(work, groups, notifications)
	for _, t := range tickets {
		if t.OK() {
			summary.SentCount++
		}
	}
	metrics.AddNotificationsSent(summary.SentCount)

	stages.enter(StageReconciling)
	reconciled := p.reconciler.Reconcile(ctx, tickets)

	stages.enter(StageRescheduling)
	summary.UpdatedCount = p.rescheduler.Reschedule(work, attemptedPlants(groups), now)
	metrics.AddPlantsRescheduled(summary.UpdatedCount)

	stages.enter(StageDone)
	metrics.RecordRun(metrics.RunCompleted, time.Since(start))

	logger.Info("reminder run completed",
		zap.Int("due", summary.DueCount),
		zap.Int("users", len(groups)),
		zap.Int("sent", summary.SentCount),
		zap.Int("receipts", reconciled.Receipts),
		zap.Int("delivery_errors", reconciled.Errors),
		zap.Int("tokens_removed", reconciled.TokensRemoved),
		zap.Int("updated", summary.UpdatedCount),
		zap.Duration("duration", time.Since(start)),
	)

	return summary, nil
}

// stageClock logs stage transitions and times each stage as it is left.
type stageClock struct {
	logger  *zap.Logger
	current Stage
	since   time.Time
}

func (s *stageClock) enter(next Stage) {
	now := time.Now()
	if s.current != "" {
		metrics.ObserveStage(string(s.current), now.Sub(s.since))
	}
	s.current, s.since = next, now
	s.logger.Debug("reminder stage", zap.String("stage", string(next)))
}

func attemptedPlants(groups []*DueGroup) []*db.Plant {
	var plants []*db.Plant
	for _, g := range groups {
		plants = append(plants, g.Plants...)
	}
	return plants
}
