package reminder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/verdant/internal/expo"
	"github.com/lalithlochan/verdant/internal/metrics"
)

// ReconcileResult counts what the reconciler saw.
type ReconcileResult struct {
	Receipts      int
	Errors        int
	TokensRemoved int
}

// Reconciler checks delivery outcomes and drops destinations the provider
// reports as permanently unregistered.
type Reconciler struct {
	provider    PushProvider
	tokens      TokenRemover
	concurrency int
	delay       time.Duration
	logger      *zap.Logger

	// sleep waits for the receipt delay; it returns early when ctx is done.
	sleep func(ctx context.Context, d time.Duration)
}

// NewReconciler creates a reconciler. delay is how long to wait before the
// first receipt fetch, giving the provider time to hear back from the
// platform push services.
func NewReconciler(provider PushProvider, tokens TokenRemover, concurrency int, delay time.Duration, logger *zap.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Reconciler{
		provider:    provider,
		tokens:      tokens,
		concurrency: concurrency,
		delay:       delay,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

type removal struct {
	userID string
	token  string
}

// Reconcile handles inline ticket errors, then fetches receipts for every
// accepted ticket. Each (user, destination) pair is removed at most once.
//
// Only the receipt wait observes ctx: if it is cancelled while waiting the
// receipt fetch is skipped. Inline removals are always applied.
func (r *Reconciler) Reconcile(ctx context.Context, tickets []DispatchedTicket) ReconcileResult {
	work := context.WithoutCancel(ctx)

	var (
		result   ReconcileResult
		removals []removal
		byID     = make(map[string]DispatchedTicket, len(tickets))
		ids      []string
	)

	for _, t := range tickets {
		if t.OK() {
			if t.ID != "" {
				byID[t.ID] = t
				ids = append(ids, t.ID)
			}
			continue
		}

		result.Errors++
		reason := t.Reason()
		metrics.RecordDeliveryError("ticket", reason)
		r.logger.Warn("push ticket rejected",
			zap.String("user_id", t.UserID),
			zap.String("reason", reason),
			zap.String("message", t.Message),
		)
		if reason == expo.ErrDeviceNotRegistered {
			removals = append(removals, removal{userID: t.UserID, token: t.Destination})
		}
	}

	if len(ids) > 0 && r.delay > 0 {
		r.sleep(ctx, r.delay)
		if ctx.Err() != nil {
			r.logger.Warn("receipt wait interrupted, skipping receipt fetch",
				zap.Int("tickets", len(ids)),
				zap.Error(ctx.Err()),
			)
			ids = nil
		}
	}

	if len(ids) > 0 {
		receipts := r.fetchAll(work, ids)
		result.Receipts = len(receipts)

		// Walk ids rather than the map so removals keep dispatch order.
		for _, id := range ids {
			receipt, ok := receipts[id]
			if !ok || receipt.OK() {
				continue
			}
			t := byID[id]
			result.Errors++
			metrics.RecordDeliveryError("receipt", receipt.Reason())
			r.logger.Warn("push receipt reported an error",
				zap.String("ticket_id", id),
				zap.String("user_id", t.UserID),
				zap.String("reason", receipt.Reason()),
				zap.String("message", receipt.Message),
			)
			if receipt.PermanentlyInvalid() {
				removals = append(removals, removal{userID: t.UserID, token: t.Destination})
			}
		}
	}

	result.TokensRemoved = r.remove(work, removals)
	return result
}

// fetchAll fetches receipts chunk by chunk, concurrently. A failed chunk is
// logged and its receipts are left out.
func (r *Reconciler) fetchAll(ctx context.Context, ids []string) map[string]expo.Receipt {
	var mu sync.Mutex
	all := make(map[string]expo.Receipt, len(ids))

	chunks := r.provider.ChunkReceiptIDs(ids)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)

	for i, chunk := range chunks {
		eg.Go(func() error {
			receipts, err := r.provider.FetchReceipts(egCtx, chunk)
			if err != nil {
				r.logger.Error("receipt chunk failed, skipping",
					zap.Int("chunk", i),
					zap.Int("size", len(chunk)),
					zap.Error(err),
				)
				metrics.RecordStageFailure(string(StageReconciling))
				return nil
			}
			mu.Lock()
			for id, receipt := range receipts {
				all[id] = receipt
			}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return all
}

// remove drops each distinct destination from its user and returns how many
// removals succeeded.
func (r *Reconciler) remove(ctx context.Context, removals []removal) int {
	seen := make(map[removal]struct{}, len(removals))
	removed := 0
	for _, rm := range removals {
		if _, ok := seen[rm]; ok {
			continue
		}
		seen[rm] = struct{}{}

		if err := r.tokens.RemovePushToken(ctx, rm.userID, rm.token); err != nil {
			r.logger.Error("failed to remove unregistered push token",
				zap.String("user_id", rm.userID),
				zap.Error(err),
			)
			metrics.RecordStageFailure(string(StageReconciling))
			continue
		}
		removed++
		metrics.RecordTokenRemoved()
		r.logger.Info("removed unregistered push token", zap.String("user_id", rm.userID))
	}
	return removed
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
