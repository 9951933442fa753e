package scheduler

import (
	"context"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/app"
	"github.com/sayasufi/timekeeper-tg/internal/infra/config"
	idb "github.com/sayasufi/timekeeper-tg/internal/infra/database"
	"github.com/sayasufi/timekeeper-tg/internal/infra/logger"

	"github.com/robfig/cron/v3"
)

const deliveryBatchLimit = 200

// sweepLockKey serializes the stuck-processing sweep across replicas. The
// sweep is idempotent, the lock just avoids redundant scans.
const sweepLockKey int64 = 0x7469636b_7377 // "ticksw"

// PipelineScheduler runs the notification pipeline ticks on fixed intervals.
// Several processes may run the same ticks concurrently: there is no leader
// election, correctness comes from the data-layer invariants (notification
// ledger unique key, outbox dedupe key, delivered marker).
type PipelineScheduler struct {
	cronEngine *cron.Cron
	dispatch   *app.DispatchService
	delivery   *app.DeliveryService
	dueIndex   *app.DueIndexService
	locker     *idb.AdvisoryLocker
	cfg        *config.AppConfig
}

func NewPipelineScheduler(
	dispatch *app.DispatchService,
	delivery *app.DeliveryService,
	dueIndex *app.DueIndexService,
	locker *idb.AdvisoryLocker,
	cfg *config.AppConfig,
) *PipelineScheduler {
	return &PipelineScheduler{
		// Seconds-resolution specs so delivery can tick faster than once a minute.
		cronEngine: cron.New(cron.WithSeconds()),
		dispatch:   dispatch,
		delivery:   delivery,
		dueIndex:   dueIndex,
		locker:     locker,
		cfg:        cfg,
	}
}

func (s *PipelineScheduler) Start() error {
	lookahead := time.Duration(s.cfg.SchedulerPollSeconds) * time.Second
	if maxLookahead := time.Duration(s.cfg.MaxReminderLookaheadMinutes) * time.Minute; lookahead > maxLookahead {
		lookahead = maxLookahead
	}
	processingTimeout := time.Duration(s.cfg.DueProcessingTimeoutMinutes) * time.Minute

	// Dispatch tick: turn due reminders into outbox messages, then drain the
	// outbox right away so fresh reminders do not wait for the next delivery
	// tick.
	if _, err := s.cronEngine.AddFunc(s.cfg.CronSpecDispatch, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		now := time.Now().UTC()
		if _, err := s.dispatch.DispatchDue(ctx, now, lookahead); err != nil {
			logger.Log.Errorf("Dispatch tick failed: %v", err)
		}
		if _, err := s.delivery.DeliverReady(ctx, time.Now().UTC(), deliveryBatchLimit); err != nil {
			logger.Log.Errorf("Delivery after dispatch failed: %v", err)
		}
	}); err != nil {
		return err
	}

	// Delivery tick: retry and window-gated sends.
	if _, err := s.cronEngine.AddFunc(s.cfg.CronSpecDelivery, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if _, err := s.delivery.DeliverReady(ctx, time.Now().UTC(), deliveryBatchLimit); err != nil {
			logger.Log.Errorf("Delivery tick failed: %v", err)
		}
	}); err != nil {
		return err
	}

	// Digest tick: time-of-day jobs. Each checks the recipient-local window
	// itself; date-scoped dedupe keys make the repeated polling idempotent.
	if _, err := s.cronEngine.AddFunc(s.cfg.CronSpecDigest, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		now := time.Now().UTC()
		if _, err := s.dispatch.SendDailyLessonDigest(ctx, now); err != nil {
			logger.Log.Errorf("Daily digest tick failed: %v", err)
		}
		if _, err := s.dispatch.SendPaymentDueReminders(ctx, now); err != nil {
			logger.Log.Errorf("Payment-due tick failed: %v", err)
		}
		if _, err := s.dispatch.SendOperationalDigest(ctx, now); err != nil {
			logger.Log.Errorf("Operational digest tick failed: %v", err)
		}
		if _, err := s.delivery.DeliverReady(ctx, time.Now().UTC(), deliveryBatchLimit); err != nil {
			logger.Log.Errorf("Delivery after digests failed: %v", err)
		}
	}); err != nil {
		return err
	}

	// Sweep tick: reclaim due entries stuck in processing (worker died
	// mid-dispatch).
	if _, err := s.cronEngine.AddFunc(s.cfg.CronSpecSweep, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		acquired, err := s.locker.TryLock(ctx, sweepLockKey)
		if err != nil {
			logger.Log.Errorf("Sweep lock acquisition failed: %v", err)
			return
		}
		if !acquired {
			// Another replica is sweeping.
			return
		}
		defer func() {
			if err := s.locker.Unlock(ctx, sweepLockKey); err != nil {
				logger.Log.Errorf("Sweep lock release failed: %v", err)
			}
		}()
		reclaimed, err := s.dueIndex.ReclaimStuckProcessing(ctx, processingTimeout)
		if err != nil {
			logger.Log.Errorf("Stuck-processing sweep failed: %v", err)
			return
		}
		if reclaimed > 0 {
			logger.Log.WithField("reclaimed", reclaimed).Warn("Reclaimed stuck due entries")
		}
	}); err != nil {
		return err
	}

	s.cronEngine.Start()
	logger.Log.Info("Pipeline scheduler started")
	return nil
}

func (s *PipelineScheduler) Stop() {
	ctx := s.cronEngine.Stop() // stop scheduling, wait for running jobs
	<-ctx.Done()
	logger.Log.Info("Pipeline scheduler stopped")
}
