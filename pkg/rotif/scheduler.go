package rotif

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// scheduler is the delayed-message scheduler (spec §4.5): a single periodic
// task per process promoting due entries from rotif:scheduled into their
// target streams via move-scheduled-messages. Promotions preserve the
// original attempt and pattern so retries resume at the correct attempt.
//
// Two workers may invoke the promotion concurrently; the script's ZREM
// guarantees each member is promoted at most once (the loser's ZREM returns
// 0 and it skips the XADD).
type scheduler struct {
	client       *redis.Client
	scripts      *scriptRunner
	logger       *logrus.Logger
	interval     time.Duration
	batchSize    int64
	metrics      *metricsSet

	stop chan struct{}
	done chan struct{}
}

func newScheduler(client *redis.Client, scripts *scriptRunner, logger *logrus.Logger, interval time.Duration, batchSize int64, metrics *metricsSet) *scheduler {
	return &scheduler{
		client:    client,
		scripts:   scripts,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		metrics:   metrics,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *scheduler) start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.promoteDue(ctx); err != nil {
				s.logger.WithError(err).Warn("scheduled-message promotion failed, will retry next tick")
				time.Sleep(500 * time.Millisecond)
			}
		}
	}
}

func (s *scheduler) promoteDue(ctx context.Context) error {
	now := time.Now().UnixMilli()

	res, err := run(ctx, s.client, s.scripts.moveScheduled, []string{scheduledSetKey}, now, s.batchSize)
	if err != nil {
		return err
	}

	moved, _ := res.(int64)
	if s.metrics != nil {
		if moved > 0 {
			s.metrics.scheduledPromoted.Add(float64(moved))
		}
		if depth, err := s.client.ZCard(ctx, scheduledSetKey).Result(); err == nil {
			s.metrics.scheduledDepth.Set(float64(depth))
		}
	}
	return nil
}

func (s *scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
