package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/talosprotocol/a2a-relay-go/internal/repository"
)

// RetentionJob prunes delivered frames and event chains of sessions that
// have been closed longer than the retention age. Chains of open entities
// are never touched.
type RetentionJob struct {
	frameRepo     repository.FrameRepository
	retentionRepo repository.RetentionRepository
	age           time.Duration
	interval      time.Duration
	done          chan struct{}
}

func NewRetentionJob(
	frameRepo repository.FrameRepository,
	retentionRepo repository.RetentionRepository,
	age time.Duration,
	interval time.Duration,
) *RetentionJob {
	return &RetentionJob{
		frameRepo:     frameRepo,
		retentionRepo: retentionRepo,
		age:           age,
		interval:      interval,
		done:          make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("age", j.age).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.prune()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.age)
	j.runPrune(ctx, "frames", func(ctx context.Context) (int64, error) {
		return j.frameRepo.DeleteOlderThan(ctx, cutoff)
	})
	j.runPrune(ctx, "session events", func(ctx context.Context) (int64, error) {
		return j.retentionRepo.DeleteEventsOfClosedSessions(ctx, cutoff)
	})
}

func (j *RetentionJob) runPrune(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("target", name).Msg("retention prune failed")
		return
	}
	if count > 0 {
		log.Info().Str("target", name).Int64("count", count).Msg("retention pruned rows")
	}
}
