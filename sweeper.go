package mailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mailqueue/view"
	"golang.org/x/time/rate"
)

// sweepBatchRate paces the sweeper's view scans so a large backlog does
// not monopolize the store.
const sweepBatchRate = rate.Limit(10) // batches per second

// startSweeper launches the background reconciliation loop.
// Called from Connect when WithSweepInterval is set.
func (s *service) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel

	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()

		ticker := time.NewTicker(s.opts.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := s.sweepOnce(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Error("reconciliation sweep failed", "error", err)
					continue
				}
				if result.Ghosts > 0 {
					s.logger.Warn("reconciliation sweep found ghost mail",
						"ghosts", result.Ghosts, "queues", result.QueuesScanned)
				}
			}
		}
	}()
}

// sweepOnce runs one reconciliation pass: evict expired deletion markers,
// then scan every queue for entries stuck past the in-flight horizon
// without a marker. The sweeper only observes and reports; it never
// removes or re-enqueues mail.
func (s *service) sweepOnce(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	evicted, err := s.registry.EvictOlderThan(ctx, time.Now().UTC().Add(-s.opts.markerRetention))
	if err != nil {
		return result, fmt.Errorf("evict deletion markers: %w", err)
	}
	result.MarkersEvicted = evicted

	queues, err := s.view.Queues(ctx)
	if err != nil {
		return result, fmt.Errorf("list queues: %w", err)
	}

	limiter := rate.NewLimiter(sweepBatchRate, 1)
	horizon := time.Now().UTC().Add(-s.opts.maxInFlight)

	for _, queue := range queues {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}
		ghosts, err := s.sweepQueue(ctx, queue, horizon, limiter)
		result.Ghosts += ghosts
		if err != nil {
			if ctx.Err() != nil {
				result.Interrupted = true
			}
			return result, err
		}
		result.QueuesScanned++
		s.otel.recordGhostMail(ctx, queue, ghosts)
	}

	return result, nil
}

// sweepQueue scans one queue's view for ghost entries.
func (s *service) sweepQueue(ctx context.Context, queue string, horizon time.Time, limiter *rate.Limiter) (int64, error) {
	var ghosts int64
	var cursor view.Cursor

	for {
		if err := limiter.Wait(ctx); err != nil {
			return ghosts, err
		}

		entries, err := s.view.List(ctx, queue, cursor, s.opts.browseBatchSize)
		if err != nil {
			return ghosts, fmt.Errorf("list entries for %s: %w", queue, err)
		}
		if len(entries) == 0 {
			return ghosts, nil
		}

		for _, e := range entries {
			cursor = view.After(e)

			if !e.EnqueuedAt.Before(horizon) {
				continue
			}

			marked, err := s.registry.IsMarked(ctx, e.ID)
			if err != nil {
				return ghosts, fmt.Errorf("check marker for %s: %w", e.ID, err)
			}
			if marked {
				// Removed mail whose row outlived the removal; the
				// marker already suppresses it at dequeue.
				continue
			}

			ghosts++
			s.logger.Warn("ghost mail detected",
				"queue", queue, "enqueue_id", e.ID,
				"enqueued_at", e.EnqueuedAt, "next_delivery", e.NextDelivery)
			if err := s.events.GhostMailDetected.Publish(ctx, GhostMailDetectedEvent{
				EnqueueID:  e.ID,
				Queue:      queue,
				EnqueuedAt: e.EnqueuedAt,
				DetectedAt: time.Now().UTC(),
			}); err != nil {
				s.logger.Error("failed to publish event", "event", "GhostMailDetected", "error", err)
			}
		}
	}
}
