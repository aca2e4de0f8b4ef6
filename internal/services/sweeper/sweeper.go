package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/broker/messages"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/HomePlate/OrderTrack/internal/storage/pgorders"
)

const autoCancelNote = "auto-cancelled: not confirmed in time"

type Repository interface {
	ClaimOverduePending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error)
	ApplyStatusChange(ctx context.Context, ch pgorders.StatusChange) error
	DeferSweep(ctx context.Context, orderID uint64, until time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Sweeper cancels pending orders whose cancellation deadline has lapsed
// without a restaurant confirmation. Orders are claimed with a lease so
// several sweeper instances can run side by side.
type Sweeper struct {
	repo     Repository
	producer Producer
	rl       RateLimiter

	topic   string
	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	lease              time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalCancelled      atomic.Int64
	totalConflicts      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, topic string) *Sweeper {
	return &Sweeper{
		repo: repo, producer: producer, rl: rl, topic: topic,
		planner:            DefaultPlanner(),
		pollInterval:       5 * time.Second,
		batchSize:          100,
		lease:              120 * time.Second,
		rateLimitPerMinute: 300,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(pollInterval time.Duration, batchSize int, lease time.Duration, rlPerMin int64) *Sweeper {
	if pollInterval > 0 {
		s.pollInterval = pollInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if lease > 0 {
		s.lease = lease
	}
	if rlPerMin > 0 {
		s.rateLimitPerMinute = rlPerMin
	}
	return s
}

func (s *Sweeper) WithPlanner(cfg PlannerConfig) *Sweeper {
	s.planner = NewPlanner(cfg)
	return s
}

// Trigger forces an immediate sweep cycle (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalCancelled int64      `json:"totalCancelled"`
	TotalConflicts int64      `json:"totalConflicts"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalCancelled: s.totalCancelled.Load(),
		TotalConflicts: s.totalConflicts.Load(),
		TotalErrors:    s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	items, err := s.repo.ClaimOverduePending(ctx, now, s.batchSize, s.lease)
	if err != nil {
		slog.Error("claim overdue orders", "error", err.Error())
		s.recordError(err)
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	for _, o := range items {
		if err := s.sweepOne(ctx, o); err != nil {
			s.totalErrors.Add(1)
			s.recordError(err)
			slog.Error("sweep order", "order_id", o.ID, "error", err.Error())
		}
	}
}

func (s *Sweeper) sweepOne(ctx context.Context, o *models.Order) error {
	now := time.Now().UTC()

	if s.rl != nil && s.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:sweeper:%s", now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			slog.Warn("sweeper rate limit exceeded", "count", n)
			return s.deferRetry(ctx, o)
		}
	}

	next, err := lifecycle.Transition(o.Status, lifecycle.StatusCancelled, lifecycle.RoleSystem)
	if err != nil {
		// the order moved out of pending after it was claimed
		s.totalConflicts.Add(1)
		return nil
	}

	err = s.repo.ApplyStatusChange(ctx, pgorders.StatusChange{
		OrderID:       o.ID,
		From:          o.Status,
		To:            next,
		Actor:         lifecycle.RoleSystem,
		Note:          autoCancelNote,
		ClearDeadline: true,
		ChangedAt:     now,
	})
	if err != nil {
		if errors.Is(err, pgorders.ErrStatusConflict) {
			// someone confirmed or cancelled it first, nothing to do
			s.totalConflicts.Add(1)
			return nil
		}
		if derr := s.deferRetry(ctx, o); derr != nil {
			return derr
		}
		return err
	}

	s.totalCancelled.Add(1)
	s.publish(ctx, o, next, now)
	return nil
}

func (s *Sweeper) deferRetry(ctx context.Context, o *models.Order) error {
	delay := s.planner.BackoffDelay(o.SweepFailCount + 1)
	return s.repo.DeferSweep(ctx, o.ID, time.Now().UTC().Add(delay))
}

func (s *Sweeper) publish(ctx context.Context, o *models.Order, next lifecycle.Status, at time.Time) {
	if s.producer == nil || s.topic == "" {
		return
	}
	b, err := json.Marshal(messages.OrderUpdated{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		OldStatus:   o.Status,
		NewStatus:   next,
		Actor:       lifecycle.RoleSystem,
		Note:        autoCancelNote,
		ChangedAt:   at,
	})
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(fmt.Sprintf("%d", o.ID)), b); err != nil {
		slog.Error("publish order update", "order_id", o.ID, "error", err.Error())
	}
}

func (s *Sweeper) recordError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
