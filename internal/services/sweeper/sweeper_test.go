package sweeper

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/HomePlate/OrderTrack/internal/broker/messages"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/HomePlate/OrderTrack/internal/storage/pgorders"
)

type fakeRepo struct {
	claims    atomic.Int32
	claimOut  []*models.Order
	claimErr  error

	applied  []pgorders.StatusChange
	applyErr error

	deferred []uint64
	deferUntil time.Time
}

func (r *fakeRepo) ClaimOverduePending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	r.claims.Add(1)
	return r.claimOut, r.claimErr
}
func (r *fakeRepo) ApplyStatusChange(ctx context.Context, ch pgorders.StatusChange) error {
	if r.applyErr != nil {
		return r.applyErr
	}
	r.applied = append(r.applied, ch)
	return nil
}
func (r *fakeRepo) DeferSweep(ctx context.Context, orderID uint64, until time.Time) error {
	r.deferred = append(r.deferred, orderID)
	r.deferUntil = until
	return nil
}

type fakeProducer struct {
	topics []string
	values [][]byte
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topics = append(p.topics, topic)
	p.values = append(p.values, value)
	return nil
}

func overdue(id uint64, failCount int32) *models.Order {
	deadline := time.Now().UTC().Add(-time.Minute)
	return &models.Order{
		ID:                   id,
		Number:               "ORD-a1b2c3d4",
		Status:               lifecycle.StatusPending,
		CancellationDeadline: &deadline,
		SweepFailCount:       failCount,
	}
}

func TestSweeper_CancelsOverdueAndPublishes(t *testing.T) {
	r := &fakeRepo{claimOut: []*models.Order{overdue(1, 0)}}
	p := &fakeProducer{}
	s := New(r, p, nil, "order.updated")

	s.runOnce(context.Background())

	require.Len(t, r.applied, 1)
	ch := r.applied[0]
	require.Equal(t, lifecycle.StatusPending, ch.From)
	require.Equal(t, lifecycle.StatusCancelled, ch.To)
	require.Equal(t, lifecycle.RoleSystem, ch.Actor)
	require.Equal(t, "auto-cancelled: not confirmed in time", ch.Note)
	require.True(t, ch.ClearDeadline)

	require.Equal(t, []string{"order.updated"}, p.topics)
	var msg messages.OrderUpdated
	require.NoError(t, json.Unmarshal(p.values[0], &msg))
	require.Equal(t, lifecycle.StatusCancelled, msg.NewStatus)
	require.Equal(t, lifecycle.RoleSystem, msg.Actor)

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalClaimed)
	require.Equal(t, int64(1), st.TotalCancelled)
	require.Zero(t, st.TotalErrors)
}

func TestSweeper_StatusConflictIsNotAnError(t *testing.T) {
	r := &fakeRepo{
		claimOut: []*models.Order{overdue(1, 0)},
		applyErr: errors.Wrap(pgorders.ErrStatusConflict, "order 1"),
	}
	s := New(r, nil, nil, "")

	s.runOnce(context.Background())

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalConflicts)
	require.Zero(t, st.TotalErrors)
	require.Empty(t, r.deferred)
}

func TestSweeper_NonPendingClaimSkipped(t *testing.T) {
	o := overdue(1, 0)
	o.Status = lifecycle.StatusConfirmed
	r := &fakeRepo{claimOut: []*models.Order{o}}
	s := New(r, nil, nil, "")

	s.runOnce(context.Background())

	require.Empty(t, r.applied)
	require.Equal(t, int64(1), s.Stats().TotalConflicts)
}

func TestSweeper_FailureDefersWithBackoff(t *testing.T) {
	r := &fakeRepo{
		claimOut: []*models.Order{overdue(7, 1)},
		applyErr: errors.New("db down"),
	}
	s := New(r, nil, nil, "")

	before := time.Now().UTC()
	s.runOnce(context.Background())

	require.Equal(t, []uint64{7}, r.deferred)
	// second failure: 5 minute stage
	require.WithinDuration(t, before.Add(5*time.Minute), r.deferUntil, 2*time.Second)
	require.Equal(t, int64(1), s.Stats().TotalErrors)
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return false, limit + 1, nil
}

func TestSweeper_RateLimitedDefers(t *testing.T) {
	r := &fakeRepo{claimOut: []*models.Order{overdue(3, 0)}}
	s := New(r, nil, denyLimiter{}, "")

	s.runOnce(context.Background())

	require.Empty(t, r.applied)
	require.Equal(t, []uint64{3}, r.deferred)
}

func TestSweeper_BackoffStages(t *testing.T) {
	p := DefaultPlanner()
	require.Equal(t, 1*time.Minute, p.BackoffDelay(1))
	require.Equal(t, 5*time.Minute, p.BackoffDelay(2))
	require.Equal(t, 15*time.Minute, p.BackoffDelay(3))
	require.Equal(t, 30*time.Minute, p.BackoffDelay(4))
	require.Equal(t, 30*time.Minute, p.BackoffDelay(9))
}

func TestSweeper_Run_StopsOnContextCancel(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, "").WithSettings(5*time.Millisecond, 1, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, r.claims.Load(), int32(1))
}

func TestSweeper_TriggerForcesCycle(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, "").WithSettings(time.Hour, 1, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	s.Trigger()
	require.Eventually(t, func() bool { return r.claims.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, s.Stats().LastTriggerAt)
}
