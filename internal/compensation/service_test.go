package compensation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kiosk-backend/internal/alerts"
	"github.com/angelmondragon/kiosk-backend/pkg/db/dbtest"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type scriptedRefunder struct {
	mu    sync.Mutex
	errs  []error
	calls []string
	block bool
}

func (s *scriptedRefunder) Refund(ctx context.Context, paymentID string) error {
	s.mu.Lock()
	s.calls = append(s.calls, paymentID)
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	block := s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

type fixture struct {
	svc      *Service
	repo     *Repository
	alerts   *alerts.Service
	alertsDB *alerts.Repository
	clock    *clock
	refunder *scriptedRefunder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.New(t)
	c := &clock{now: t0}

	alertRepo := alerts.NewRepository(client.DB())
	alertSvc, err := alerts.NewService(alerts.ServiceParams{Repo: alertRepo, Tx: client, Clock: c.Now})
	require.NoError(t, err)

	refunder := &scriptedRefunder{}
	repo := NewRepository(client.DB())
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Tx:       client,
		Alerts:   alertSvc,
		Refunder: refunder,
		Config: Config{
			ReleaseAckTTL: 600 * time.Second,
			GraceWindow:   30 * time.Minute,
			RefundTimeout: 50 * time.Millisecond,
		},
		Clock: c.Now,
	})
	require.NoError(t, err)
	return fixture{svc: svc, repo: repo, alerts: alertSvc, alertsDB: alertRepo, clock: c, refunder: refunder}
}

func (f fixture) insertPayment(t *testing.T, id string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, f.repo.DB(context.Background()).Create(&models.Payment{
		ID:        id,
		Status:    enums.PaymentStatusPaid,
		Amount:    decimal.RequireFromString("12.50"),
		MachineID: "M7",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}).Error)
}

func (f fixture) insertRelease(t *testing.T, paymentID string, kind enums.ReleaseEventKind, at time.Time) {
	t.Helper()
	require.NoError(t, f.repo.DB(context.Background()).Create(&models.ReleaseEvent{
		ID:         uuid.NewString(),
		PaymentID:  paymentID,
		MachineID:  "M7",
		Kind:       kind,
		OccurredAt: at,
	}).Error)
}

func (f fixture) payment(t *testing.T, id string) *models.Payment {
	t.Helper()
	p, err := f.repo.GetPayment(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestScanFlagsStalePaymentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertPayment(t, "P1", t0)

	f.clock.Set(t0.Add(500 * time.Second))
	summary, err := f.svc.ScanUndeliveredPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanSummary{}, summary, "payment is not stale before the ack ttl")

	f.clock.Set(t0.Add(700 * time.Second))
	summary, err = f.svc.ScanUndeliveredPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanSummary{Scanned: 1, Flagged: 1, AlertsEnqueued: 1}, summary)

	p := f.payment(t, "P1")
	assert.Equal(t, enums.PaymentStatusRefundPending, p.Status)
	require.NotNil(t, p.FlaggedAt)
	assert.True(t, p.FlaggedAt.Equal(t0.Add(700*time.Second)))

	rec, err := f.repo.GetRecord(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, enums.CompensationPending, rec.Outcome)
	assert.True(t, rec.TTLDeadline.Equal(t0.Add(600*time.Second)))

	alert, err := f.alertsDB.FindLiveByFingerprint(ctx, "P1:stale")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, EventStalePayment, alert.EventCode)
	assert.Contains(t, alert.Text, "12.50")

	f.clock.Set(t0.Add(800 * time.Second))
	summary, err = f.svc.ScanUndeliveredPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanSummary{}, summary)

	rows, err := f.alerts.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestScanIgnoresDeliveredPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertPayment(t, "P-released", t0)
	f.insertPayment(t, "P-cycle", t0)
	f.insertPayment(t, "P-stale", t0)
	f.insertRelease(t, "P-released", enums.ReleaseEventRelease, t0.Add(time.Second))
	f.insertRelease(t, "P-cycle", enums.ReleaseEventCycleStart, t0.Add(2*time.Second))

	f.clock.Set(t0.Add(time.Hour))
	summary, err := f.svc.ScanUndeliveredPaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Flagged)
	assert.Equal(t, enums.PaymentStatusPaid, f.payment(t, "P-released").Status)
	assert.Equal(t, enums.PaymentStatusPaid, f.payment(t, "P-cycle").Status)
	assert.Equal(t, enums.PaymentStatusRefundPending, f.payment(t, "P-stale").Status)
}

func TestFlagLosesRaceWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertPayment(t, "P2", t0)
	f.clock.Set(t0.Add(time.Hour))

	ok, err := f.repo.FlagForRefund(ctx, "P2", f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	flagged, _, err := f.svc.flag(ctx, *f.payment(t, "P2"), f.clock.Now())
	require.NoError(t, err)
	assert.False(t, flagged)

	rec, err := f.repo.GetRecord(ctx, "P2")
	require.NoError(t, err)
	assert.Nil(t, rec)
	alert, err := f.alertsDB.FindLiveByFingerprint(ctx, "P2:stale")
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestExecuteRefundFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertPayment(t, "P3", t0)

	f.clock.Set(t0.Add(700 * time.Second))
	_, err := f.svc.ScanUndeliveredPaid(ctx)
	require.NoError(t, err)

	summary, err := f.svc.ExecuteExpiredCompensation(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExecuteSummary{}, summary, "grace window has not elapsed")

	f.refunder.errs = []error{errors.New("processor declined")}
	f.clock.Set(t0.Add(700*time.Second + 31*time.Minute))
	summary, err = f.svc.ExecuteExpiredCompensation(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExecuteSummary{Considered: 1, Failed: 1}, summary)

	p := f.payment(t, "P3")
	assert.Equal(t, enums.PaymentStatusRefundFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "processor declined", *p.FailureReason)
	rec, err := f.repo.GetRecord(ctx, "P3")
	require.NoError(t, err)
	assert.Equal(t, enums.CompensationFailed, rec.Outcome)
	assert.Equal(t, 1, rec.Attempts)

	summary, err = f.svc.ExecuteExpiredCompensation(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExecuteSummary{Considered: 1, Refunded: 1}, summary)

	p = f.payment(t, "P3")
	assert.Equal(t, enums.PaymentStatusRefunded, p.Status)
	assert.Nil(t, p.FailureReason)
	require.NotNil(t, p.CompensatedAt)
	rec, err = f.repo.GetRecord(ctx, "P3")
	require.NoError(t, err)
	assert.Equal(t, enums.CompensationRefunded, rec.Outcome)
	assert.Equal(t, 2, rec.Attempts)
	assert.NotNil(t, rec.ResolvedAt)

	summary, err = f.svc.ExecuteExpiredCompensation(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExecuteSummary{}, summary, "refunded payments are never refunded twice")
	assert.Equal(t, []string{"P3", "P3"}, f.refunder.calls)
}

func TestExecuteTimeoutLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertPayment(t, "P4", t0)
	f.clock.Set(t0.Add(700 * time.Second))
	_, err := f.svc.ScanUndeliveredPaid(ctx)
	require.NoError(t, err)

	f.refunder.block = true
	f.clock.Set(t0.Add(2 * time.Hour))
	summary, err := f.svc.ExecuteExpiredCompensation(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExecuteSummary{Considered: 1, TimedOut: 1}, summary)

	p := f.payment(t, "P4")
	assert.Equal(t, enums.PaymentStatusRefundPending, p.Status)
	assert.Nil(t, p.FailureReason)
	rec, err := f.repo.GetRecord(ctx, "P4")
	require.NoError(t, err)
	assert.Equal(t, enums.CompensationPending, rec.Outcome)
	assert.Zero(t, rec.Attempts)
}

func TestExecuteRequiresRefunder(t *testing.T) {
	f := newFixture(t)
	f.svc.refunder = nil
	_, err := f.svc.ExecuteExpiredCompensation(context.Background())
	assert.Error(t, err)
}

func TestCompensationAlertAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertPayment(t, "P5", t0)
	f.insertPayment(t, "P6", t0.Add(5*time.Minute))
	f.insertPayment(t, "P7", t0.Add(50*time.Minute))
	f.insertPayment(t, "P8", t0.Add(59*time.Minute))

	f.clock.Set(t0.Add(time.Hour))
	snap, err := f.svc.CompensationAlert(ctx)
	require.NoError(t, err)
	assert.Equal(t, AlertSnapshot{StaleUnflagged: 2, OldestStaleAgeSec: 3600}, snap, "P7 is exactly at the ack deadline")

	_, err = f.svc.ScanUndeliveredPaid(ctx)
	require.NoError(t, err)
	f.refunder.errs = []error{errors.New("declined")}
	f.clock.Set(t0.Add(2 * time.Hour))
	_, err = f.svc.ExecuteExpiredCompensation(ctx)
	require.NoError(t, err)

	snap, err = f.svc.CompensationAlert(ctx)
	require.NoError(t, err)
	assert.Equal(t, AlertSnapshot{StaleUnflagged: 2, Failed: 1, OldestStaleAgeSec: 4200}, snap)

	report, err := f.svc.CompensationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusReport{Paid: 2, Refunded: 1, RefundFailed: 1, StaleAwaitingRelease: 2}, report)

	records, err := f.svc.Records(ctx, "refunded", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	records, err = f.svc.Records(ctx, "", 50)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	_, err = f.svc.Records(ctx, "lost", 10)
	assert.Error(t, err)
}
