package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type ttlLock struct {
	fakeLock
	ttl time.Duration
}

func (l *ttlLock) TTL() time.Duration { return l.ttl }

type testJob struct {
	name string
	err  error
	runs int
	wait bool
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	if t.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return t.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	ok := &testJob{name: "compensation-scan"}
	bad := &testJob{name: "compensation-execute", err: errors.New("boom")}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(ok, bad),
		Lock:     lock,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	summary, err := service.runCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if summary.Ran != 2 || summary.Failed != 1 || summary.Skipped {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if ok.runs != 1 || bad.runs != 1 {
		t.Fatalf("expected each job once, got %d and %d", ok.runs, bad.runs)
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("lock must be released after the cycle")
	}
	for _, name := range []string{"kiosk_cron_job_failure_total", "kiosk_cron_job_success_total"} {
		got, err := testutil.GatherAndCount(reg, name)
		if err != nil || got != 1 {
			t.Fatalf("%s: expected one series, got %d (%v)", name, got, err)
		}
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "compensation-scan"}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{held: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	summary, err := service.runCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !summary.Skipped || job.runs != 0 {
		t.Fatalf("expected skipped cycle, got %+v runs=%d", summary, job.runs)
	}
	if service.interval != defaultInterval {
		t.Fatalf("expected default interval, got %v", service.interval)
	}
}

func TestJobTimeoutDefaultsToLockTTL(t *testing.T) {
	lock := &ttlLock{ttl: 20 * time.Millisecond}
	slow := &testJob{name: "slow", wait: true}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(slow),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if service.jobTimeout != lock.ttl {
		t.Fatalf("expected job timeout %v, got %v", lock.ttl, service.jobTimeout)
	}

	summary, err := service.runCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected the slow job to time out, got %+v", summary)
	}
}

func TestRunCycleStopsOnCanceledContext(t *testing.T) {
	job := &testJob{name: "compensation-scan"}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := service.runCycle(ctx)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if summary.Ran != 0 || job.runs != 0 {
		t.Fatalf("expected no jobs after cancel, got %+v", summary)
	}
	if lock.releases != 1 {
		t.Fatal("lock must still be released")
	}
}

func TestNewServiceValidates(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatal("expected missing logger to fail")
	}
	if _, err := NewService(ServiceParams{Logger: quietLogger()}); err == nil {
		t.Fatal("expected missing lock to fail")
	}
}
