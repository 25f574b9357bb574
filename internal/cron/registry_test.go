package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "compensation-scan"}
	jobB := &stubJob{name: "compensation-execute"}
	if err := registry.Register(jobA); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := registry.Register(jobB); err != nil {
		t.Fatalf("register b: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryRejectsDuplicateAndUnnamedJobs(t *testing.T) {
	registry := NewRegistry(&stubJob{name: "alerts-dlq-replay"})
	if err := registry.Register(&stubJob{name: "alerts-dlq-replay"}); err == nil {
		t.Fatal("expected duplicate name to fail")
	}
	if err := registry.Register(&stubJob{}); err == nil {
		t.Fatal("expected unnamed job to fail")
	}
	if err := registry.Register(nil); err != nil {
		t.Fatalf("nil job should be ignored, got %v", err)
	}
	if got := len(registry.Jobs()); got != 1 {
		t.Fatalf("expected 1 job, got %d", got)
	}
}

func TestNewRegistryPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewRegistry(&stubJob{name: "x"}, &stubJob{name: "x"})
}
