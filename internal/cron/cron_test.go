package cron

import (
	"context"
	"testing"
	"time"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/config"
)

func testJobs() []config.CronJob {
	return []config.CronJob{
		{ID: "hourly", Schedule: "0 * * * *", AgentID: "default", Text: "hourly check", Channel: "telegram", To: "42"},
		{ID: "daily", Schedule: "0 9 * * *", Text: "morning brief"},
	}
}

// TestNewScheduler_ValidatesSchedules rejects bad cron expressions up
// front instead of at tick time.
func TestNewScheduler_ValidatesSchedules(t *testing.T) {
	b := bus.New()

	if _, err := NewScheduler(b, testJobs()); err != nil {
		t.Fatalf("valid jobs rejected: %v", err)
	}

	bad := []config.CronJob{{ID: "x", Schedule: "not a cron", Text: "t"}}
	if _, err := NewScheduler(b, bad); err == nil {
		t.Error("invalid schedule accepted")
	}
	noID := []config.CronJob{{Schedule: "* * * * *", Text: "t"}}
	if _, err := NewScheduler(b, noID); err == nil {
		t.Error("job without id accepted")
	}
	noText := []config.CronJob{{ID: "x", Schedule: "* * * * *"}}
	if _, err := NewScheduler(b, noText); err == nil {
		t.Error("job without text accepted")
	}
}

// TestTick_FiresDueJobs publishes a synthetic inbound message for each due
// job and skips the rest.
func TestTick_FiresDueJobs(t *testing.T) {
	b := bus.New()
	s, err := NewScheduler(b, testJobs())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	// 10:00 matches "0 * * * *" but not "0 9 * * *".
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.tick(at)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if msg.Channel != "cron" || msg.ChatID != "cron:hourly" {
		t.Errorf("routed to %s/%s, want the trusted cron surface", msg.Channel, msg.ChatID)
	}
	if msg.Content != "hourly check" || msg.AgentID != "default" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Metadata["cron_job"] != "hourly" || msg.Metadata["cron_run"] == "" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
	if msg.Metadata["deliver_channel"] != "telegram" || msg.Metadata["deliver_to"] != "42" {
		t.Errorf("delivery metadata = %v, want telegram/42", msg.Metadata)
	}

	// The daily job must not have fired.
	shortCtx, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if extra, ok := b.ConsumeInbound(shortCtx); ok {
		t.Errorf("unexpected second message: %+v", extra)
	}

	if s.LastRun("hourly").IsZero() {
		t.Error("LastRun not recorded")
	}
	if !s.LastRun("daily").IsZero() {
		t.Error("daily job should not have a run")
	}
}

// TestTick_SkipsDisabledJobs leaves disabled jobs alone even when due.
func TestTick_SkipsDisabledJobs(t *testing.T) {
	b := bus.New()
	jobs := []config.CronJob{
		{ID: "off", Schedule: "* * * * *", Text: "never", Disabled: true},
	}
	s, err := NewScheduler(b, jobs)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.tick(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if msg, ok := b.ConsumeInbound(ctx); ok {
		t.Errorf("disabled job fired: %+v", msg)
	}
}

// TestRunJob fires on demand with defaults for channel and chat.
func TestRunJob(t *testing.T) {
	b := bus.New()
	jobs := []config.CronJob{{ID: "brief", Schedule: "0 9 * * *", Text: "brief me"}}
	s, err := NewScheduler(b, jobs)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	runID, err := s.RunJob("brief")
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if runID == "" {
		t.Error("empty run id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if msg.Channel != "cron" || msg.ChatID != "cron:brief" {
		t.Errorf("defaults not applied: %s/%s", msg.Channel, msg.ChatID)
	}
	if msg.MessageID != runID {
		t.Errorf("message id %q != run id %q", msg.MessageID, runID)
	}
	if _, ok := msg.Metadata["deliver_channel"]; ok {
		t.Errorf("job without a channel carries delivery metadata: %v", msg.Metadata)
	}

	if _, err := s.RunJob("missing"); err == nil {
		t.Error("unknown job accepted")
	}
}

// TestReplaceJobs swaps the job set atomically.
func TestReplaceJobs(t *testing.T) {
	b := bus.New()
	s, err := NewScheduler(b, testJobs())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	next := []config.CronJob{{ID: "only", Schedule: "*/5 * * * *", Text: "t"}}
	if err := s.ReplaceJobs(next); err != nil {
		t.Fatalf("ReplaceJobs: %v", err)
	}
	got := s.Jobs()
	if len(got) != 1 || got[0].ID != "only" {
		t.Errorf("jobs after replace: %+v", got)
	}

	// A bad replacement leaves the current set untouched.
	bad := []config.CronJob{{ID: "x", Schedule: "nope", Text: "t"}}
	if err := s.ReplaceJobs(bad); err == nil {
		t.Fatal("invalid replacement accepted")
	}
	if len(s.Jobs()) != 1 {
		t.Error("job set changed after failed replace")
	}
}
