// Package cron runs scheduled agent prompts. Each due job is injected as a
// synthetic inbound message, so cron turns flow through the same routing,
// dedupe, and per-session serialization as live chat.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/config"
)

// Scheduler ticks once per minute and fires due jobs.
type Scheduler struct {
	bus    bus.MessageRouter
	parser *gronx.Gronx

	mu   sync.RWMutex
	jobs map[string]config.CronJob
	last map[string]time.Time // jobID → last fire time
}

// NewScheduler creates a scheduler with the given jobs. Invalid schedules
// are rejected.
func NewScheduler(router bus.MessageRouter, jobs []config.CronJob) (*Scheduler, error) {
	s := &Scheduler{
		bus:    router,
		parser: gronx.New(),
		jobs:   make(map[string]config.CronJob, len(jobs)),
		last:   make(map[string]time.Time),
	}
	for _, job := range jobs {
		if err := s.addJob(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) addJob(job config.CronJob) error {
	if job.ID == "" {
		return fmt.Errorf("cron job needs an id")
	}
	if !s.parser.IsValid(job.Schedule) {
		return fmt.Errorf("cron job %s: invalid schedule %q", job.ID, job.Schedule)
	}
	if job.Text == "" {
		return fmt.Errorf("cron job %s: empty text", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// ReplaceJobs swaps the job set, used on config reload.
func (s *Scheduler) ReplaceJobs(jobs []config.CronJob) error {
	next := &Scheduler{parser: s.parser, jobs: make(map[string]config.CronJob, len(jobs))}
	for _, job := range jobs {
		if err := next.addJob(job); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.jobs = next.jobs
	s.mu.Unlock()
	return nil
}

// Jobs returns the configured jobs.
func (s *Scheduler) Jobs() []config.CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.CronJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

// Run ticks until ctx ends. The first tick is aligned to the next minute
// boundary so IsDue evaluates against clean minutes.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("cron scheduler started", "jobs", len(s.jobs))
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		select {
		case <-ctx.Done():
			slog.Info("cron scheduler stopped")
			return
		case <-time.After(next.Sub(now)):
			s.tick(next)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.RLock()
	jobs := make([]config.CronJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	for _, job := range jobs {
		if job.Disabled {
			continue
		}
		due, err := s.parser.IsDue(job.Schedule, now)
		if err != nil {
			slog.Error("cron schedule check failed", "job", job.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.fire(job, now)
	}
}

// RunJob fires a job immediately, regardless of schedule. Returns the run
// id. Used by the gateway cron.run method.
func (s *Scheduler) RunJob(jobID string) (string, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("cron job %s not found", jobID)
	}
	return s.fire(job, time.Now()), nil
}

// fire publishes the job as a synthetic inbound message and returns the
// run id. The message always enters under the trusted cron surface so
// channel access policies never gate the turn; a configured delivery
// channel travels as metadata and the router routes the reply there.
func (s *Scheduler) fire(job config.CronJob, now time.Time) string {
	runID := uuid.NewString()

	meta := map[string]string{
		"cron_job": job.ID,
		"cron_run": runID,
		"fired_at": now.UTC().Format(time.RFC3339),
	}
	if job.Channel != "" {
		if job.To == "" {
			slog.Warn("cron job has a delivery channel but no target", "job", job.ID)
		} else {
			meta["deliver_channel"] = job.Channel
			meta["deliver_to"] = job.To
		}
	}

	slog.Info("cron job fired", "job", job.ID, "run_id", runID, "channel", job.Channel)
	s.bus.PublishInbound(bus.InboundMessage{
		Channel:   "cron",
		SenderID:  "cron:" + job.ID,
		ChatID:    "cron:" + job.ID,
		ChatType:  "direct",
		MessageID: runID,
		AgentID:   job.AgentID,
		Content:   job.Text,
		Metadata:  meta,
	})

	s.mu.Lock()
	s.last[job.ID] = now
	s.mu.Unlock()
	return runID
}

// LastRun returns when a job last fired, zero when it never has.
func (s *Scheduler) LastRun(jobID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[jobID]
}
