// Package scheduler materializes due tasks (cron / interval / once) into
// agent invocations on a fixed cadence, without double-firing across
// crashes: next_run is recomputed and persisted before the job is handed to
// the per-channel queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/store"
	"github.com/nanoclaw/nanoclaw/internal/telemetry"
)

// Dispatcher enqueues a due task's invocation into the per-channel queue.
// isScheduledTask is always true for fn built here; sessionID is "" when
// context_mode is isolated (fresh session).
type Dispatcher func(ctx context.Context, task store.Task, sessionID string)

// Config holds the scheduler's tunables.
type Config struct {
	Store      *store.Store
	Logger     *slog.Logger
	Bus        *bus.Bus
	Interval   time.Duration
	Timezone   *time.Location
	Dispatch   Dispatcher
	// SessionLookup resolves the group's live session id for context_mode=group.
	SessionLookup func(ctx context.Context, groupFolder string) (string, error)
	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// Scheduler runs the polling loop described in §4.3.
type Scheduler struct {
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler. Call Start to begin ticking.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{cfg: cfg}
}

// Start begins the tick loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.tick")
	defer span.End()

	now := s.cfg.Now().In(s.cfg.Timezone)
	due, err := s.cfg.Store.DueTasks(ctx, store.FormatTimestamp(now))
	if err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("scheduler_due_tasks_query_failed", "error", err)
		}
		return
	}
	for _, task := range due {
		s.fire(ctx, task, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, task store.Task, now time.Time) {
	nextRun, deleteTask, err := s.recompute(task, now)
	if err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("scheduler_recompute_failed", "task_id", task.ID, "error", err)
		}
		return
	}

	// Recompute-and-persist happens before dispatch, so a crash here cannot
	// double-fire: the next tick will simply not find the task due again.
	if err := s.cfg.Store.AdvanceNextRun(ctx, task.ID, nextRun, deleteTask); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("scheduler_advance_failed", "task_id", task.ID, "error", err)
		}
		return
	}

	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(bus.TopicTaskRecomputed, task.ID)
		s.cfg.Bus.Publish(bus.TopicTaskFired, task.ID)
	}

	sessionID := ""
	if task.ContextMode == store.ContextGroup && s.cfg.SessionLookup != nil {
		if sid, err := s.cfg.SessionLookup(ctx, task.GroupFolder); err == nil {
			sessionID = sid
		}
	}

	if s.cfg.Dispatch != nil {
		s.cfg.Dispatch(ctx, task, sessionID)
	}
}

// recompute returns the next next_run value (or signals deletion for
// `once` tasks).
func (s *Scheduler) recompute(task store.Task, now time.Time) (nextRun string, deleteTask bool, err error) {
	switch task.ScheduleKind {
	case store.ScheduleOnce:
		return "", true, nil
	case store.ScheduleInterval:
		ms, err := strconv.ParseInt(task.ScheduleValue, 10, 64)
		if err != nil {
			return "", false, fmt.Errorf("invalid interval schedule_value %q: %w", task.ScheduleValue, err)
		}
		return store.FormatTimestamp(now.Add(time.Duration(ms) * time.Millisecond)), false, nil
	case store.ScheduleCron:
		schedule, err := cron.ParseStandard(task.ScheduleValue)
		if err != nil {
			return "", false, fmt.Errorf("invalid cron schedule_value %q: %w", task.ScheduleValue, err)
		}
		return store.FormatTimestamp(schedule.Next(now)), false, nil
	default:
		return "", false, fmt.Errorf("unknown schedule kind %q", task.ScheduleKind)
	}
}

// ScheduledTaskBanner prefixes a scheduled task's prompt with a clear
// "this came from the scheduler, not a user" notice.
const ScheduledTaskBanner = "[Scheduled task — not from a user]\n\n"

// BuildScheduledPrompt applies the banner to a task's stored prompt.
func BuildScheduledPrompt(task store.Task) string {
	return ScheduledTaskBanner + task.Prompt
}

// ValidateScheduleValue rejects malformed cron/interval/once values at
// creation time (§7: "Invalid cron / interval / timestamp at schedule
// creation — no retry, reject with reason").
func ValidateScheduleValue(kind store.ScheduleKind, value string) error {
	switch kind {
	case store.ScheduleCron:
		if _, err := cron.ParseStandard(value); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case store.ScheduleInterval:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid interval value: must be a positive integer millisecond count")
		}
	case store.ScheduleOnce:
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return fmt.Errorf("invalid once timestamp: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", kind)
	}
	return nil
}
