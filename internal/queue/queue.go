// Package queue implements nanoclaw's per-channel work queue: at most one
// agent runs per channel at any instant, and at most MAX_CONCURRENT_CONTAINERS
// agents run process-wide. Channels blocked by the global cap wait in FIFO
// order and are drained as capacity frees up.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/telemetry"
)

// ProcHandle is the host-side handle to a live sandboxed subprocess. The
// container-runner creates it but transfers ownership to the queue via
// RegisterProcess, so only the queue terminates it.
type ProcHandle interface {
	// Terminate asks the process to stop politely (container stop / SIGTERM).
	Terminate(ctx context.Context) error
	// Kill force-stops the process (container kill / SIGKILL).
	Kill(ctx context.Context) error
}

// MessageProcessor runs the "check for backlog and maybe invoke the agent"
// work for one channel. A non-nil error counts as a failed run for retry
// purposes.
type MessageProcessor func(ctx context.Context, channelID string) error

// TaskFunc is an out-of-band job submitted via EnqueueTask. Errors are
// logged but never retried by the queue (the scheduler owns its own error
// reporting).
type TaskFunc func(ctx context.Context) error

type taskJob struct {
	taskID string
	fn     TaskFunc
}

type channelState struct {
	active        bool
	pendingMsg    bool
	pendingTasks  []taskJob
	process       ProcHandle
	containerName string
	retryCount    int
	retryTimer    *time.Timer
}

func (c *channelState) hasPendingTask(taskID string) bool {
	for _, t := range c.pendingTasks {
		if t.taskID == taskID {
			return true
		}
	}
	return false
}

// Config holds the queue's tunables, all named after the spec's literal
// constants.
type Config struct {
	MaxConcurrentContainers int
	BaseRetry               time.Duration
	MaxRetries              int
}

// Queue is the per-channel, globally capped work queue described in §4.1.
type Queue struct {
	mu sync.Mutex

	cfg Config

	channels        map[string]*channelState
	waitingChannels []string // FIFO, no duplicates
	activeCount     int
	shuttingDown    bool

	processor MessageProcessor

	logger *slog.Logger
	bus    *bus.Bus
}

// New constructs a Queue. SetMessageProcessor must be called before any
// message work is enqueued.
func New(cfg Config, logger *slog.Logger, b *bus.Bus) *Queue {
	if cfg.MaxConcurrentContainers <= 0 {
		cfg.MaxConcurrentContainers = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseRetry <= 0 {
		cfg.BaseRetry = 5 * time.Second
	}
	return &Queue{
		cfg:      cfg,
		channels: make(map[string]*channelState),
		logger:   logger,
		bus:      b,
	}
}

// SetMessageProcessor injects the per-channel message handler. Resolves the
// cyclic reference between the queue and the supervisor that owns it.
func (q *Queue) SetMessageProcessor(fn MessageProcessor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = fn
}

func (q *Queue) stateFor(channelID string) *channelState {
	c, ok := q.channels[channelID]
	if !ok {
		c = &channelState{}
		q.channels[channelID] = c
	}
	return c
}

// EnqueueMessageCheck is an idempotent request to process any backlog for a
// channel. Calling it repeatedly while the channel is active coalesces into
// exactly one additional drain pass.
func (q *Queue) EnqueueMessageCheck(ctx context.Context, channelID string) {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return
	}
	c := q.stateFor(channelID)

	switch {
	case c.active:
		c.pendingMsg = true
		q.mu.Unlock()
	case q.activeCount >= q.cfg.MaxConcurrentContainers:
		c.pendingMsg = true
		q.addWaiterLocked(channelID)
		q.mu.Unlock()
	default:
		q.admitMessageLocked(c)
		q.mu.Unlock()
		go q.runMessageJob(ctx, channelID)
	}
}

// EnqueueTask submits an out-of-band job for a channel, deduped by taskID.
func (q *Queue) EnqueueTask(ctx context.Context, channelID, taskID string, fn TaskFunc) {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return
	}
	c := q.stateFor(channelID)
	if c.hasPendingTask(taskID) {
		q.mu.Unlock()
		return
	}
	job := taskJob{taskID: taskID, fn: fn}

	switch {
	case c.active:
		c.pendingTasks = append(c.pendingTasks, job)
		q.mu.Unlock()
	case q.activeCount >= q.cfg.MaxConcurrentContainers:
		c.pendingTasks = append(c.pendingTasks, job)
		q.addWaiterLocked(channelID)
		q.mu.Unlock()
	default:
		q.admitTaskLocked(c)
		q.mu.Unlock()
		go q.runTaskJob(ctx, channelID, job)
	}
}

// addWaiterLocked appends channelID to the waiter FIFO if not already present.
// Callers must hold q.mu.
func (q *Queue) addWaiterLocked(channelID string) {
	for _, c := range q.waitingChannels {
		if c == channelID {
			return
		}
	}
	q.waitingChannels = append(q.waitingChannels, channelID)
}

// RegisterProcess records the live subprocess handle for a channel so
// Shutdown can target it. Called by the container-runner's onSpawn callback.
func (q *Queue) RegisterProcess(channelID string, proc ProcHandle, containerName string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.stateFor(channelID)
	c.process = proc
	c.containerName = containerName
}

// admitMessageLocked marks a channel active and counts it against the global
// cap. Callers must hold q.mu and must follow up with a run of runMessageJob
// (directly or via goroutine) so the admission is eventually released.
func (q *Queue) admitMessageLocked(c *channelState) {
	c.active = true
	c.pendingMsg = false // re-armed by any enqueue that races with this run
	q.activeCount++
}

// admitTaskLocked marks a channel active and counts it against the global
// cap. Callers must hold q.mu and must follow up with a run of runTaskJob.
func (q *Queue) admitTaskLocked(c *channelState) {
	c.active = true
	q.activeCount++
}

// runMessageJob runs the processor for an already-admitted channel. It must
// only be invoked (directly or via goroutine) immediately after
// admitMessageLocked, so that activeCount reflects this run for the whole
// time it is in flight.
func (q *Queue) runMessageJob(ctx context.Context, channelID string) {
	ctx, span := telemetry.StartSpan(ctx, "queue.dispatch_message")
	defer span.End()

	q.mu.Lock()
	c := q.stateFor(channelID)
	processor := q.processor
	q.mu.Unlock()

	q.bus.Publish(bus.TopicChannelDispatchStarted, channelID)

	var err error
	if processor != nil {
		err = processor(ctx, channelID)
	}

	q.mu.Lock()
	c.active = false
	c.process = nil
	c.containerName = ""
	q.activeCount--
	if err == nil {
		c.retryCount = 0
		q.mu.Unlock()
		q.bus.Publish(bus.TopicChannelDispatchSucceeded, channelID)
	} else {
		q.mu.Unlock()
		q.bus.Publish(bus.TopicChannelDispatchFailed, channelID)
		if q.logger != nil {
			q.logger.Error("channel_dispatch_failed", "channel_id", channelID, "error", err)
		}
		q.scheduleRetry(ctx, channelID)
	}

	q.drain(ctx, channelID)
}

// runTaskJob runs a task job for an already-admitted channel. It must only
// be invoked (directly or via goroutine) immediately after admitTaskLocked.
func (q *Queue) runTaskJob(ctx context.Context, channelID string, job taskJob) {
	ctx, span := telemetry.StartSpan(ctx, "queue.dispatch_task")
	defer span.End()

	q.mu.Lock()
	c := q.stateFor(channelID)
	q.mu.Unlock()

	q.bus.Publish(bus.TopicChannelDispatchStarted, channelID)

	if err := job.fn(ctx); err != nil && q.logger != nil {
		q.logger.Error("task_job_failed", "channel_id", channelID, "task_id", job.taskID, "error", err)
	}

	q.mu.Lock()
	c.active = false
	c.process = nil
	c.containerName = ""
	q.activeCount--
	q.mu.Unlock()

	q.drain(ctx, channelID)
}

// scheduleRetry implements the exponential backoff in §4.1: base·2^(n-1),
// capped at MaxRetries attempts, then reset to 0 and stop (a later message
// rearms the channel through the normal enqueue path).
func (q *Queue) scheduleRetry(ctx context.Context, channelID string) {
	q.mu.Lock()
	c := q.stateFor(channelID)
	c.retryCount++
	if c.retryCount > q.cfg.MaxRetries {
		c.retryCount = 0
		q.mu.Unlock()
		q.bus.Publish(bus.TopicChannelRetryExhausted, channelID)
		return
	}
	attempt := c.retryCount
	q.mu.Unlock()

	delay := q.cfg.BaseRetry * time.Duration(1<<uint(attempt-1))
	q.bus.Publish(bus.TopicChannelRetryScheduled, fmt.Sprintf("%s after %s (attempt %d)", channelID, delay, attempt))

	timer := time.AfterFunc(delay, func() {
		q.mu.Lock()
		down := q.shuttingDown
		q.mu.Unlock()
		if down {
			return
		}
		q.EnqueueMessageCheck(ctx, channelID)
	})

	q.mu.Lock()
	c.retryTimer = timer
	q.mu.Unlock()
}

// drain prefers a pending task over pending messages for the channel that
// just finished, since tasks are not auto-rediscovered from the store; then
// falls through to draining any globally-waiting channels.
func (q *Queue) drain(ctx context.Context, channelID string) {
	q.mu.Lock()
	c := q.stateFor(channelID)

	if len(c.pendingTasks) > 0 {
		job := c.pendingTasks[0]
		c.pendingTasks = c.pendingTasks[1:]
		q.admitTaskLocked(c)
		q.mu.Unlock()
		go q.runTaskJob(ctx, channelID, job)
		return
	}
	if c.pendingMsg {
		q.admitMessageLocked(c)
		q.mu.Unlock()
		go q.runMessageJob(ctx, channelID)
		return
	}
	q.mu.Unlock()
	q.drainWaiters(ctx)
}

// drainWaiters starts work for FIFO-waiting channels while capacity allows.
func (q *Queue) drainWaiters(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.shuttingDown || q.activeCount >= q.cfg.MaxConcurrentContainers || len(q.waitingChannels) == 0 {
			q.mu.Unlock()
			return
		}
		channelID := q.waitingChannels[0]
		q.waitingChannels = q.waitingChannels[1:]
		c := q.stateFor(channelID)

		if len(c.pendingTasks) > 0 {
			job := c.pendingTasks[0]
			c.pendingTasks = c.pendingTasks[1:]
			q.admitTaskLocked(c)
			q.mu.Unlock()
			go q.runTaskJob(ctx, channelID, job)
			continue
		}
		if c.pendingMsg {
			q.admitMessageLocked(c)
			q.mu.Unlock()
			go q.runMessageJob(ctx, channelID)
			continue
		}
		q.mu.Unlock()
	}
}

// ActiveCount returns the current number of live subprocesses.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeCount
}

// IsActive reports whether a channel currently has a live subprocess.
func (q *Queue) IsActive(channelID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.channels[channelID]
	return ok && c.active
}

// WaitingCount returns the number of channels parked on the global cap.
func (q *Queue) WaitingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waitingChannels)
}
