package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/domain"
)

const (
	// idlePoll bounds how long an idle worker sleeps between heap checks when
	// the submit notification is missed.
	idlePoll = 250 * time.Millisecond
	// collateSlice is the lock-free nap between collation passes inside the
	// batch window.
	collateSlice = 5 * time.Millisecond
)

// runWorker pulls batches and dispatches them until ctx is cancelled. When
// nothing can take a batch (backpressure, not failure) the worker backs off
// exponentially instead of hammering the balancer.
func (q *Queue) runWorker(ctx domain.Context, id int) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	slog.Debug("queue worker started", slog.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		batch := q.collate(ctx)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
			case <-time.After(idlePoll):
			}
			continue
		}
		if q.dispatchBatch(ctx, batch) {
			bo.Reset()
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// collate pulls the head task and keeps absorbing same-kind heads until the
// batch window closes, the size cap is hit, or a different kind reaches the
// head. Popping past a different-kind head would reorder dispatch, so the
// batch closes early instead.
func (q *Queue) collate(ctx domain.Context) []*taskEntry {
	q.mu.Lock()
	if q.heap.Len() == 0 {
		q.mu.Unlock()
		return nil
	}
	first := heap.Pop(&q.heap).(*taskEntry)
	q.markBatchingLocked(first)
	kind := first.task.AgentKind
	batch := []*taskEntry{first}
	q.mu.Unlock()

	if q.batchMaxSize <= 1 || q.batchWindow <= 0 {
		return batch
	}

	windowEnd := time.Now().Add(q.batchWindow)
	for {
		q.mu.Lock()
		for len(batch) < q.batchMaxSize && q.heap.Len() > 0 && q.heap[0].task.AgentKind == kind {
			e := heap.Pop(&q.heap).(*taskEntry)
			q.markBatchingLocked(e)
			batch = append(batch, e)
		}
		headDiffers := q.heap.Len() > 0 && q.heap[0].task.AgentKind != kind
		q.mu.Unlock()

		if len(batch) >= q.batchMaxSize || headDiffers || !time.Now().Before(windowEnd) {
			return batch
		}
		select {
		case <-ctx.Done():
			return batch
		case <-time.After(collateSlice):
		}
	}
}

// markBatchingLocked moves a popped task into the collation state. The task
// still counts against capacity; only the depth gauge drops.
func (q *Queue) markBatchingLocked(e *taskEntry) {
	e.task.Status = domain.TaskBatching
	q.depthDecLocked(e.task.Priority)
}

// dispatchBatch resolves viability once for the whole batch, then dispatches
// each surviving task. Returns false only for backpressure, telling the
// worker to back off and retry; the tasks go back to the queue untouched.
func (q *Queue) dispatchBatch(ctx domain.Context, batch []*taskEntry) bool {
	now := time.Now()
	live := make([]*taskEntry, 0, len(batch))
	needs := make(map[string]int, len(batch))
	maxNeed := 0

	q.mu.Lock()
	for _, e := range batch {
		t := e.task
		if t.Status != domain.TaskBatching {
			continue // cancelled during collation
		}
		if !t.Deadline.IsZero() && now.After(t.Deadline) {
			q.pending--
			q.finishLocked(e, domain.TaskFailed, "deadline exceeded before dispatch", false)
			continue
		}
		need := q.counter.PromptTokens(t.Messages, "") + t.MaxTokens
		needs[t.ID] = need
		if need > maxNeed {
			maxNeed = need
		}
		live = append(live, e)
	}
	q.mu.Unlock()

	if len(live) == 0 {
		return true
	}
	if ctx.Err() != nil {
		q.requeueAll(live)
		return true
	}

	kind := live[0].task.AgentKind
	candidates, err := q.router.CandidatesForContext(kind, maxNeed)
	if err != nil {
		q.failAll(live, err.Error())
		return true
	}
	if len(candidates) == 0 {
		// The widest task in the batch fits no model. Fail exactly the tasks
		// that can never dispatch and put the rest back.
		q.splitInfeasible(live, needs, kind)
		return true
	}

	// Preflight: one viability decision covers the batch. Backpressure sends
	// the whole batch back to the queue.
	if _, err := q.balancer.Decide(candidates, maxNeed); err != nil {
		q.requeueAll(live)
		slog.Debug("no viable dispatch target, batch requeued",
			slog.String("agent_kind", string(kind)),
			slog.Int("tasks", len(live)),
			slog.Int("min_context_tokens", maxNeed))
		return false
	}

	for _, e := range live {
		q.dispatchOne(ctx, e)
	}
	return true
}

// splitInfeasible terminally fails tasks whose own context need fits no
// registered model and requeues the rest. With a fixed fleet an oversized
// task can never become dispatchable, so requeueing it would spin forever.
func (q *Queue) splitInfeasible(live []*taskEntry, needs map[string]int, kind domain.AgentKind) {
	var requeue, infeasible []*taskEntry
	for _, e := range live {
		cs, err := q.router.CandidatesForContext(kind, needs[e.task.ID])
		if err == nil && len(cs) > 0 {
			requeue = append(requeue, e)
			continue
		}
		infeasible = append(infeasible, e)
	}
	q.failAll(infeasible, "no candidate model fits the requested context window")
	q.requeueAll(requeue)
}

// dispatchOne runs a single task through the dispatcher. A dispatch-time
// viability loss (the preflight raced a pressure change) reverts the task to
// Queued; every other error is terminal.
func (q *Queue) dispatchOne(ctx domain.Context, e *taskEntry) {
	q.mu.Lock()
	if e.task.Status != domain.TaskBatching {
		q.mu.Unlock()
		return
	}
	started := time.Now()
	e.task.Status = domain.TaskProcessing
	e.task.StartedAt = &started
	q.pending--
	observability.StartProcessingTask()
	t := *e.task
	q.mu.Unlock()

	req := domain.ChatRequest{
		AgentKind:   t.AgentKind,
		Messages:    t.Messages,
		Temperature: t.Temperature,
		MaxTokens:   t.MaxTokens,
	}
	deadline := started.Add(q.defaultTimeout)
	if !t.Deadline.IsZero() && t.Deadline.Before(deadline) {
		deadline = t.Deadline
	}
	dctx, cancel := context.WithDeadline(ctx, deadline)
	out, err := q.dispatcher.Dispatch(dctx, req)
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case err == nil:
		e.task.ModelUsed = out.Model
		e.task.Result = &out
		q.finishLocked(e, domain.TaskCompleted, "", true)
	case errors.Is(err, domain.ErrNoViableTarget):
		e.task.Status = domain.TaskQueued
		e.task.StartedAt = nil
		q.pending++
		observability.TasksProcessing.Dec()
		heap.Push(&q.heap, e)
		q.depthIncLocked(e.task.Priority)
		slog.Debug("dispatch viability lost, task requeued", slog.String("task_id", t.ID))
	default:
		q.finishLocked(e, domain.TaskFailed, err.Error(), true)
	}
}

// requeueAll returns still-batching tasks to the queue in priority order.
func (q *Queue) requeueAll(batch []*taskEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range batch {
		if e.task.Status != domain.TaskBatching {
			continue
		}
		e.task.Status = domain.TaskQueued
		heap.Push(&q.heap, e)
		q.depthIncLocked(e.task.Priority)
	}
}

// failAll terminally fails still-batching tasks with a shared reason.
func (q *Queue) failAll(batch []*taskEntry, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range batch {
		if e.task.Status != domain.TaskBatching {
			continue
		}
		q.pending--
		q.finishLocked(e, domain.TaskFailed, reason, false)
	}
}
