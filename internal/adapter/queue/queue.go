// Package queue implements the in-memory priority task queue: admission,
// ordering, batch collation, dispatch workers, and result retention.
//
// All state is process-local and lost on restart; task IDs are not valid
// across restarts. The queue owns every task record. Dispatch workers gain
// exclusive mutation rights over a task once it transitions to Processing.
package queue

import (
	"container/heap"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/medgate/inference-gateway/internal/adapter/llm"
	"github.com/medgate/inference-gateway/internal/adapter/observability"
	"github.com/medgate/inference-gateway/internal/config"
	"github.com/medgate/inference-gateway/internal/domain"
)

// taskEntry wraps a task with its heap slot and retention deadline.
type taskEntry struct {
	task      *domain.Task
	heapIndex int // -1 while off the heap
	expiresAt time.Time
}

// Queue implements domain.TaskQueue.
type Queue struct {
	capacity       int
	workers        int
	batchMaxSize   int
	batchWindow    time.Duration
	resultTTL      time.Duration
	cleanupEvery   time.Duration
	defaultTimeout time.Duration

	degradedDepthPct  float64
	unhealthyDepthPct float64
	degradedFailures  int

	dispatcher domain.Dispatcher
	router     domain.AgentRouter
	balancer   domain.Balancer
	counter    domain.TokenEstimator
	cache      *llm.Cache // stats only, may be nil

	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*taskEntry
	batches map[string][]string
	pending int // Queued + Batching, counted against capacity

	submitted int64
	rejected  int64
	completed int64
	failed    int64
	cancelled int64

	emaServiceMS     float64
	completionStamps []time.Time
	failureStamps    []time.Time
	byPriority       map[string]int

	notify chan struct{}
	wg     sync.WaitGroup
}

// New builds a queue from configuration. cache may be nil when the response
// cache is disabled; it only feeds the hit-rate stat.
func New(cfg config.Config, dispatcher domain.Dispatcher, router domain.AgentRouter, balancer domain.Balancer, counter domain.TokenEstimator, cache *llm.Cache) *Queue {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 1000
	}
	workers := cfg.QueueWorkers
	if workers <= 0 {
		workers = 4
	}
	batchMax := cfg.BatchMaxSize
	if batchMax <= 0 {
		batchMax = 1
	}
	resultTTL := cfg.ResultTTL
	if resultTTL <= 0 {
		resultTTL = 300 * time.Second
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 30 * time.Second
	}
	timeout := cfg.DefaultRequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Queue{
		capacity:          capacity,
		workers:           workers,
		batchMaxSize:      batchMax,
		batchWindow:       cfg.BatchWindow,
		resultTTL:         resultTTL,
		cleanupEvery:      cleanup,
		defaultTimeout:    timeout,
		degradedDepthPct:  cfg.QueueDegradedDepthPct,
		unhealthyDepthPct: cfg.QueueUnhealthyDepthPct,
		degradedFailures:  cfg.QueueDegradedFailures,
		dispatcher:        dispatcher,
		router:            router,
		balancer:          balancer,
		counter:           counter,
		cache:             cache,
		tasks:             make(map[string]*taskEntry),
		batches:           make(map[string][]string),
		byPriority:        make(map[string]int),
		notify:            make(chan struct{}, 1),
	}
}

// Start launches the dispatch workers and the retention sweeper. They run
// until ctx is cancelled; Wait blocks until all have exited.
func (q *Queue) Start(ctx domain.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			q.runWorker(ctx, id)
		}(i)
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.runSweeper(ctx)
	}()
}

// Wait blocks until every worker started by Start has exited.
func (q *Queue) Wait() { q.wg.Wait() }

// Submit admits one task. Above capacity the task is rejected whole.
func (q *Queue) Submit(_ domain.Context, t domain.Task) (domain.SubmitReceipt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.submitted++
	if q.pending+1 > q.capacity {
		q.rejected++
		observability.TasksRejectedTotal.Inc()
		return domain.SubmitReceipt{}, fmt.Errorf("op=queue.submit: %w: capacity %d", domain.ErrQueueFull, q.capacity)
	}

	e := q.admitLocked(t)
	receipt := q.receiptLocked(e)
	q.notifyWorkers()
	return receipt, nil
}

// SubmitBatch admits all tasks or none.
func (q *Queue) SubmitBatch(_ domain.Context, ts []domain.Task) (domain.BatchReceipt, error) {
	if len(ts) == 0 {
		return domain.BatchReceipt{}, fmt.Errorf("op=queue.submit_batch: %w: empty batch", domain.ErrInvalidArgument)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.submitted += int64(len(ts))
	if q.pending+len(ts) > q.capacity {
		q.rejected += int64(len(ts))
		observability.TasksRejectedTotal.Add(float64(len(ts)))
		return domain.BatchReceipt{}, fmt.Errorf("op=queue.submit_batch: %w: %d tasks, capacity %d", domain.ErrQueueFull, len(ts), q.capacity)
	}

	batchID := "batch_" + ulid.Make().String()
	entries := make([]*taskEntry, 0, len(ts))
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		t.BatchID = batchID
		e := q.admitLocked(t)
		entries = append(entries, e)
		ids = append(ids, e.task.ID)
	}
	q.batches[batchID] = ids

	receipts := make([]domain.SubmitReceipt, 0, len(entries))
	for _, e := range entries {
		receipts = append(receipts, q.receiptLocked(e))
	}
	q.notifyWorkers()
	return domain.BatchReceipt{BatchID: batchID, Tasks: receipts}, nil
}

// Status returns the external view of one task.
func (q *Queue) Status(taskID string) (domain.TaskView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[taskID]
	if !ok {
		return domain.TaskView{}, fmt.Errorf("op=queue.status: %w: task %q", domain.ErrNotFound, taskID)
	}
	return q.viewLocked(e), nil
}

// Result returns the task once terminal. Reads are idempotent until the
// retention TTL elapses.
func (q *Queue) Result(taskID string) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[taskID]
	if !ok {
		return domain.Task{}, fmt.Errorf("op=queue.result: %w: task %q", domain.ErrNotFound, taskID)
	}
	if !e.task.Status.Terminal() {
		return domain.Task{}, fmt.Errorf("op=queue.result: %w: task %q is %s", domain.ErrNotReady, taskID, e.task.Status)
	}
	if time.Now().After(e.expiresAt) {
		return domain.Task{}, fmt.Errorf("op=queue.result: %w: task %q", domain.ErrExpired, taskID)
	}
	return *e.task, nil
}

// Cancel removes a task that has not started processing. Cancelling an
// already cancelled task is a no-op; anything past Batching is too late.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("op=queue.cancel: %w: task %q", domain.ErrNotFound, taskID)
	}
	switch e.task.Status {
	case domain.TaskQueued:
		heap.Remove(&q.heap, e.heapIndex)
		q.depthDecLocked(e.task.Priority)
	case domain.TaskBatching:
		// the collating worker drops it on sight
	case domain.TaskCancelled:
		return nil
	default:
		return fmt.Errorf("op=queue.cancel: %w: task %q is %s", domain.ErrConflict, taskID, e.task.Status)
	}
	q.pending--
	q.finishLocked(e, domain.TaskCancelled, "", false)
	return nil
}

// BatchStatus aggregates per-task views for one submission batch.
func (q *Queue) BatchStatus(batchID string) (domain.BatchView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids, ok := q.batches[batchID]
	if !ok {
		return domain.BatchView{}, fmt.Errorf("op=queue.batch_status: %w: batch %q", domain.ErrNotFound, batchID)
	}

	view := domain.BatchView{BatchID: batchID}
	for _, id := range ids {
		e, ok := q.tasks[id]
		if !ok {
			continue // swept after TTL
		}
		view.Tasks = append(view.Tasks, q.viewLocked(e))
		view.Total++
		switch e.task.Status {
		case domain.TaskCompleted:
			view.Completed++
		case domain.TaskFailed:
			view.Failed++
		}
	}
	return view, nil
}

// Stats returns queue-wide accounting.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := domain.QueueStats{
		Completed:        q.completed,
		Failed:           q.failed,
		Cancelled:        q.cancelled,
		Submitted:        q.submitted,
		Rejected:         q.rejected,
		EMAServiceTimeMS: q.emaServiceMS,
		Capacity:         q.capacity,
		ByPriority:       make(map[string]int, len(q.byPriority)),
	}
	for k, v := range q.byPriority {
		s.ByPriority[k] = v
	}
	for _, e := range q.tasks {
		switch e.task.Status {
		case domain.TaskQueued:
			s.Queued++
		case domain.TaskBatching:
			s.Batching++
		case domain.TaskProcessing:
			s.Processing++
		}
	}
	q.completionStamps = pruneStamps(q.completionStamps, time.Minute)
	q.failureStamps = pruneStamps(q.failureStamps, time.Minute)
	s.TasksPerMinute = float64(len(q.completionStamps))
	s.FailuresLastMinute = len(q.failureStamps)
	if q.cache != nil {
		s.CacheHitRate = q.cache.HitRate()
	}
	return s
}

// Health classifies the queue against the configured depth and failure
// thresholds.
func (q *Queue) Health() domain.HealthState {
	q.mu.Lock()
	defer q.mu.Unlock()

	pct := float64(q.pending) / float64(q.capacity)
	q.failureStamps = pruneStamps(q.failureStamps, time.Minute)
	switch {
	case pct >= q.unhealthyDepthPct:
		return domain.Unhealthy
	case pct >= q.degradedDepthPct, len(q.failureStamps) >= q.degradedFailures:
		return domain.Degraded
	}
	return domain.Healthy
}

// Cleanup purges terminal entries older than maxAge and returns the count.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, e := range q.tasks {
		t := e.task
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		q.pruneBatchesLocked()
	}
	return removed
}

// admitLocked records and enqueues one task.
func (q *Queue) admitLocked(t domain.Task) *taskEntry {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now()
	}
	t.Status = domain.TaskQueued
	e := &taskEntry{task: &t, heapIndex: -1}
	q.tasks[t.ID] = e
	heap.Push(&q.heap, e)
	q.pending++
	q.byPriority[t.Priority.String()]++
	q.depthIncLocked(t.Priority)
	observability.TasksSubmittedTotal.Inc()
	return e
}

func (q *Queue) receiptLocked(e *taskEntry) domain.SubmitReceipt {
	pos := q.positionLocked(e)
	var wait time.Duration
	if q.emaServiceMS > 0 {
		waitMS := q.emaServiceMS * float64(pos) / float64(q.workers)
		wait = time.Duration(waitMS * float64(time.Millisecond))
	}
	return domain.SubmitReceipt{
		TaskID:          e.task.ID,
		Position:        pos,
		EstimatedWait:   wait,
		EstimatedWaitMS: wait.Milliseconds(),
	}
}

func (q *Queue) viewLocked(e *taskEntry) domain.TaskView {
	t := e.task
	v := domain.TaskView{
		TaskID:      t.ID,
		Status:      t.Status,
		AgentKind:   t.AgentKind,
		Priority:    t.Priority.String(),
		CreatedAt:   t.SubmittedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		ModelUsed:   t.ModelUsed,
		Error:       t.Error,
	}
	if t.Status == domain.TaskQueued {
		v.Position = q.positionLocked(e)
	}
	return v
}

// positionLocked is the 1-based dispatch rank among queued tasks.
func (q *Queue) positionLocked(e *taskEntry) int {
	pos := 1
	for _, other := range q.heap {
		if other != e && lessTask(other.task, e.task) {
			pos++
		}
	}
	return pos
}

// finishLocked applies a terminal status. heldSlot marks tasks that reached
// Processing and therefore hold a processing gauge slot.
func (q *Queue) finishLocked(e *taskEntry, status domain.TaskStatus, errStr string, heldSlot bool) {
	now := time.Now()
	t := e.task
	t.Status = status
	t.CompletedAt = &now
	if errStr != "" {
		t.Error = errStr
	}
	e.expiresAt = now.Add(q.resultTTL)
	switch status {
	case domain.TaskCompleted:
		q.completed++
		q.completionStamps = append(q.completionStamps, now)
		if t.StartedAt != nil {
			q.observeServiceLocked(now.Sub(*t.StartedAt))
		}
	case domain.TaskFailed:
		q.failed++
		q.failureStamps = append(q.failureStamps, now)
	case domain.TaskCancelled:
		q.cancelled++
	}
	observability.FinishTask(status, heldSlot)
}

// observeServiceLocked feeds the queue-wide EMA (smoothing 0.1). The first
// sample seeds it.
func (q *Queue) observeServiceLocked(d time.Duration) {
	ms := d.Seconds() * 1000
	if q.emaServiceMS == 0 {
		q.emaServiceMS = ms
		return
	}
	q.emaServiceMS = 0.1*ms + 0.9*q.emaServiceMS
}

func (q *Queue) depthIncLocked(p domain.Priority) {
	observability.QueueDepth.WithLabelValues(p.String()).Inc()
}

func (q *Queue) depthDecLocked(p domain.Priority) {
	observability.QueueDepth.WithLabelValues(p.String()).Dec()
}

func (q *Queue) pruneBatchesLocked() {
	for id, ids := range q.batches {
		kept := ids[:0]
		for _, taskID := range ids {
			if _, ok := q.tasks[taskID]; ok {
				kept = append(kept, taskID)
			}
		}
		if len(kept) == 0 {
			delete(q.batches, id)
			continue
		}
		q.batches[id] = kept
	}
}

func (q *Queue) notifyWorkers() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) runSweeper(ctx domain.Context) {
	ticker := time.NewTicker(q.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := q.Cleanup(q.resultTTL); n > 0 {
				slog.Debug("expired task results purged", slog.Int("count", n))
			}
		}
	}
}

func pruneStamps(stamps []time.Time, window time.Duration) []time.Time {
	cutoff := time.Now().Add(-window)
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}

// taskHeap orders pending tasks by (priority ordinal, submit time, task ID).
type taskHeap []*taskEntry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return lessTask(h[i].task, h[j].task) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*taskEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

func lessTask(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	an, bn := a.SubmittedAt.UnixNano(), b.SubmittedAt.UnixNano()
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}

var _ domain.TaskQueue = (*Queue)(nil)
