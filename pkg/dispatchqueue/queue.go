package dispatchqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pranavk/stockpilot/internal/observability"
	"github.com/pranavk/stockpilot/internal/tracing"
)

// DelegationLane is the bounded pool for background delegation work
const DelegationLane = "delegation"

// Task is one unit of queued work
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Queue executes tasks on named lanes, FIFO per lane, at most
// lane-concurrency tasks in flight per lane.
type Queue struct {
	lanes  map[string]*laneState
	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Config sizes the queue
type Config struct {
	// DelegationConcurrency bounds the background delegation pool
	DelegationConcurrency int
}

// New creates a queue with the delegation lane pre-sized
func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	if cfg.DelegationConcurrency <= 0 {
		cfg.DelegationConcurrency = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
	q.EnsureLane(DelegationLane, cfg.DelegationConcurrency)
	return q
}

// EnsureLane creates a lane if it does not exist. Existing lanes keep
// their concurrency.
func (q *Queue) EnsureLane(lane string, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.lanes[lane]; !exists {
		q.lanes[lane] = &laneState{
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
		}
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

// SessionLane returns the serialization lane name for a session,
// creating it with a concurrency of one.
func (q *Queue) SessionLane(sessionID string) string {
	lane := "session:" + sessionID
	q.EnsureLane(lane, 1)
	return lane
}

// Do enqueues a task and blocks until it completes, returning its result.
// Per-session turn serialization runs through here.
func (q *Queue) Do(ctx context.Context, lane string, task Task) (interface{}, error) {
	record, err := q.enqueue(ctx, lane, task)
	if err != nil {
		return nil, err
	}

	select {
	case result := <-record.result:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit enqueues a task without waiting for it. The returned ID is the
// only handle the caller gets; failures are logged and counted, never
// returned. The task runs on a context detached from the caller's turn
// so turn completion cannot cancel it.
func (q *Queue) Submit(ctx context.Context, lane string, task Task) (string, error) {
	record, err := q.enqueue(tracing.DetachForBackground(ctx), lane, task)
	if err != nil {
		return "", err
	}

	go func() {
		result := <-record.result
		if result.err != nil {
			log.Error().
				Str("lane", lane).
				Str("task_id", record.id).
				Err(result.err).
				Msg("Background task failed")
		}
	}()

	return record.id, nil
}

func (q *Queue) enqueue(ctx context.Context, lane string, task Task) (*taskRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("dispatch queue is closed")
	}

	q.EnsureLane(lane, 1)

	taskID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task id: %w", err)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"stockpilot.dispatchqueue",
		"dispatchqueue.enqueue",
		attribute.String("lane", lane),
		attribute.String("task_id", taskID),
	)
	span.End()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}

	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	go q.processLane(lane)
	return record, nil
}

func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		q.wg.Add(1)
		go q.executeTask(lane, ls, record)
	}
}

func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"stockpilot.dispatchqueue",
		"dispatchqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	// Queue shutdown cancels in-flight tasks.
	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go q.processLane(lane)
}

// QueueSize returns the number of queued tasks for a lane
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// RunningCount returns the number of in-flight tasks for a lane
func (q *Queue) RunningCount(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns queued/running/concurrency per lane
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int, len(q.lanes))
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// Close rejects later submissions, cancels in-flight task contexts and
// waits for running tasks to return.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	for lane, ls := range q.lanes {
		ls.mu.Lock()
		for _, record := range ls.queue {
			record.result <- taskResult{err: fmt.Errorf("dispatch queue is closed")}
			close(record.result)
		}
		ls.queue = nil
		ls.mu.Unlock()
		observability.SetQueueSize(lane, 0)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
