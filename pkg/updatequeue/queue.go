package updatequeue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salomai/salombot/internal/metrics"
)

const (
	// DefaultLaneBuffer bounds how many tasks one lane may hold unstarted.
	DefaultLaneBuffer = 64

	// DefaultTaskTimeout bounds a single task run.
	DefaultTaskTimeout = 5 * time.Minute

	// DefaultIdleAfter retires a lane worker that saw no task for this long.
	DefaultIdleAfter = 5 * time.Minute
)

// metricLane labels the aggregate queue metrics; per-user labels would blow
// up the cardinality.
const metricLane = "updates"

var (
	// ErrClosed rejects enqueues after Close.
	ErrClosed = errors.New("update queue is closed")

	// ErrLaneFull rejects enqueues when a user's lane is at capacity.
	ErrLaneFull = errors.New("lane is full")
)

// Task is one unit of per-user work.
type Task func(ctx context.Context) error

// Options configures a Queue. Zero values take the defaults.
type Options struct {
	LaneBuffer  int
	TaskTimeout time.Duration
	IdleAfter   time.Duration
}

// lane is one user's FIFO with its dedicated worker.
type lane struct {
	id    int64
	tasks chan Task
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Lanes  int
	Queued int
}

// Queue serializes tasks per lane while distinct lanes run in parallel.
type Queue struct {
	laneBuffer  int
	taskTimeout time.Duration
	idleAfter   time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	lanes  map[int64]*lane
	depth  int
	closed bool
}

// New creates a Queue.
func New(opts Options) *Queue {
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = DefaultLaneBuffer
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = DefaultIdleAfter
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		laneBuffer:  opts.LaneBuffer,
		taskTimeout: opts.TaskTimeout,
		idleAfter:   opts.IdleAfter,
		baseCtx:     ctx,
		cancel:      cancel,
		lanes:       make(map[int64]*lane),
	}
}

// Enqueue appends task to the lane's FIFO, starting a worker for the lane
// when it has none. Returns ErrLaneFull without blocking when the lane is
// at capacity.
func (q *Queue) Enqueue(laneID int64, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	ln, ok := q.lanes[laneID]
	if !ok {
		ln = &lane{id: laneID, tasks: make(chan Task, q.laneBuffer)}
		q.lanes[laneID] = ln
		q.wg.Add(1)
		go q.worker(ln)
		log.Debug().Int64("lane", laneID).Msg("Lane worker started")
	}

	select {
	case ln.tasks <- task:
		q.depth++
		metrics.SetLaneDepth(metricLane, q.depth)
		return nil
	default:
		return fmt.Errorf("lane %d: %w", laneID, ErrLaneFull)
	}
}

// worker drains one lane until it is retired for idleness or the queue
// closes its channel.
func (q *Queue) worker(ln *lane) {
	defer q.wg.Done()

	idle := time.NewTimer(q.idleAfter)
	defer idle.Stop()

	for {
		select {
		case task, ok := <-ln.tasks:
			if !ok {
				return
			}
			q.runTask(ln, task)

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.idleAfter)

		case <-idle.C:
			if q.retire(ln) {
				return
			}
			idle.Reset(q.idleAfter)
		}
	}
}

// retire drops an idle lane from the map. Refused while the queue is
// closing or when a task slipped in meanwhile.
func (q *Queue) retire(ln *lane) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(ln.tasks) > 0 {
		return false
	}

	delete(q.lanes, ln.id)
	log.Debug().Int64("lane", ln.id).Msg("Idle lane worker retired")
	return true
}

func (q *Queue) runTask(ln *lane, task Task) {
	q.mu.Lock()
	q.depth--
	metrics.SetLaneDepth(metricLane, q.depth)
	q.mu.Unlock()

	runCtx, cancel := context.WithTimeout(q.baseCtx, q.taskTimeout)
	defer cancel()

	start := time.Now()
	err := runSafely(runCtx, task)
	duration := time.Since(start)

	metrics.RecordLaneTask(err == nil)

	if err != nil {
		log.Error().
			Int64("lane", ln.id).
			Dur("duration", duration).
			Err(err).
			Msg("Update task failed")
		return
	}

	log.Debug().
		Int64("lane", ln.id).
		Dur("duration", duration).
		Msg("Update task completed")
}

// runSafely keeps a panicking handler from killing the lane worker.
func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Update task panicked")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Stats returns the current lane and backlog counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Lanes: len(q.lanes), Queued: q.depth}
}

// Close stops intake, lets every lane drain its backlog, and returns once
// all workers finished.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, ln := range q.lanes {
		close(ln.tasks)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()

	log.Info().Msg("Update queue closed")
	return nil
}
