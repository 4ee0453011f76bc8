package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// idleWait bounds how long the scheduler sleeps with nothing queued.
const idleWait = 24 * time.Hour

// TimerTask is a callback scheduled for a future instant
type TimerTask struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // position in the heap
}

// timerHeap is a min-heap of TimerTasks ordered by ExpiryAt
type timerHeap []*TimerTask

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	task := x.(*TimerTask)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// TimerManager runs scheduled callbacks on a fixed pool of workers. Tasks
// are keyed by ID; scheduling an existing ID replaces it.
type TimerManager struct {
	heap     timerHeap
	mu       sync.Mutex
	wakeup   chan struct{}
	ready    chan *TimerTask
	tasks    map[string]*TimerTask
	workers  int
	clock    clockwork.Clock
	logger   *zap.Logger
	workerWg sync.WaitGroup
	runWg    sync.WaitGroup
	started  bool
	stopped  bool
	stopCh   chan struct{}
}

// NewTimerManager creates a manager with the given number of workers. A nil
// clock means the real clock.
func NewTimerManager(workers int, clock clockwork.Clock, logger *zap.Logger) *TimerManager {
	if workers < 1 {
		workers = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tm := &TimerManager{
		heap:    make(timerHeap, 0),
		wakeup:  make(chan struct{}, 1),
		ready:   make(chan *TimerTask, workers),
		tasks:   make(map[string]*TimerTask),
		workers: workers,
		clock:   clock,
		logger:  logger.With(zap.String("component", "timer")),
		stopCh:  make(chan struct{}),
	}
	heap.Init(&tm.heap)
	return tm
}

// Start launches the workers and the scheduler loop. Calling it twice is a no-op.
func (tm *TimerManager) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.started || tm.stopped {
		return
	}
	tm.started = true

	for i := 0; i < tm.workers; i++ {
		tm.workerWg.Add(1)
		go tm.worker()
	}
	tm.runWg.Add(1)
	go tm.run()
}

// Stop halts scheduling and waits for running callbacks to return. Tasks not
// yet handed to a worker are dropped.
func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	close(tm.stopCh)
	tm.mu.Unlock()

	tm.runWg.Wait()
	tm.workerWg.Wait()
}

// Schedule queues callback to run at expiryAt
func (tm *TimerManager) Schedule(id string, expiryAt time.Time, callback func()) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.stopped {
		return ErrManagerStopped
	}

	if existing, ok := tm.tasks[id]; ok {
		heap.Remove(&tm.heap, existing.index)
		delete(tm.tasks, id)
	}

	task := &TimerTask{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}
	heap.Push(&tm.heap, task)
	tm.tasks[id] = task

	// Wake the scheduler if this is now the earliest task
	if tm.heap[0] == task {
		select {
		case tm.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a scheduled task
func (tm *TimerManager) Cancel(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&tm.heap, task.index)
	delete(tm.tasks, id)
	return true
}

// NextRun returns when the task with id is due.
func (tm *TimerManager) NextRun(id string) (time.Time, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.ExpiryAt, true
}

func (tm *TimerManager) run() {
	defer tm.runWg.Done()

	for {
		tm.mu.Lock()
		if tm.stopped {
			tm.mu.Unlock()
			return
		}

		wait := idleWait
		if tm.heap.Len() > 0 {
			wait = tm.heap[0].ExpiryAt.Sub(tm.clock.Now())
			if wait <= 0 {
				task := heap.Pop(&tm.heap).(*TimerTask)
				delete(tm.tasks, task.ID)
				tm.mu.Unlock()

				select {
				case tm.ready <- task:
				case <-tm.stopCh:
					return
				}
				continue
			}
		}
		tm.mu.Unlock()

		timer := tm.clock.NewTimer(wait)
		select {
		case <-timer.Chan():
		case <-tm.wakeup:
			timer.Stop()
		case <-tm.stopCh:
			timer.Stop()
			return
		}
	}
}

func (tm *TimerManager) worker() {
	defer tm.workerWg.Done()

	for {
		select {
		case task := <-tm.ready:
			tm.execute(task)
		case <-tm.stopCh:
			return
		}
	}
}

func (tm *TimerManager) execute(task *TimerTask) {
	defer func() {
		if r := recover(); r != nil {
			tm.logger.Error("timer task panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
			)
		}
	}()
	task.Callback()
}

// Stats returns statistics about the timer manager
func (tm *TimerManager) Stats() TimerStats {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	return TimerStats{
		ScheduledTasks: len(tm.tasks),
		Workers:        tm.workers,
	}
}

// TimerStats contains statistics about the timer manager
type TimerStats struct {
	ScheduledTasks int `json:"scheduled_tasks"`
	Workers        int `json:"workers"`
}

var (
	ErrManagerStopped = &TimerError{"timer manager is stopped"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
