package framework

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/golang/glog"
)

// Task is a serialized execution context: a single goroutine draining a job
// queue. Jobs submitted from any goroutine run one at a time in submission
// order. Entry points restricted to a task use Assert to enforce the calling
// contract at runtime.
type Task struct {
	name string
	jobs chan func()
	gid  uint64
}

// DefaultTaskDepth is the job queue depth used by NewTask.
const DefaultTaskDepth = 64

// NewTask creates a named Task with the default queue depth.
func NewTask(name string) *Task {
	return &Task{name: name, jobs: make(chan func(), DefaultTaskDepth)}
}

// Name implements Named.
func (t *Task) Name() string {
	return t.name
}

// Run implements Runnable. It binds the task to the calling goroutine and
// drains jobs until the context is canceled.
func (t *Task) Run(ctx context.Context) error {
	atomic.StoreUint64(&t.gid, goid())
	defer atomic.StoreUint64(&t.gid, 0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-t.jobs:
			job()
		}
	}
}

// Submit queues a job, blocking if the queue is full. Must not be used from
// contexts that cannot block; those use Post.
func (t *Task) Submit(job func()) {
	t.jobs <- job
}

// Post queues a job without ever blocking. The queue is sized for the bounded
// amount of in-flight work the protocol allows; overflow indicates the task
// stopped draining and is logged loudly.
func (t *Task) Post(job func()) {
	select {
	case t.jobs <- job:
	default:
		glog.Errorf("Task[%s]: job queue overflow, job dropped", t.name)
	}
}

// Call submits a job and waits for it to finish. Calling from the task itself
// runs the job inline to avoid self-deadlock.
func (t *Task) Call(job func()) {
	if t.RunsOnCurrent() {
		job()
		return
	}
	done := make(chan struct{})
	t.jobs <- func() {
		job()
		close(done)
	}
	<-done
}

// RunsOnCurrent reports whether the calling goroutine is the task goroutine.
func (t *Task) RunsOnCurrent() bool {
	gid := atomic.LoadUint64(&t.gid)
	return gid != 0 && gid == goid()
}

// Assert panics unless called from the task goroutine. It documents and
// enforces per-entry-point context restrictions that replace locking.
func (t *Task) Assert(op string) {
	if !t.RunsOnCurrent() {
		panic(fmt.Sprintf("%s must be called from task %q", op, t.name))
	}
}

// AssertNot panics when called from the task goroutine. Used by blocking
// entry points that would deadlock the task.
func (t *Task) AssertNot(op string) {
	if t.RunsOnCurrent() {
		panic(fmt.Sprintf("%s must not be called from task %q", op, t.name))
	}
}

// goid extracts the goroutine id from the runtime stack header
// ("goroutine N [...").
func goid() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
