package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
	"github.com/Gopher0727/RoleInvite/utils/consistenthash"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type laneJob struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Lanes runs jobs serially per key. Keys are spread over a fixed number of
// lanes by a consistent hash ring; each lane is one goroutine, so two jobs
// with the same key never overlap and keep submission order.
type Lanes struct {
	ring     *consistenthash.Ring
	lanes    map[string]chan laneJob
	log      *logger.Logger
	wg       sync.WaitGroup
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewLanes starts n lanes with queueSize pending jobs each.
func NewLanes(n, replicas, queueSize int, log *logger.Logger) *Lanes {
	if n <= 0 {
		n = 1
	}
	l := &Lanes{
		ring:    consistenthash.New(replicas, nil),
		lanes:   make(map[string]chan laneJob, n),
		log:     log.Named("lanes"),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for i := range n {
		name := fmt.Sprintf("lane-%d", i)
		ch := make(chan laneJob, queueSize)
		l.lanes[name] = ch
		l.ring.Add(name)
		l.wg.Add(1)
		go l.loop(name, ch)
	}
	return l
}

func (l *Lanes) loop(name string, jobs chan laneJob) {
	defer l.wg.Done()
	for {
		select {
		case job := <-jobs:
			job.done <- l.run(name, job)
		case <-l.quit:
			for {
				select {
				case job := <-jobs:
					job.done <- l.run(name, job)
				default:
					return
				}
			}
		}
	}
}

func (l *Lanes) run(name string, job laneJob) (err error) {
	if err := job.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Lane job panic", zap.String("lane", name), zap.Any("panic", r))
			err = fmt.Errorf("lane job panic: %v", r)
		}
	}()
	return job.fn(job.ctx)
}

// Lane reports which lane key is routed to.
func (l *Lanes) Lane(key string) string {
	return l.ring.Get(key)
}

// Do runs fn on the lane of key and waits for its result. Once fn has
// started, Do waits for it to finish even if ctx ends.
func (l *Lanes) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	job := laneJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-l.quit:
		return ErrPoolStopped
	default:
	}
	select {
	case l.lanes[l.ring.Get(key)] <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return ErrPoolStopped
	}

	select {
	case err := <-job.done:
		return err
	case <-l.stopped:
		// Enqueued after the lane drained its queue.
		select {
		case err := <-job.done:
			return err
		default:
			return ErrPoolStopped
		}
	}
}

// Stop finishes queued jobs and stops every lane.
func (l *Lanes) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
		close(l.stopped)
	})
	l.wg.Wait()
}
