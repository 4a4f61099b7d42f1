package subscription

import (
	"context"
	"fmt"
	"sync"
)

// Serializer runs jobs for the same key one at a time, in arrival order.
// Each key with pending work owns a mailbox drained by a dedicated goroutine;
// the goroutine exits once its mailbox is empty. Jobs for different keys run
// concurrently.
type Serializer struct {
	mu     sync.Mutex
	boxes  map[string]*mailbox
	buffer int
}

type mailbox struct {
	jobs    chan job
	pending int // queued plus running, guarded by Serializer.mu
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// NewSerializer creates a Serializer whose mailboxes hold up to buffer queued jobs
// before senders block.
func NewSerializer(buffer int) *Serializer {
	return &Serializer{
		boxes:  make(map[string]*mailbox),
		buffer: max(buffer, 1),
	}
}

// Do enqueues fn on key's mailbox and waits for its result.
// A job whose context is done before it starts is skipped with ctx.Err().
func (s *Serializer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	mb, ok := s.boxes[key]
	if !ok {
		mb = &mailbox{jobs: make(chan job, s.buffer)}
		s.boxes[key] = mb
		go s.drain(key, mb)
	}
	mb.pending++
	s.mu.Unlock()

	select {
	case mb.jobs <- j:
	case <-ctx.Done():
		s.mu.Lock()
		mb.pending--
		if mb.pending == 0 {
			delete(s.boxes, key)
			close(mb.jobs)
		}
		s.mu.Unlock()
		return ctx.Err()
	}

	return <-j.done
}

// Active returns the number of keys with queued or running work.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.boxes)
}

func (s *Serializer) drain(key string, mb *mailbox) {
	for j := range mb.jobs {
		j.done <- run(j)

		s.mu.Lock()
		mb.pending--
		if mb.pending == 0 {
			delete(s.boxes, key)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func run(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in serialized job: %v", r)
		}
	}()
	return j.fn(j.ctx)
}
