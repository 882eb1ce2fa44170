package routing

import (
	"context"
	"sync"
)

// Serializer guarantees at most one in-flight task per key. Tasks submitted
// for a busy key queue in arrival order; tasks for different keys run
// independently. A failing task never poisons its queue, and a key's state is
// released once its queue drains, so long-lived but idle sessions cost no
// memory.
//
// This is the mechanism behind the gateway's core invariant: at most one
// agent turn executes concurrently per session, because turns mutate shared
// transcript state and must observe a consistent history.
type Serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{} // key → done channel of the last queued task
}

// NewSerializer creates an empty serializer.
func NewSerializer() *Serializer {
	return &Serializer{tails: make(map[string]chan struct{})}
}

// Do runs task once all previously submitted tasks for key have finished.
// The task's error (or panic-free result) propagates only to this caller.
// If ctx is cancelled while waiting in the queue, Do returns ctx.Err()
// without running task and releases the queue slot so later tasks proceed.
func (s *Serializer) Do(ctx context.Context, key string, task func(ctx context.Context) error) error {
	slot := s.Reserve(key)
	defer slot.Release()

	if err := slot.Wait(ctx); err != nil {
		return err
	}
	return task(ctx)
}

// Slot is a reserved position in a key's queue. Reserve returns immediately;
// Wait blocks until every earlier slot for the key has been released.
// Release MUST be called exactly once, whether or not Wait succeeded.
type Slot struct {
	s      *Serializer
	key    string
	prev   chan struct{}
	done   chan struct{}
	atHead bool
}

// Reserve takes the next queue position for key. Because reservation is
// synchronous, callers that reserve in dispatch order get FIFO execution
// even when they wait and run on separate goroutines.
func (s *Serializer) Reserve(key string) *Slot {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[key]
	s.tails[key] = done
	s.mu.Unlock()

	return &Slot{s: s, key: key, prev: prev, done: done}
}

// Wait blocks until the slot is at the head of its queue or ctx is done.
func (l *Slot) Wait(ctx context.Context) error {
	if l.prev != nil {
		select {
		case <-l.prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.atHead = true
	return nil
}

// Release hands the queue to the next waiter and removes the key's entry
// once the queue drains. A slot abandoned before reaching the head must not
// signal its successor early: the waiter behind it only watches this slot's
// done channel, so closing it while the head task still runs would let two
// turns overlap. Such a slot forwards the dependency instead, closing done
// only after everything ahead of it has finished.
func (l *Slot) Release() {
	if l.atHead {
		close(l.done)
		l.s.drain(l.key, l.done)
		return
	}
	go func() {
		if l.prev != nil {
			<-l.prev
		}
		close(l.done)
		l.s.drain(l.key, l.done)
	}()
}

// drain removes the key's entry when done is still the tail, i.e. the queue
// has no later reservation.
func (s *Serializer) drain(key string, done chan struct{}) {
	s.mu.Lock()
	if s.tails[key] == done {
		delete(s.tails, key)
	}
	s.mu.Unlock()
}

// Pending reports how many keys currently have running or queued tasks.
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
