// Package writeserializer guarantees a single concurrent writer per socket
// without dedicating an OS thread to every session: a bounded per-session
// FIFO queue plus an atomic work-in-progress counter drives a shared
// worker-pool drain task.
package writeserializer

import (
	"sync"
	"sync/atomic"

	"github.com/chatfabric/chatfabric/internal/metrics"
)

// Writer is the minimal surface a session must expose to be drained by the
// serializer. Open reports whether the socket is still eligible for writes;
// WriteFrame performs the actual (non-reentrant) socket write.
type Writer interface {
	ID() string
	Open() bool
	WriteFrame(frame []byte) error
	Unregister()
}

type sessionQueue struct {
	q chan []byte
	w int32 // atomic work-in-progress counter
}

// Serializer owns a bounded FIFO per session and a shared worker pool that
// drains them. At most one worker drains a given session at any time.
type Serializer struct {
	tasks         chan func()
	stop          chan struct{}
	wg            sync.WaitGroup
	queueCapacity int

	mu     sync.RWMutex
	queues map[string]*sessionQueue
}

// New creates a Serializer backed by a worker pool of the given size and a
// per-session queue capacity (spec default 1000).
func New(workerThreads, queueCapacity int) *Serializer {
	s := &Serializer{
		tasks:         make(chan func(), workerThreads*4),
		stop:          make(chan struct{}),
		queueCapacity: queueCapacity,
		queues:        make(map[string]*sessionQueue),
	}

	for i := 0; i < workerThreads; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}

	return s
}

func (s *Serializer) runWorker() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.stop:
			return
		}
	}
}

// Release stops accepting new drain tasks and waits for in-flight ones to
// finish. Any frames still sitting in per-session queues are discarded.
func (s *Serializer) Release() {
	close(s.stop)
	s.wg.Wait()
}

// Send offers frame onto the session's queue. If the session is not open,
// or the queue is full, the frame is dropped and counted; otherwise it is
// enqueued and, if no drain task is currently running for this session, one
// is submitted to the shared pool.
func (s *Serializer) Send(w Writer, frame []byte) {
	if !w.Open() {
		metrics.WriteSerializerDropped.Inc()
		return
	}

	sq := s.queueFor(w.ID())

	select {
	case sq.q <- frame:
		metrics.WriteSerializerQueued.Inc()
	default:
		metrics.WriteSerializerDropped.Inc()
		return
	}

	if atomic.AddInt32(&sq.w, 1) == 1 {
		task := func() { s.drain(w, sq) }
		select {
		case s.tasks <- task:
		default:
			// pool saturated; run inline rather than lose the single-writer guarantee
			task()
		}
	}
}

func (s *Serializer) queueFor(id string) *sessionQueue {
	s.mu.RLock()
	sq, ok := s.queues[id]
	s.mu.RUnlock()
	if ok {
		return sq
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sq, ok := s.queues[id]; ok {
		return sq
	}
	sq = &sessionQueue{q: make(chan []byte, s.queueCapacity)}
	s.queues[id] = sq
	return sq
}

// drain implements the fetch-and-increment drain-task protocol: it is the
// sole writer for this session for as long as it runs, and exits only once
// it has consumed exactly the amount of work it observed being added.
func (s *Serializer) drain(w Writer, sq *sessionQueue) {
	missed := int32(1)
	metrics.WriteSerializerActiveWriters.Inc()
	defer metrics.WriteSerializerActiveWriters.Dec()

	for {
	drainLoop:
		for {
			select {
			case frame := <-sq.q:
				if !w.Open() {
					s.unregister(w)
					return
				}
				if err := w.WriteFrame(frame); err != nil {
					metrics.WriteSerializerErrors.Inc()
					s.unregister(w)
					return
				}
				metrics.WriteSerializerSent.Inc()
			default:
				break drainLoop
			}
		}

		missed = atomic.AddInt32(&sq.w, -missed)
		if missed == 0 {
			return
		}
	}
}

func (s *Serializer) unregister(w Writer) {
	s.mu.Lock()
	delete(s.queues, w.ID())
	s.mu.Unlock()
	w.Unregister()
}
