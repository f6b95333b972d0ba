package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoSubscribers = errors.New("no subscribers")
	ErrQueueFull     = errors.New("subscriber buffer full")
	ErrClosed        = errors.New("queue closed")
)

// Handler processes one message. A returned error triggers a retry.
type Handler func(payload []byte) error

// Queue interface
type Queue interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

const (
	defaultBuffer     = 256
	defaultMaxRetries = 3
)

// InMemoryQueue delivers each message to every subscriber of a topic. Each
// subscriber has its own worker, so messages reach it in publish order.
type InMemoryQueue struct {
	mu      sync.Mutex
	subs    map[string][]*subscriber
	closed  bool
	wg      sync.WaitGroup
	buffer  int
	retries int
	backoff time.Duration
}

type subscriber struct {
	topic   string
	handler Handler
	jobs    chan []byte
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		subs:    make(map[string][]*subscriber),
		buffer:  defaultBuffer,
		retries: defaultMaxRetries,
		backoff: 500 * time.Millisecond,
	}
}

// WithBackoff sets the base delay between retries.
func (q *InMemoryQueue) WithBackoff(d time.Duration) *InMemoryQueue {
	q.backoff = d
	return q
}

// Publish hands a copy of payload to every subscriber without blocking.
func (q *InMemoryQueue) Publish(topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	subs := q.subs[topic]
	if len(subs) == 0 {
		return fmt.Errorf("%w for topic %s", ErrNoSubscribers, topic)
	}

	var dropped int
	for _, s := range subs {
		msg := append([]byte(nil), payload...)
		select {
		case s.jobs <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d subscribers on %s", ErrQueueFull, dropped, len(subs), topic)
	}
	return nil
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	s := &subscriber{topic: topic, handler: handler, jobs: make(chan []byte, q.buffer)}
	q.subs[topic] = append(q.subs[topic], s)

	q.wg.Add(1)
	go q.run(s)
	return nil
}

func (q *InMemoryQueue) run(s *subscriber) {
	defer q.wg.Done()
	for payload := range s.jobs {
		q.process(s, payload)
	}
}

// process handles retries and errors
func (q *InMemoryQueue) process(s *subscriber, payload []byte) {
	for attempt := 0; ; attempt++ {
		err := q.call(s.handler, payload)
		if err == nil {
			return // ACK
		}
		if attempt >= q.retries {
			log.Error().Err(err).Str("topic", s.topic).Int("attempts", attempt+1).Msg("Job permanently failed")
			return // No requeue
		}
		log.Warn().Err(err).Str("topic", s.topic).Int("attempt", attempt+1).Int("maxRetries", q.retries).Msg("Job failed, retrying")

		// Linear backoff before retry
		time.Sleep(time.Duration(attempt+1) * q.backoff)
	}
}

func (q *InMemoryQueue) call(h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(payload)
}

// Close stops accepting messages and waits for buffered ones to drain.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, subs := range q.subs {
		for _, s := range subs {
			close(s.jobs)
		}
	}
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
