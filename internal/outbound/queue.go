package outbound

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/quizrush/backend/internal/breaker"
	"github.com/quizrush/backend/internal/whatsapp"
)

// Priority orders delivery within a worker. High is drained before normal,
// normal before low.
type Priority int

const (
	High Priority = iota
	Normal
	Low
)

// Request is one outbound message. Buttons non-nil means interactive.
type Request struct {
	Recipient string
	Body      string
	Buttons   []whatsapp.Button
	Priority  Priority
}

// Sender is the transport the queue delivers through. *whatsapp.Client
// satisfies it.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) (string, error)
}

const serviceName = "whatsapp"

// Queue fans messages out to the chat transport. Recipients are sharded onto
// workers by handle hash so messages to one recipient always flow through the
// same worker in enqueue order. Sends go through the circuit breaker; transient
// failures are retried with backoff, permanent failures are dropped.
type Queue struct {
	sender      Sender
	br          *breaker.Breaker
	shards      []*shard
	wg          sync.WaitGroup
	sendTimeout time.Duration
	retryMax    int
	backoffBase time.Duration

	mu          sync.Mutex
	onPermanent func(recipient string, err error)
}

type shard struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues [3][]Request // indexed by Priority
	closed bool
}

// Options tune a Queue. Zero values fall back to defaults.
type Options struct {
	Workers     int           // default 4
	RetryMax    int           // attempts per message (default 3)
	SendTimeout time.Duration // hard per-send timeout (default 10s)
	BackoffBase time.Duration // first retry delay, doubled per attempt (default 500ms)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 3
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	return o
}

// New starts the worker pool. Call Stop to drain and shut down.
func New(sender Sender, br *breaker.Breaker, opts Options) *Queue {
	opts = opts.withDefaults()

	q := &Queue{
		sender:      sender,
		br:          br,
		shards:      make([]*shard, opts.Workers),
		sendTimeout: opts.SendTimeout,
		retryMax:    opts.RetryMax,
		backoffBase: opts.BackoffBase,
	}
	for i := range q.shards {
		s := &shard{}
		s.cond = sync.NewCond(&s.mu)
		q.shards[i] = s
		q.wg.Add(1)
		go q.worker(s)
	}
	return q
}

// OnPermanentFailure registers a callback invoked when a message is dropped
// after a non-retryable transport error or retry exhaustion.
func (q *Queue) OnPermanentFailure(fn func(recipient string, err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onPermanent = fn
}

// EnqueueText queues a plain text message.
func (q *Queue) EnqueueText(to, body string, prio Priority) {
	q.enqueue(Request{Recipient: to, Body: body, Priority: prio})
}

// EnqueueButtons queues an interactive button message.
func (q *Queue) EnqueueButtons(to, body string, buttons []whatsapp.Button, prio Priority) {
	q.enqueue(Request{Recipient: to, Body: body, Buttons: buttons, Priority: prio})
}

func (q *Queue) enqueue(req Request) {
	s := q.shards[q.shardFor(req.Recipient)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		log.Printf("[OUTBOUND] Dropping message to %s: queue stopped", req.Recipient)
		return
	}
	s.queues[req.Priority] = append(s.queues[req.Priority], req)
	s.cond.Signal()
}

// Stop closes all shards and waits for in-flight deliveries to finish.
// Queued messages are delivered before workers exit.
func (q *Queue) Stop() {
	for _, s := range q.shards {
		s.mu.Lock()
		s.closed = true
		s.cond.Signal()
		s.mu.Unlock()
	}
	q.wg.Wait()
}

func (q *Queue) shardFor(recipient string) int {
	h := fnv.New32a()
	h.Write([]byte(recipient))
	return int(h.Sum32()) % len(q.shards)
}

func (q *Queue) worker(s *shard) {
	defer q.wg.Done()
	for {
		req, ok := s.pop()
		if !ok {
			return
		}
		q.deliver(req)
	}
}

// pop blocks until a request is available, preferring higher priorities.
func (s *shard) pop() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for p := range s.queues {
			if len(s.queues[p]) > 0 {
				req := s.queues[p][0]
				s.queues[p] = s.queues[p][1:]
				return req, true
			}
		}
		if s.closed {
			return Request{}, false
		}
		s.cond.Wait()
	}
}

// deliver sends one message, retrying transient failures with exponential
// backoff up to retryMax attempts.
func (q *Queue) deliver(req Request) {
	var err error
	for attempt := 1; attempt <= q.retryMax; attempt++ {
		err = q.sendOnce(req)
		if err == nil {
			return
		}
		if !errors.Is(err, breaker.ErrCircuitOpen) && !whatsapp.IsTransient(err) {
			log.Printf("[OUTBOUND] Permanent failure sending to %s: %v", req.Recipient, err)
			q.notifyPermanent(req.Recipient, err)
			return
		}
		if attempt < q.retryMax {
			time.Sleep(q.backoffBase << (attempt - 1))
		}
	}
	log.Printf("[OUTBOUND] Giving up on message to %s after %d attempts: %v", req.Recipient, q.retryMax, err)
	q.notifyPermanent(req.Recipient, err)
}

func (q *Queue) sendOnce(req Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.sendTimeout)
	defer cancel()

	return q.br.Execute(ctx, serviceName, func(ctx context.Context) error {
		var err error
		if req.Buttons != nil {
			_, err = q.sender.SendButtons(ctx, req.Recipient, req.Body, req.Buttons)
		} else {
			_, err = q.sender.SendText(ctx, req.Recipient, req.Body)
		}
		return err
	}, nil)
}

func (q *Queue) notifyPermanent(recipient string, err error) {
	q.mu.Lock()
	fn := q.onPermanent
	q.mu.Unlock()
	if fn != nil {
		fn(recipient, err)
	}
}
