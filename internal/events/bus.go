package events

import (
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a game lifecycle event.
type Kind string

const (
	GameStart       Kind = "game_start"
	NextQuestion    Kind = "next_question"
	QuestionTimeout Kind = "question_timeout"
	GameEnd         Kind = "game_end"
)

// Event is one typed message on a game's mailbox.
type Event struct {
	Kind          Kind
	GameID        uuid.UUID
	QuestionIndex int
	Winners       []uuid.UUID // GameEnd only
	Reason        string      // GameEnd only: "finished" or "cancelled"
}

// Handler processes one event. Handlers for the same game are never invoked
// concurrently; the bus serializes delivery per game id.
type Handler func(evt Event)

// PanicHandler is invoked after a handler panic has been recovered, outside
// the mailbox goroutine's normal delivery path.
type PanicHandler func(gameID uuid.UUID, evt Event, recovered interface{})

// Bus delivers events to a single registered handler, FIFO per game. Each
// active game owns one mailbox drained by one goroutine; publishers never
// block on handler work.
type Bus struct {
	mu        sync.Mutex
	handler   Handler
	onPanic   PanicHandler
	mailboxes map[uuid.UUID]*mailbox
}

type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{mailboxes: make(map[uuid.UUID]*mailbox)}
}

// Subscribe registers the single event handler. Must be called before the
// first Publish.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// OnPanic registers the recovery callback.
func (b *Bus) OnPanic(h PanicHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPanic = h
}

// Publish appends evt to its game's mailbox, creating the mailbox (and its
// drain goroutine) on first use.
func (b *Bus) Publish(evt Event) {
	b.enqueue(evt, false)
}

// PublishUrgent prepends evt so it is observed at the game's next mailbox
// poll, ahead of any queued work. Used for admin emergency end.
func (b *Bus) PublishUrgent(evt Event) {
	b.enqueue(evt, true)
}

// PublishAfter publishes evt after the given delay. The timer can be stopped
// via the returned handle.
func (b *Bus) PublishAfter(d time.Duration, evt Event) *time.Timer {
	return time.AfterFunc(d, func() { b.Publish(evt) })
}

// Release closes a game's mailbox once its queue drains. A stray event
// published after Release (a late timer, a duplicate webhook) starts a fresh
// mailbox; the handler is expected to ignore games it no longer tracks.
func (b *Bus) Release(gameID uuid.UUID) {
	b.mu.Lock()
	mb, ok := b.mailboxes[gameID]
	if ok {
		delete(b.mailboxes, gameID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	mb.mu.Lock()
	mb.closed = true
	mb.cond.Signal()
	mb.mu.Unlock()
}

func (b *Bus) enqueue(evt Event, urgent bool) {
	b.mu.Lock()
	if b.handler == nil {
		b.mu.Unlock()
		log.Printf("[BUS] Dropping %s for game %s: no handler registered", evt.Kind, evt.GameID)
		return
	}
	mb, ok := b.mailboxes[evt.GameID]
	if !ok {
		mb = &mailbox{}
		mb.cond = sync.NewCond(&mb.mu)
		b.mailboxes[evt.GameID] = mb
		go b.drain(evt.GameID, mb)
	}
	b.mu.Unlock()

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		log.Printf("[BUS] Dropping %s for released game %s", evt.Kind, evt.GameID)
		return
	}
	if urgent {
		mb.queue = append([]Event{evt}, mb.queue...)
	} else {
		mb.queue = append(mb.queue, evt)
	}
	mb.cond.Signal()
}

// drain is the per-game single writer: it pops events one at a time and runs
// the handler, so all state transitions for a game happen on this goroutine.
func (b *Bus) drain(gameID uuid.UUID, mb *mailbox) {
	for {
		mb.mu.Lock()
		for len(mb.queue) == 0 && !mb.closed {
			mb.cond.Wait()
		}
		if len(mb.queue) == 0 && mb.closed {
			mb.mu.Unlock()
			return
		}
		evt := mb.queue[0]
		mb.queue = mb.queue[1:]
		mb.mu.Unlock()

		b.deliver(gameID, evt)
	}
}

func (b *Bus) deliver(gameID uuid.UUID, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BUS] PANIC in handler for game %s event %s: %v\n%s", gameID, evt.Kind, r, debug.Stack())
			b.mu.Lock()
			onPanic := b.onPanic
			b.mu.Unlock()
			if onPanic != nil {
				onPanic(gameID, evt, r)
			}
		}
	}()

	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(evt)
}
