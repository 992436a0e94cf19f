package webhook

import (
	"context"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quizrush/backend/internal/game"
	"github.com/quizrush/backend/internal/models"
	"github.com/quizrush/backend/internal/outbound"
	"github.com/quizrush/backend/internal/whatsapp"
)

// idempotencyCacheSize bounds the duplicate-webhook window.
const idempotencyCacheSize = 10000

// AnswerSink receives answer intents. *game.Engine satisfies it; the return
// value reports whether the handle was in an active game.
type AnswerSink interface {
	HandleAnswer(ctx context.Context, waID, text string) bool
}

// JoinResult of a join intent.
type JoinResult int

const (
	Joined JoinResult = iota
	AlreadyJoined
	NoUpcoming
)

// Directory resolves and mutates users and game membership.
type Directory interface {
	// EnsureUser creates the user on first contact and bumps activity on
	// every subsequent one.
	EnsureUser(ctx context.Context, waID, displayName string) (*models.User, error)
	// JoinUpcoming registers the user for the next scheduled game.
	JoinUpcoming(ctx context.Context, user *models.User) (*models.Game, JoinResult, error)
}

// Dispatcher translates inbound transport events into domain intents. The
// HTTP layer ACKs the transport first and calls Dispatch asynchronously.
type Dispatcher struct {
	dir    Directory
	engine AnswerSink
	out    game.Outbox
	seen   *lru.Cache[string, struct{}]
}

func NewDispatcher(dir Directory, engine AnswerSink, out game.Outbox) *Dispatcher {
	cache, _ := lru.New[string, struct{}](idempotencyCacheSize)
	return &Dispatcher{dir: dir, engine: engine, out: out, seen: cache}
}

// Dispatch processes every message in a webhook envelope.
func (d *Dispatcher) Dispatch(env *whatsapp.WebhookEnvelope) {
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			names := contactNames(change.Value.Contacts)
			for i := range change.Value.Messages {
				d.process(&change.Value.Messages[i], names)
			}
		}
	}
}

func contactNames(contacts []whatsapp.InboundContact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		names[c.WaID] = c.Profile.Name
	}
	return names
}

func (d *Dispatcher) process(msg *whatsapp.InboundMessage, names map[string]string) {
	if msg.From == "" {
		return
	}
	if msg.ID != "" {
		if dup, _ := d.seen.ContainsOrAdd(msg.ID, struct{}{}); dup {
			log.Printf("[WEBHOOK] Duplicate message %s from %s, skipping", msg.ID, msg.From)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := d.dir.EnsureUser(ctx, msg.From, names[msg.From])
	if err != nil {
		log.Printf("[WEBHOOK] Failed to resolve user %s: %v", msg.From, err)
		return
	}

	text := msg.Body()
	switch game.Normalize(text) {
	case "join", "play":
		d.handleJoin(ctx, user)
	case "help", "info", "rules":
		d.out.EnqueueText(user.WaID, helpBody(), outbound.Low)
	case "":
		// Media or empty message; nothing to act on
	default:
		if !d.engine.HandleAnswer(ctx, user.WaID, text) {
			d.out.EnqueueText(user.WaID, noGameBody(), outbound.Low)
		}
	}
}

func (d *Dispatcher) handleJoin(ctx context.Context, user *models.User) {
	upcoming, result, err := d.dir.JoinUpcoming(ctx, user)
	if err != nil {
		log.Printf("[WEBHOOK] Join failed for %s: %v", user.WaID, err)
		d.out.EnqueueText(user.WaID, joinFailedBody(), outbound.Low)
		return
	}

	switch result {
	case Joined:
		log.Printf("[WEBHOOK] User %s joined game %s", user.WaID, upcoming.ID)
		d.out.EnqueueText(user.WaID, joinedBody(upcoming.StartAt, upcoming.PrizePool), outbound.Normal)
	case AlreadyJoined:
		d.out.EnqueueText(user.WaID, alreadyJoinedBody(upcoming.StartAt), outbound.Low)
	case NoUpcoming:
		d.out.EnqueueText(user.WaID, noUpcomingBody(), outbound.Low)
	}
}

func helpBody() string {
	return "ℹ️ QuizRush: live sudden-death trivia on WhatsApp.\n\n" +
		"Send JOIN to enter the next game. When a question arrives, tap one of the buttons before the timer runs out. " +
		"A wrong, late or missing answer knocks you out; the last players standing split the prize pool."
}

func noGameBody() string {
	return "There's no game running right now. Send JOIN to enter the next one!"
}

func joinedBody(startAt time.Time, pool float64) string {
	return fmt.Sprintf("🎟️ You're in! The game starts at %s.\n\n💰 Prize pool: $%.2f\n\nKeep this chat open, questions arrive here.",
		startAt.Format("15:04 MST, Jan 2"), pool)
}

func alreadyJoinedBody(startAt time.Time) string {
	return fmt.Sprintf("You're already in! The game starts at %s.", startAt.Format("15:04 MST, Jan 2"))
}

func noUpcomingBody() string {
	return "No game is open for registration right now. Watch this space for the next announcement!"
}

func joinFailedBody() string {
	return "⚠️ We couldn't register you just now. Please try again in a moment."
}
