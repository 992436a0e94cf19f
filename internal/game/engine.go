package game

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quizrush/backend/internal/answers"
	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/events"
	"github.com/quizrush/backend/internal/models"
	"github.com/quizrush/backend/internal/outbound"
	"github.com/quizrush/backend/internal/whatsapp"
)

// Outbox is the outbound queue surface the engine enqueues to.
// *outbound.Queue satisfies it.
type Outbox interface {
	EnqueueText(to, body string, prio outbound.Priority)
	EnqueueButtons(to, body string, buttons []whatsapp.Button, prio outbound.Priority)
}

// Engine runs active games. All state transitions for a game happen on its
// event-bus mailbox goroutine; the inbound answer path only touches shared
// state through the StateStore and the answer store's conditional write.
type Engine struct {
	repo  Repository
	store *StateStore
	as    *answers.Store
	out   Outbox
	bus   *events.Bus
	cfg   *config.Config

	now         func() time.Time
	evalBackoff time.Duration
}

func NewEngine(repo Repository, store *StateStore, as *answers.Store, out Outbox, bus *events.Bus, cfg *config.Config) *Engine {
	e := &Engine{
		repo:        repo,
		store:       store,
		as:          as,
		out:         out,
		bus:         bus,
		cfg:         cfg,
		now:         time.Now,
		evalBackoff: 250 * time.Millisecond,
	}
	bus.Subscribe(e.handleEvent)
	bus.OnPanic(e.handlePanic)
	return e
}

func (e *Engine) handleEvent(evt events.Event) {
	switch evt.Kind {
	case events.GameStart:
		e.onGameStart(evt.GameID)
	case events.NextQuestion:
		e.onNextQuestion(evt.GameID, evt.QuestionIndex)
	case events.QuestionTimeout:
		e.onQuestionTimeout(evt.GameID, evt.QuestionIndex)
	case events.GameEnd:
		e.onGameEnd(evt.GameID, evt.Reason)
	default:
		log.Printf("[ENGINE] Ignoring unknown event kind %q for game %s", evt.Kind, evt.GameID)
	}
}

// handlePanic runs after a recovered handler panic. The game is cancelled
// rather than left in an undefined phase.
func (e *Engine) handlePanic(gameID uuid.UUID, evt events.Event, _ interface{}) {
	if evt.Kind == events.GameEnd {
		// Ending already blew up once; force cleanup without replaying it
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.repo.CancelGame(ctx, gameID); err != nil {
			log.Printf("[ENGINE] Game %s: failed to persist cancellation after panic: %v", gameID, err)
		}
		e.store.Remove(gameID)
		e.bus.Release(gameID)
		return
	}
	if e.store.Contains(gameID) {
		log.Printf("[ENGINE] Game %s: cancelling after handler panic on %s", gameID, evt.Kind)
		e.bus.PublishUrgent(events.Event{Kind: events.GameEnd, GameID: gameID, Reason: "cancelled"})
	}
}

func (e *Engine) onGameStart(gameID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.store.Contains(gameID) {
		log.Printf("[ENGINE] Game %s already running, ignoring duplicate start", gameID)
		return
	}

	game, err := e.repo.GameByID(ctx, gameID)
	if err != nil {
		log.Printf("[ENGINE] Game %s: failed to load: %v", gameID, err)
		return
	}
	if game.Status != models.GamePreGame {
		log.Printf("[ENGINE] Game %s is %s, not pre_game, ignoring start", gameID, game.Status)
		return
	}

	questions, err := e.repo.QuestionsByGame(ctx, gameID)
	if err != nil {
		log.Printf("[ENGINE] Game %s: failed to load questions: %v", gameID, err)
		return
	}
	players, err := e.repo.PlayersByGame(ctx, gameID)
	if err != nil {
		log.Printf("[ENGINE] Game %s: failed to load players: %v", gameID, err)
		return
	}

	if len(questions) == 0 || len(players) == 0 {
		log.Printf("[ENGINE] Game %s has %d questions and %d players, cancelling", gameID, len(questions), len(players))
		if err := e.repo.CancelGame(ctx, gameID); err != nil {
			log.Printf("[ENGINE] Game %s: failed to cancel: %v", gameID, err)
		}
		for _, p := range players {
			e.out.EnqueueText(p.WaID, apologyBody(), outbound.High)
		}
		return
	}

	if err := e.repo.ActivateGame(ctx, gameID); err != nil {
		log.Printf("[ENGINE] Game %s: activation failed: %v", gameID, err)
		return
	}

	gs := &GameState{
		ID:             gameID,
		PrizePool:      game.PrizePool,
		TotalQuestions: len(questions),
		Current:        -1,
		Phase:          PhaseIdle,
		Questions:      questions,
		Players:        make(map[uuid.UUID]*PlayerState, len(players)),
	}
	recipients := make([]string, 0, len(players))
	for _, p := range players {
		status := p.Status
		if status == models.PlayerRegistered {
			status = models.PlayerAlive
		}
		gs.Players[p.UserID] = &PlayerState{
			UserID:       p.UserID,
			WaID:         p.WaID,
			Status:       status,
			EliminatedAt: -1,
			CorrectCount: p.CorrectCount,
			TotalCount:   p.TotalCount,
		}
		if status == models.PlayerAlive {
			recipients = append(recipients, p.WaID)
		}
	}
	e.store.Register(gs)
	log.Printf("[ENGINE] Game %s starting: %d players, %d questions, pool $%.2f",
		gameID, len(players), len(questions), game.PrizePool)

	for _, to := range recipients {
		e.out.EnqueueText(to, gameStartingBody(), outbound.High)
	}
	e.bus.PublishAfter(e.preRoll(), events.Event{Kind: events.NextQuestion, GameID: gameID, QuestionIndex: 0})
}

func (e *Engine) onGameEnd(gameID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if reason == "cancelled" {
		if e.store.Contains(gameID) {
			e.endCancelled(ctx, gameID)
		}
		return
	}
	e.endFinished(ctx, gameID)
}

type finalNotice struct {
	waID          string
	won           bool
	undeliverable bool
}

func (e *Engine) endFinished(ctx context.Context, gameID uuid.UUID) {
	var (
		pool        float64
		winnerCount int
		notices     []finalNotice
		rows        []models.GamePlayer
	)
	ok := e.store.Update(gameID, func(gs *GameState) {
		pool = gs.PrizePool
		if gs.timer != nil {
			gs.timer.Stop()
			gs.timer = nil
		}
		gs.Phase = PhaseClosed
		for _, p := range gs.Players {
			if p.Status == models.PlayerAlive {
				p.Status = models.PlayerWinner
				winnerCount++
			}
			notices = append(notices, finalNotice{
				waID:          p.WaID,
				won:           p.Status == models.PlayerWinner,
				undeliverable: p.Undeliverable,
			})
			rows = append(rows, e.playerRow(gameID, p))
		}
	})
	if !ok {
		return
	}
	each := SplitPrize(pool, winnerCount)

	if err := e.repo.FinishGame(ctx, gameID, winnerCount); err != nil {
		log.Printf("[ENGINE] Game %s: failed to persist finish: %v", gameID, err)
	}
	if err := e.repo.MarkWinners(ctx, gameID); err != nil {
		log.Printf("[ENGINE] Game %s: failed to persist winners: %v", gameID, err)
	}
	if err := e.repo.SavePlayerResults(ctx, rows); err != nil {
		log.Printf("[ENGINE] Game %s: failed to persist final player rows: %v", gameID, err)
	}

	for _, n := range notices {
		if n.undeliverable {
			continue
		}
		var body string
		switch {
		case winnerCount == 0:
			body = noWinnerBody()
		case winnerCount == 1 && n.won:
			body = winnerSingleBody(pool)
		case winnerCount == 1:
			body = spectatorSingleBody(pool)
		case n.won:
			body = winnerManyBody(winnerCount, pool, each)
		default:
			body = spectatorManyBody(winnerCount, pool, each)
		}
		e.out.EnqueueText(n.waID, body, outbound.Normal)
	}

	e.cleanup(ctx, gameID)
	log.Printf("[ENGINE] Game %s finished: %d winner(s), $%.2f each", gameID, winnerCount, each)
}

func (e *Engine) endCancelled(ctx context.Context, gameID uuid.UUID) {
	var recipients []string
	e.store.Update(gameID, func(gs *GameState) {
		if gs.timer != nil {
			gs.timer.Stop()
			gs.timer = nil
		}
		gs.Phase = PhaseClosed
		for _, p := range gs.Players {
			if !p.Undeliverable {
				recipients = append(recipients, p.WaID)
			}
		}
	})

	for _, to := range recipients {
		e.out.EnqueueText(to, apologyBody(), outbound.High)
	}
	if err := e.repo.CancelGame(ctx, gameID); err != nil {
		log.Printf("[ENGINE] Game %s: failed to persist cancellation: %v", gameID, err)
	}
	e.cleanup(ctx, gameID)
	log.Printf("[ENGINE] Game %s cancelled", gameID)
}

func (e *Engine) cleanup(ctx context.Context, gameID uuid.UUID) {
	if err := e.as.Clear(ctx, gameID); err != nil {
		log.Printf("[ENGINE] Game %s: failed to clear answers: %v", gameID, err)
	}
	e.store.Remove(gameID)
	e.bus.Release(gameID)
}

// EmergencyEnd requests immediate cancellation from the admin surface. The
// event jumps the game's mailbox so it is honored at the next poll.
func (e *Engine) EmergencyEnd(gameID uuid.UUID) bool {
	if !e.store.Contains(gameID) {
		return false
	}
	e.bus.PublishUrgent(events.Event{Kind: events.GameEnd, GameID: gameID, Reason: "cancelled"})
	return true
}

// MarkUndeliverable records that the transport permanently rejected sends to
// a handle. The player stays in the game but stops receiving messages.
func (e *Engine) MarkUndeliverable(waID string) {
	gameID, userID, ok := e.store.ActiveGameFor(waID)
	if !ok {
		return
	}
	e.store.Update(gameID, func(gs *GameState) {
		if p := gs.Players[userID]; p != nil {
			p.Undeliverable = true
		}
	})
	log.Printf("[ENGINE] Marked %s undeliverable in game %s", waID, gameID)
}

func (e *Engine) playerRow(gameID uuid.UUID, p *PlayerState) models.GamePlayer {
	row := models.GamePlayer{
		GameID:       gameID,
		UserID:       p.UserID,
		WaID:         p.WaID,
		Status:       p.Status,
		CorrectCount: p.CorrectCount,
		TotalCount:   p.TotalCount,
	}
	if p.EliminatedAt >= 0 {
		row.EliminatedAtQuestion = sql.NullInt64{Int64: int64(p.EliminatedAt), Valid: true}
	}
	return row
}

func (e *Engine) nowMs() int64 {
	return e.now().UnixMilli()
}

func (e *Engine) grace() time.Duration {
	return time.Duration(e.cfg.GraceMs) * time.Millisecond
}

func (e *Engine) preRoll() time.Duration {
	return time.Duration(e.cfg.PreRollMs) * time.Millisecond
}

func (e *Engine) interQuestion() time.Duration {
	return time.Duration(e.cfg.InterQuestionMs) * time.Millisecond
}
