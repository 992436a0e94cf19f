package game

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/quizrush/backend/internal/answers"
	"github.com/quizrush/backend/internal/events"
	"github.com/quizrush/backend/internal/models"
	"github.com/quizrush/backend/internal/outbound"
	"github.com/quizrush/backend/internal/whatsapp"
)

func (e *Engine) onNextQuestion(gameID uuid.UUID, index int) {
	var (
		question   models.Question
		recipients []string
		started    bool
	)
	found := e.store.Update(gameID, func(gs *GameState) {
		if index != gs.Current+1 || index >= len(gs.Questions) {
			log.Printf("[ENGINE] Game %s: ignoring out-of-order question %d (current %d)", gameID, index, gs.Current)
			return
		}
		question = gs.Questions[index]
		gs.Current = index
		gs.Phase = PhaseAccepting
		gs.QuestionStartAtMs = e.nowMs()
		gs.lockNotified = make(map[uuid.UUID]bool)

		for _, p := range gs.Players {
			if p.Status == models.PlayerAlive && !p.Undeliverable {
				recipients = append(recipients, p.WaID)
			}
		}

		limit := question.TimeLimitMs
		if limit <= 0 {
			limit = e.cfg.QuestionTimeLimitMs
		}
		gs.timer = e.bus.PublishAfter(
			time.Duration(limit)*time.Millisecond+e.grace(),
			events.Event{Kind: events.QuestionTimeout, GameID: gameID, QuestionIndex: index})
		started = true
	})
	if !found || !started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.repo.SetCurrentQuestion(ctx, gameID, index); err != nil {
		log.Printf("[ENGINE] Game %s: failed to persist question index %d: %v", gameID, index, err)
	}

	body := questionBody(index+1, question.Text)
	buttons := buildButtons(&question)
	for _, to := range recipients {
		e.out.EnqueueButtons(to, body, buttons, outbound.High)
	}
	log.Printf("[ENGINE] Game %s: question %d sent to %d players", gameID, index+1, len(recipients))
}

// buildButtons picks the correct option plus two random distractors and
// shuffles them. Button ids are stable btn_1..btn_3 in display order.
func buildButtons(q *models.Question) []whatsapp.Button {
	others := make([]string, 0, 3)
	correctNorm := Normalize(q.CorrectAnswer)
	for _, opt := range q.Options() {
		if opt != "" && Normalize(opt) != correctNorm {
			others = append(others, opt)
		}
	}
	rand.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
	if len(others) > 2 {
		others = others[:2]
	}

	titles := append([]string{q.CorrectAnswer}, others...)
	rand.Shuffle(len(titles), func(i, j int) { titles[i], titles[j] = titles[j], titles[i] })

	buttons := make([]whatsapp.Button, len(titles))
	for i, title := range titles {
		buttons[i] = whatsapp.Button{ID: fmt.Sprintf("btn_%d", i+1), Title: title}
	}
	return buttons
}

// HandleAnswer records an inbound answer. It runs on the webhook pool, not
// on the game's mailbox goroutine; uniqueness is enforced by the answer
// store's conditional write, not by serialization here. Returns false when
// the handle is not in any active game, in which case the caller owns the
// reply.
func (e *Engine) HandleAnswer(ctx context.Context, waID, text string) bool {
	gameID, userID, ok := e.store.ActiveGameFor(waID)
	if !ok {
		return false
	}

	var (
		index      int
		startAtMs  int64
		limit      int
		alive      bool
		accepting  bool
		notifyLock bool
	)
	e.store.Update(gameID, func(gs *GameState) {
		index = gs.Current
		startAtMs = gs.QuestionStartAtMs
		accepting = gs.Phase == PhaseAccepting
		if index >= 0 && index < len(gs.Questions) {
			limit = gs.Questions[index].TimeLimitMs
		}
		p := gs.Players[userID]
		alive = p != nil && p.Status == models.PlayerAlive
		if !alive && !gs.lockNotified[userID] {
			gs.lockNotified[userID] = true
			notifyLock = true
		}
	})
	if limit <= 0 {
		limit = e.cfg.QuestionTimeLimitMs
	}

	if !alive {
		// Tell an eliminated player once per question, then go quiet
		if notifyLock {
			e.out.EnqueueText(waID, eliminatedLockedBody(), outbound.Normal)
		}
		return true
	}
	if !accepting {
		e.out.EnqueueText(waID, betweenQuestionsBody(), outbound.Normal)
		return true
	}

	// Stored verbatim; comparison normalizes at evaluation time and the
	// durable copy keeps what the player actually sent
	rec := answers.Record{
		AnswerText:            text,
		SubmittedAtUnixMs:     e.nowMs(),
		QuestionStartAtUnixMs: startAtMs,
		TimeLimitMs:           limit,
	}
	outcome, _, err := e.as.Put(ctx, gameID, index, userID, rec)
	if err != nil {
		log.Printf("[ENGINE] Game %s: answer store write failed for %s: %v", gameID, waID, err)
		e.out.EnqueueText(waID, tryAgainBody(), outbound.Normal)
		return true
	}
	if outcome == answers.Duplicate {
		e.out.EnqueueText(waID, answerLockedBody(), outbound.Normal)
		return true
	}
	e.out.EnqueueText(waID, answerReceivedBody(), outbound.Normal)

	// Early-complete: when every alive player has answered, cancel the timer
	// and evaluate immediately. Stop() returning true guarantees exactly one
	// path wins against the scheduled timeout.
	count, err := e.as.Count(ctx, gameID, index)
	if err != nil {
		return true
	}
	e.store.Update(gameID, func(gs *GameState) {
		if gs.Phase != PhaseAccepting || gs.Current != index {
			return
		}
		if count >= gs.AliveCount() && gs.timer != nil && gs.timer.Stop() {
			gs.timer = nil
			e.bus.Publish(events.Event{Kind: events.QuestionTimeout, GameID: gameID, QuestionIndex: index})
		}
	})
	return true
}

func (e *Engine) onQuestionTimeout(gameID uuid.UUID, index int) {
	proceed := false
	e.store.Update(gameID, func(gs *GameState) {
		if gs.Phase != PhaseAccepting || gs.Current != index {
			return
		}
		if gs.timer != nil {
			gs.timer.Stop()
			gs.timer = nil
		}
		gs.Phase = PhaseEvaluating
		proceed = true
	})
	if !proceed {
		return
	}
	e.evaluate(gameID, index)
}

// playerResult is one alive player's outcome for a question.
type playerResult struct {
	userID        uuid.UUID
	waID          string
	undeliverable bool
	hasRecord     bool
	onTime        bool
	correct       bool
	survived      bool
	rec           answers.Record
}

func (e *Engine) evaluate(gameID uuid.UUID, index int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recs, err := e.answersWithRetry(ctx, gameID, index)
	if err != nil {
		log.Printf("[ENGINE] Game %s: answer store unavailable evaluating question %d: %v", gameID, index, err)
		e.endCancelled(ctx, gameID)
		return
	}

	var (
		question models.Question
		results  []playerResult
		rows     []models.GamePlayer
	)
	found := e.store.Update(gameID, func(gs *GameState) {
		question = gs.Questions[index]
		correctNorm := Normalize(question.CorrectAnswer)
		for _, p := range gs.Players {
			if p.Status != models.PlayerAlive {
				continue
			}
			rec, has := recs[p.UserID]
			r := playerResult{
				userID:        p.UserID,
				waID:          p.WaID,
				undeliverable: p.Undeliverable,
				hasRecord:     has,
				rec:           rec,
			}
			if has {
				r.onTime = rec.SubmittedAtUnixMs-rec.QuestionStartAtUnixMs <= int64(rec.TimeLimitMs)+int64(e.cfg.GraceMs)
				r.correct = Normalize(rec.AnswerText) == correctNorm
			}
			r.survived = has && r.onTime && r.correct

			p.TotalCount++
			if r.survived {
				p.CorrectCount++
			} else {
				p.Status = models.PlayerEliminated
				p.EliminatedAt = index
			}
			results = append(results, r)
			rows = append(rows, e.playerRow(gameID, p))
		}
	})
	if !found {
		return
	}

	// Write evaluations back so duplicate webhooks after this point cannot
	// race a fresh record; same TTL, best-effort.
	for _, r := range results {
		if !r.hasRecord {
			continue
		}
		if err := e.as.UpdateEvaluated(ctx, gameID, index, r.userID, r.onTime, r.correct); err != nil {
			log.Printf("[ENGINE] Game %s: failed to mark answer evaluated for %s: %v", gameID, r.userID, err)
		}
	}

	if err := e.repo.SavePlayerResults(ctx, rows); err != nil {
		log.Printf("[ENGINE] Game %s: failed to persist player results: %v", gameID, err)
	}
	if err := e.repo.InsertPlayerAnswers(ctx, e.durableRows(gameID, question, index, results)); err != nil {
		log.Printf("[ENGINE] Game %s: failed to persist answer rows: %v", gameID, err)
	}

	for _, r := range results {
		if r.undeliverable {
			continue
		}
		if r.survived {
			e.out.EnqueueText(r.waID, surviveBody(question.CorrectAnswer), outbound.Normal)
		} else {
			e.out.EnqueueText(r.waID, eliminatedBody(question.CorrectAnswer), outbound.Normal)
		}
	}

	var (
		aliveCount int
		total      int
		winners    []uuid.UUID
	)
	e.store.Update(gameID, func(gs *GameState) {
		gs.Phase = PhaseClosed
		total = gs.TotalQuestions
		for _, p := range gs.Players {
			if p.Status == models.PlayerAlive {
				aliveCount++
				winners = append(winners, p.UserID)
			}
		}
	})

	if aliveCount <= 1 || index+1 >= total {
		e.bus.Publish(events.Event{Kind: events.GameEnd, GameID: gameID, Winners: winners, Reason: "finished"})
		return
	}
	e.bus.PublishAfter(e.interQuestion(),
		events.Event{Kind: events.NextQuestion, GameID: gameID, QuestionIndex: index + 1})
}

// answersWithRetry reads all records for a question, retrying transient store
// failures. Terminal failure cancels the game rather than silently re-asking.
func (e *Engine) answersWithRetry(ctx context.Context, gameID uuid.UUID, index int) (map[uuid.UUID]answers.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		recs, err := e.as.GetAll(ctx, gameID, index)
		if err == nil {
			return recs, nil
		}
		lastErr = err
		log.Printf("[ENGINE] Game %s: answer scan attempt %d failed: %v", gameID, attempt, err)
		if attempt < 3 {
			time.Sleep(e.evalBackoff * time.Duration(attempt))
		}
	}
	return nil, lastErr
}

func (e *Engine) durableRows(gameID uuid.UUID, q models.Question, index int, results []playerResult) []models.PlayerAnswer {
	rows := make([]models.PlayerAnswer, 0, len(results))
	for _, r := range results {
		if !r.hasRecord {
			continue
		}
		rows = append(rows, models.PlayerAnswer{
			GameID:         gameID,
			UserID:         r.userID,
			QuestionID:     q.ID,
			Selected:       r.rec.AnswerText,
			IsCorrect:      r.correct,
			ResponseTimeMs: int(r.rec.SubmittedAtUnixMs - r.rec.QuestionStartAtUnixMs),
			QuestionNumber: index + 1,
			SubmittedAt:    time.UnixMilli(r.rec.SubmittedAtUnixMs),
		})
	}
	return rows
}
