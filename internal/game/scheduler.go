package game

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/events"
	"github.com/quizrush/backend/internal/models"
)

// sweepTimeout bounds one scheduler pass.
const sweepTimeout = 1 * time.Second

// schedulerStore is the persistence slice one sweep needs. The conditional
// claim is the fence: with multiple processes sweeping, only the one whose
// claim lands may emit gameStart.
type schedulerStore interface {
	// ExpireMissed flips games that sat unstarted past the grace window.
	ExpireMissed(ctx context.Context, grace time.Duration) (int64, error)
	// DueGames lists scheduled games whose start instant has passed.
	DueGames(ctx context.Context) ([]uuid.UUID, error)
	// ClaimGame moves one game scheduled -> pre_game. False means another
	// sweep won.
	ClaimGame(ctx context.Context, gameID uuid.UUID) (bool, error)
}

// Scheduler sweeps persisted games every period, expiring the ones that
// missed their window and starting the rest.
type Scheduler struct {
	store       schedulerStore
	bus         *events.Bus
	period      time.Duration
	expiryGrace time.Duration

	running int32
	stop    chan struct{}
	done    chan struct{}
}

func NewScheduler(db *sqlx.DB, bus *events.Bus, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:       &schedulerSQL{db: db},
		bus:         bus,
		period:      time.Duration(cfg.SchedulerPeriodMs) * time.Millisecond,
		expiryGrace: time.Duration(cfg.ExpiryGraceMs) * time.Millisecond,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.loop()
	log.Printf("[SCHEDULER] Started, sweeping every %s", s.period)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
				log.Printf("[SCHEDULER] Previous sweep still running, skipping tick")
				continue
			}
			go func() {
				defer atomic.StoreInt32(&s.running, 0)
				s.sweep()
			}()
		}
	}
}

// sweep expires first, then starts: a game past its grace must never race
// into a start on the same pass.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if n, err := s.store.ExpireMissed(ctx, s.expiryGrace); err != nil {
		log.Printf("[SCHEDULER] Failed to expire missed games: %v", err)
	} else if n > 0 {
		log.Printf("[SCHEDULER] Expired %d games past their start grace", n)
	}

	due, err := s.store.DueGames(ctx)
	if err != nil {
		log.Printf("[SCHEDULER] Failed to select due games: %v", err)
		return
	}
	for _, gameID := range due {
		claimed, err := s.store.ClaimGame(ctx, gameID)
		if err != nil {
			log.Printf("[SCHEDULER] Failed to claim game %s: %v", gameID, err)
			continue
		}
		if !claimed {
			// Another sweep won the claim
			continue
		}
		log.Printf("[SCHEDULER] Game %s due, starting", gameID)
		s.bus.Publish(events.Event{Kind: events.GameStart, GameID: gameID})
	}
}

// schedulerSQL is the Postgres schedulerStore.
type schedulerSQL struct {
	db *sqlx.DB
}

func (s *schedulerSQL) ExpireMissed(ctx context.Context, grace time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE games SET status = $1
		WHERE status = $2 AND start_at < NOW() - ($3 * INTERVAL '1 millisecond')`,
		models.GameExpired, models.GameScheduled, grace.Milliseconds())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *schedulerSQL) DueGames(ctx context.Context) ([]uuid.UUID, error) {
	var due []uuid.UUID
	err := s.db.SelectContext(ctx, &due,
		"SELECT id FROM games WHERE status = $1 AND start_at <= NOW() ORDER BY start_at",
		models.GameScheduled)
	return due, err
}

func (s *schedulerSQL) ClaimGame(ctx context.Context, gameID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE games SET status = $1 WHERE id = $2 AND status = $3",
		models.GamePreGame, gameID, models.GameScheduled)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
