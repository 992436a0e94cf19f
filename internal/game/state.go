package game

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quizrush/backend/internal/models"
)

// Phase of the current question's lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAccepting
	PhaseEvaluating
	PhaseClosed
)

// PlayerState is the in-memory view of one participant.
type PlayerState struct {
	UserID        uuid.UUID
	WaID          string
	Status        string
	EliminatedAt  int // question index, -1 while never eliminated
	CorrectCount  int
	TotalCount    int
	Undeliverable bool
}

// GameState is the authoritative in-memory state of one active game. All
// fields are guarded by the owning StateStore; the engine mutates them only
// through Update.
type GameState struct {
	ID                uuid.UUID
	PrizePool         float64
	TotalQuestions    int
	Current           int
	Phase             Phase
	QuestionStartAtMs int64
	Questions         []models.Question
	Players           map[uuid.UUID]*PlayerState
	byWaID            map[string]uuid.UUID

	timer *time.Timer // pending question timeout, nil outside accepting

	// Players told once per question that their answers are locked
	lockNotified map[uuid.UUID]bool
}

// AliveCount reports players still in the running. Caller must hold the
// store's lock (i.e. call from within View or Update).
func (gs *GameState) AliveCount() int {
	n := 0
	for _, p := range gs.Players {
		if p.Status == models.PlayerAlive {
			n++
		}
	}
	return n
}

// Alive returns the players still in the running, caller holds the lock.
func (gs *GameState) Alive() []*PlayerState {
	out := make([]*PlayerState, 0, len(gs.Players))
	for _, p := range gs.Players {
		if p.Status == models.PlayerAlive {
			out = append(out, p)
		}
	}
	return out
}

// StateStore holds every game this process currently owns.
type StateStore struct {
	mu    sync.RWMutex
	games map[uuid.UUID]*GameState
}

func NewStateStore() *StateStore {
	return &StateStore{games: make(map[uuid.UUID]*GameState)}
}

// Register adds a game built from persisted rows. Player lookup by handle is
// indexed on insert.
func (s *StateStore) Register(gs *GameState) {
	gs.byWaID = make(map[string]uuid.UUID, len(gs.Players))
	for id, p := range gs.Players {
		gs.byWaID[p.WaID] = id
	}
	if gs.lockNotified == nil {
		gs.lockNotified = make(map[uuid.UUID]bool)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[gs.ID] = gs
}

// Remove evicts a finished game.
func (s *StateStore) Remove(gameID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, gameID)
}

// Contains reports whether the process owns the game.
func (s *StateStore) Contains(gameID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.games[gameID]
	return ok
}

// ActiveCount reports how many games this process currently runs.
func (s *StateStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

// Update runs fn with exclusive access to the game's state. Returns false if
// the game is not tracked.
func (s *StateStore) Update(gameID uuid.UUID, fn func(gs *GameState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs, ok := s.games[gameID]
	if !ok {
		return false
	}
	fn(gs)
	return true
}

// View runs fn with shared read access to the game's state. fn must not
// mutate. Returns false if the game is not tracked.
func (s *StateStore) View(gameID uuid.UUID, fn func(gs *GameState)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gs, ok := s.games[gameID]
	if !ok {
		return false
	}
	fn(gs)
	return true
}

// ActiveGameFor finds the game a handle is playing in. With the small number
// of concurrently active games a linear scan is fine.
func (s *StateStore) ActiveGameFor(waID string) (gameID, userID uuid.UUID, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, gs := range s.games {
		if uid, found := gs.byWaID[waID]; found {
			return gs.ID, uid, true
		}
	}
	return uuid.Nil, uuid.Nil, false
}
