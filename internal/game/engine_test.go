package game

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizrush/backend/internal/answers"
	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/events"
	"github.com/quizrush/backend/internal/models"
	"github.com/quizrush/backend/internal/outbound"
	"github.com/quizrush/backend/internal/whatsapp"
)

// fakeRepo keeps everything in memory and records persistence calls.
type fakeRepo struct {
	mu          sync.Mutex
	game        *models.Game
	questions   []models.Question
	players     []models.GamePlayer
	finished    bool
	winnerCount int
	cancelled   bool
	savedRows   []models.GamePlayer
	answerRows  []models.PlayerAnswer
}

func (r *fakeRepo) GameByID(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := *r.game
	return &g, nil
}

func (r *fakeRepo) QuestionsByGame(ctx context.Context, gameID uuid.UUID) ([]models.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Question(nil), r.questions...), nil
}

func (r *fakeRepo) PlayersByGame(ctx context.Context, gameID uuid.UUID) ([]models.GamePlayer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.GamePlayer(nil), r.players...), nil
}

func (r *fakeRepo) ActivateGame(ctx context.Context, gameID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.game.Status = models.GameInProgress
	return nil
}

func (r *fakeRepo) SetCurrentQuestion(ctx context.Context, gameID uuid.UUID, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.game.CurrentQuestionIndex = index
	return nil
}

func (r *fakeRepo) SavePlayerResults(ctx context.Context, players []models.GamePlayer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savedRows = append(r.savedRows, players...)
	return nil
}

func (r *fakeRepo) InsertPlayerAnswers(ctx context.Context, rows []models.PlayerAnswer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answerRows = append(r.answerRows, rows...)
	return nil
}

func (r *fakeRepo) FinishGame(ctx context.Context, gameID uuid.UUID, winnerCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.winnerCount = winnerCount
	r.game.Status = models.GameFinished
	return nil
}

func (r *fakeRepo) MarkWinners(ctx context.Context, gameID uuid.UUID) error {
	return nil
}

func (r *fakeRepo) CancelGame(ctx context.Context, gameID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	r.game.Status = models.GameCancelled
	return nil
}

type sentMsg struct {
	to      string
	body    string
	buttons []whatsapp.Button
	prio    outbound.Priority
}

type fakeOutbox struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (f *fakeOutbox) EnqueueText(to, body string, prio outbound.Priority) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{to: to, body: body, prio: prio})
}

func (f *fakeOutbox) EnqueueButtons(to, body string, buttons []whatsapp.Button, prio outbound.Priority) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{to: to, body: body, buttons: buttons, prio: prio})
}

func (f *fakeOutbox) bodiesTo(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		if m.to == to {
			out = append(out, m.body)
		}
	}
	return out
}

func (f *fakeOutbox) waitFor(t *testing.T, timeout time.Duration, pred func(sentMsg) bool) sentMsg {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, m := range f.msgs {
			if pred(m) {
				f.mu.Unlock()
				return m
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for outbound message")
	return sentMsg{}
}

type fixture struct {
	engine *Engine
	bus    *events.Bus
	out    *fakeOutbox
	repo   *fakeRepo
	store  *StateStore
	as     *answers.Store
	mr     *miniredis.Miniredis
	cfg    *config.Config
	gameID uuid.UUID
	users  map[string]uuid.UUID // handle -> user id
}

func newQuestion(gameID uuid.UUID, order int, text, correct string, options [4]string, limitMs int) models.Question {
	return models.Question{
		ID:            uuid.New(),
		GameID:        gameID,
		QuestionOrder: order,
		Text:          text,
		CorrectAnswer: correct,
		OptionA:       options[0],
		OptionB:       options[1],
		OptionC:       options[2],
		OptionD:       options[3],
		TimeLimitMs:   limitMs,
	}
}

func newFixture(t *testing.T, handles []string, questions []models.Question, pool float64) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	gameID := uuid.New()
	users := make(map[string]uuid.UUID, len(handles))
	players := make([]models.GamePlayer, 0, len(handles))
	for _, h := range handles {
		id := uuid.New()
		users[h] = id
		players = append(players, models.GamePlayer{
			GameID: gameID, UserID: id, WaID: h, Status: models.PlayerRegistered,
		})
	}
	for i := range questions {
		questions[i].GameID = gameID
	}

	repo := &fakeRepo{
		game: &models.Game{
			ID: gameID, Status: models.GamePreGame, PrizePool: pool,
			TotalQuestions: len(questions), StartAt: time.Now(),
		},
		questions: questions,
		players:   players,
	}
	cfg := &config.Config{
		QuestionTimeLimitMs: 200,
		GraceMs:             50,
		PreRollMs:           10,
		InterQuestionMs:     10,
		AnswerTTLSeconds:    300,
	}
	bus := events.NewBus()
	store := NewStateStore()
	as := answers.New(rdb, 300*time.Second)
	out := &fakeOutbox{}
	engine := NewEngine(repo, store, as, out, bus, cfg)
	engine.evalBackoff = time.Millisecond

	return &fixture{
		engine: engine, bus: bus, out: out, repo: repo, store: store,
		as: as, mr: mr, cfg: cfg, gameID: gameID, users: users,
	}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.bus.Publish(events.Event{Kind: events.GameStart, GameID: f.gameID})
	f.out.waitFor(t, 2*time.Second, func(m sentMsg) bool {
		return strings.HasPrefix(m.body, "Q1:")
	})
}

func (f *fixture) waitGameGone(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !f.store.Contains(f.gameID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("game never released from state store")
}

func TestSingleWinner(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 200)
	f := newFixture(t, []string{"A", "B", "C"}, []models.Question{q}, 30.00)
	f.start(t)

	ctx := context.Background()
	require.True(t, f.engine.HandleAnswer(ctx, "A", "Paris"))
	require.True(t, f.engine.HandleAnswer(ctx, "B", "London"))
	// C never answers; the question timer elapses

	f.waitGameGone(t)

	aBodies := strings.Join(f.out.bodiesTo("A"), "\n--\n")
	assert.Contains(t, aBodies, "You're still in")
	assert.Contains(t, aBodies, "we have a winner")
	assert.Contains(t, aBodies, "Congratulations")
	assert.Contains(t, aBodies, "$30.00")

	for _, h := range []string{"B", "C"} {
		bodies := strings.Join(f.out.bodiesTo(h), "\n--\n")
		assert.Contains(t, bodies, "You're out", "player %s", h)
		assert.Contains(t, bodies, "we have a winner", "player %s", h)
		assert.NotContains(t, bodies, "Congratulations", "player %s", h)
	}

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	assert.True(t, f.repo.finished)
	assert.Equal(t, 1, f.repo.winnerCount)
}

func TestTieSplitMessage(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "2 + 2?", "4", [4]string{"4", "3", "5", "22"}, 200)
	f := newFixture(t, []string{"A", "B", "C"}, []models.Question{q}, 30.00)
	f.start(t)

	ctx := context.Background()
	for _, h := range []string{"A", "B", "C"} {
		require.True(t, f.engine.HandleAnswer(ctx, h, "4"))
	}
	f.waitGameGone(t)

	for _, h := range []string{"A", "B", "C"} {
		bodies := strings.Join(f.out.bodiesTo(h), "\n--\n")
		assert.Contains(t, bodies, "Winners: 3")
		assert.Contains(t, bodies, "Prize pool: $30.00")
		assert.Contains(t, bodies, "Each winner receives: $10.00")
	}
}

func TestDuplicateAnswerLocked(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 60000)
	f := newFixture(t, []string{"A", "B"}, []models.Question{q}, 10.00)
	f.start(t)

	ctx := context.Background()
	require.True(t, f.engine.HandleAnswer(ctx, "A", "Paris"))
	require.True(t, f.engine.HandleAnswer(ctx, "A", "London"))

	bodies := f.out.bodiesTo("A")
	assert.Contains(t, strings.Join(bodies, "\n"), "first answer was locked in")

	// Only the first write landed, verbatim as submitted
	rec, err := f.as.Get(ctx, f.gameID, 0, f.users["A"])
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Paris", rec.AnswerText)
}

func TestAllAnswerEarlyCancelsTimer(t *testing.T) {
	// Long limit so only the early-complete path can end the question quickly
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 60000)
	f := newFixture(t, []string{"A", "B"}, []models.Question{q}, 10.00)
	f.start(t)

	ctx := context.Background()
	require.True(t, f.engine.HandleAnswer(ctx, "A", "Paris"))
	require.True(t, f.engine.HandleAnswer(ctx, "B", "Paris"))

	f.waitGameGone(t)

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	assert.True(t, f.repo.finished)
	assert.Equal(t, 2, f.repo.winnerCount)
}

func TestOnTimeBoundary(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 10000)
	f := newFixture(t, []string{"A", "B"}, []models.Question{q}, 10.00)
	f.cfg.GraceMs = 1000
	f.start(t)

	var startAt int64
	f.store.View(f.gameID, func(gs *GameState) { startAt = gs.QuestionStartAtMs })

	ctx := context.Background()
	// A lands exactly at the time limit, B one past limit + grace
	_, _, err := f.as.Put(ctx, f.gameID, 0, f.users["A"], answers.Record{
		AnswerText: "paris", SubmittedAtUnixMs: startAt + 10000,
		QuestionStartAtUnixMs: startAt, TimeLimitMs: 10000,
	})
	require.NoError(t, err)
	_, _, err = f.as.Put(ctx, f.gameID, 0, f.users["B"], answers.Record{
		AnswerText: "paris", SubmittedAtUnixMs: startAt + 11001,
		QuestionStartAtUnixMs: startAt, TimeLimitMs: 10000,
	})
	require.NoError(t, err)

	f.bus.Publish(events.Event{Kind: events.QuestionTimeout, GameID: f.gameID, QuestionIndex: 0})
	f.waitGameGone(t)

	assert.Contains(t, strings.Join(f.out.bodiesTo("A"), "\n"), "You're still in")
	assert.Contains(t, strings.Join(f.out.bodiesTo("B"), "\n"), "You're out")
}

func TestEliminatedPlayerExcludedFromNextQuestion(t *testing.T) {
	q1 := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 200)
	q2 := newQuestion(uuid.Nil, 2, "2 + 2?", "4", [4]string{"4", "3", "5", "22"}, 200)
	f := newFixture(t, []string{"A", "B", "C"}, []models.Question{q1, q2}, 10.00)
	f.start(t)

	ctx := context.Background()
	require.True(t, f.engine.HandleAnswer(ctx, "A", "Paris"))
	require.True(t, f.engine.HandleAnswer(ctx, "B", "Paris"))
	// C misses question 1 and is eliminated

	f.out.waitFor(t, 3*time.Second, func(m sentMsg) bool {
		return strings.HasPrefix(m.body, "Q2:") && m.to == "A"
	})

	for _, body := range f.out.bodiesTo("C") {
		assert.False(t, strings.HasPrefix(body, "Q2:"), "eliminated player received question 2")
	}

	// An answer from an eliminated player is rejected with one notice
	require.True(t, f.engine.HandleAnswer(ctx, "C", "4"))
	require.True(t, f.engine.HandleAnswer(ctx, "C", "4"))
	notices := 0
	for _, body := range f.out.bodiesTo("C") {
		if strings.Contains(body, "answers are locked") {
			notices++
		}
	}
	assert.Equal(t, 1, notices, "lock notice must be sent once per question")

	require.True(t, f.engine.HandleAnswer(ctx, "A", "4"))
	require.True(t, f.engine.HandleAnswer(ctx, "B", "4"))
	f.waitGameGone(t)
}

func TestQuestionIndexAdvancesByOne(t *testing.T) {
	q1 := newQuestion(uuid.Nil, 1, "Q one", "a", [4]string{"a", "b", "c", "d"}, 60000)
	q2 := newQuestion(uuid.Nil, 2, "Q two", "a", [4]string{"a", "b", "c", "d"}, 60000)
	f := newFixture(t, []string{"A", "B"}, []models.Question{q1, q2}, 10.00)
	f.start(t)

	// A skip-ahead event must be dropped
	f.bus.Publish(events.Event{Kind: events.NextQuestion, GameID: f.gameID, QuestionIndex: 5})

	ctx := context.Background()
	require.True(t, f.engine.HandleAnswer(ctx, "A", "a"))
	require.True(t, f.engine.HandleAnswer(ctx, "B", "a"))

	f.out.waitFor(t, 3*time.Second, func(m sentMsg) bool {
		return strings.HasPrefix(m.body, "Q2:")
	})

	var current int
	f.store.View(f.gameID, func(gs *GameState) { current = gs.Current })
	assert.Equal(t, 1, current)
}

func TestAnswerStoreOutageCancelsGame(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 100)
	f := newFixture(t, []string{"A", "B"}, []models.Question{q}, 10.00)
	f.start(t)

	// Kill the store before evaluation; all three scan attempts will fail
	f.mr.Close()

	f.out.waitFor(t, 3*time.Second, func(m sentMsg) bool {
		return strings.Contains(m.body, "cancelled")
	})
	f.waitGameGone(t)

	for _, h := range []string{"A", "B"} {
		assert.Contains(t, strings.Join(f.out.bodiesTo(h), "\n"), "cancelled", "player %s", h)
	}
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	assert.True(t, f.repo.cancelled)
	assert.False(t, f.repo.finished)
}

func TestEmergencyEnd(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 60000)
	f := newFixture(t, []string{"A", "B"}, []models.Question{q}, 10.00)
	f.start(t)

	require.True(t, f.engine.EmergencyEnd(f.gameID))
	f.waitGameGone(t)

	f.repo.mu.Lock()
	cancelled := f.repo.cancelled
	f.repo.mu.Unlock()
	assert.True(t, cancelled)
	assert.Contains(t, strings.Join(f.out.bodiesTo("A"), "\n"), "cancelled")

	assert.False(t, f.engine.EmergencyEnd(f.gameID), "ending a released game must report false")
}

func TestAnswerFromUnknownHandle(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 60000)
	f := newFixture(t, []string{"A"}, []models.Question{q}, 10.00)
	f.start(t)

	assert.False(t, f.engine.HandleAnswer(context.Background(), "stranger", "Paris"),
		"handles outside any active game are the caller's to answer")
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	q := newQuestion(uuid.Nil, 1, "Capital of France?", "Paris",
		[4]string{"Paris", "London", "Rome", "Berlin"}, 60000)
	f := newFixture(t, []string{"A", "B"}, []models.Question{q}, 10.00)
	f.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			answer := "Paris"
			if n%2 == 1 {
				answer = "London"
			}
			f.engine.HandleAnswer(context.Background(), "A", answer)
		}(i)
	}
	wg.Wait()

	count, err := f.as.Count(context.Background(), f.gameID, 0)
	require.NoError(t, err)
	// B hasn't answered, so only A's single record exists
	assert.Equal(t, 1, count, "concurrent submissions must store exactly one record")
}
