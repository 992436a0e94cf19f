package answers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Key pattern: qrush:answers:<gameID>:<questionIndex>:<userID>
const keyPrefix = "qrush:answers"

// scanPageSize bounds a single SCAN/MGET round trip.
const scanPageSize = 200

// Record is one submitted answer, stored as JSON under a TTL'd key.
type Record struct {
	AnswerText            string `json:"answer_text"`
	SubmittedAtUnixMs     int64  `json:"submitted_at_unix_ms"`
	QuestionStartAtUnixMs int64  `json:"question_start_at_unix_ms"`
	TimeLimitMs           int    `json:"time_limit_ms"`
	Evaluated             bool   `json:"evaluated"`
	IsOnTime              bool   `json:"is_on_time"`
	IsCorrect             bool   `json:"is_correct"`
}

// PutOutcome distinguishes a stored first answer from a duplicate.
type PutOutcome int

const (
	Stored PutOutcome = iota
	Duplicate
)

// Store keeps per-(game, question, user) answers in Redis. The conditional
// write is the only cross-process synchronizer for answer uniqueness.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Store. ttl must cover the longest expected game plus a buffer.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func answerKey(gameID uuid.UUID, questionIndex int, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%d:%s", keyPrefix, gameID, questionIndex, userID)
}

func questionPattern(gameID uuid.UUID, questionIndex int) string {
	return fmt.Sprintf("%s:%s:%d:*", keyPrefix, gameID, questionIndex)
}

func gamePattern(gameID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, gameID)
}

// Put stores the record unless one already exists for the key. On a duplicate
// it returns the previously stored record.
func (s *Store) Put(ctx context.Context, gameID uuid.UUID, questionIndex int, userID uuid.UUID, rec Record) (PutOutcome, *Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	key := answerKey(gameID, questionIndex, userID)
	ok, err := s.rdb.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to store answer: %w", err)
	}
	if ok {
		return Stored, nil, nil
	}

	existing, err := s.Get(ctx, gameID, questionIndex, userID)
	if err != nil {
		return 0, nil, err
	}
	// The prior record may have expired between SetNX and Get; treat as duplicate regardless
	return Duplicate, existing, nil
}

// Get returns the record for a single player, or nil if none exists.
func (s *Store) Get(ctx context.Context, gameID uuid.UUID, questionIndex int, userID uuid.UUID) (*Record, error) {
	data, err := s.rdb.Get(ctx, answerKey(gameID, questionIndex, userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read answer: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answer: %w", err)
	}
	return &rec, nil
}

// GetAll scans every record for a question, keyed by user id. The scan is
// cursor-based so it never blocks other store operations.
func (s *Store) GetAll(ctx context.Context, gameID uuid.UUID, questionIndex int) (map[uuid.UUID]Record, error) {
	out := make(map[uuid.UUID]Record)
	pattern := questionPattern(gameID, questionIndex)

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan answers: %w", err)
		}

		if len(keys) > 0 {
			vals, err := s.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read answer batch: %w", err)
			}
			for i, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue // expired between SCAN and MGET
				}
				userID, err := userIDFromKey(keys[i])
				if err != nil {
					continue
				}
				var rec Record
				if err := json.Unmarshal([]byte(str), &rec); err != nil {
					return nil, fmt.Errorf("failed to unmarshal answer %s: %w", keys[i], err)
				}
				out[userID] = rec
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Count returns the number of players with a recorded answer for a question.
// SCAN may repeat keys while the keyspace is changing, so the count is taken
// over distinct user ids, never raw page lengths.
func (s *Store) Count(ctx context.Context, gameID uuid.UUID, questionIndex int) (int, error) {
	seen := make(map[uuid.UUID]struct{})
	pattern := questionPattern(gameID, questionIndex)
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count answers: %w", err)
		}
		collectUsers(seen, keys)
		cursor = next
		if cursor == 0 {
			return len(seen), nil
		}
	}
}

// collectUsers folds one SCAN page into the distinct-user set, dropping keys
// that do not end in a user id.
func collectUsers(seen map[uuid.UUID]struct{}, keys []string) {
	for _, key := range keys {
		userID, err := userIDFromKey(key)
		if err != nil {
			continue
		}
		seen[userID] = struct{}{}
	}
}

// UpdateEvaluated overwrites the evaluation fields of an existing record,
// preserving the key's remaining TTL so duplicate webhooks arriving after
// evaluation cannot race a fresh write.
func (s *Store) UpdateEvaluated(ctx context.Context, gameID uuid.UUID, questionIndex int, userID uuid.UUID, isOnTime, isCorrect bool) error {
	rec, err := s.Get(ctx, gameID, questionIndex, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("answer not found for user %s", userID)
	}

	rec.Evaluated = true
	rec.IsOnTime = isOnTime
	rec.IsCorrect = isCorrect

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluated answer: %w", err)
	}
	if err := s.rdb.Set(ctx, answerKey(gameID, questionIndex, userID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update evaluated answer: %w", err)
	}
	return nil
}

// Clear deletes every record of a finished game.
func (s *Store) Clear(ctx context.Context, gameID uuid.UUID) error {
	pattern := gamePattern(gameID)
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan answers for cleanup: %w", err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete answers: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// userIDFromKey extracts the trailing user id from an answer key.
func userIDFromKey(key string) (uuid.UUID, error) {
	if len(key) < 36 {
		return uuid.Nil, fmt.Errorf("malformed answer key %q", key)
	}
	return uuid.Parse(key[len(key)-36:])
}
