package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizmaster-service/internal/domain"
)

// QuizLoader fetches quiz content from the backing store on cache miss.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
	LoadQuestions(ctx context.Context, quizID int64) ([]domain.Question, error)
}

// QuestionBank caches quiz metadata and question sets in Redis and falls
// back to a loader on miss. Keys:
//
//	quiz:{quizID}:meta      JSON quiz
//	quiz:{quizID}:questions JSON question array (correct options included;
//	                        the transport layer strips them before clients)
//
// Singleflight collapses concurrent misses for the same quiz into one
// loader call; TTLs get up to 10% jitter to spread expirations.
type QuestionBank struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	key := b.metaKey(quizID)

	if raw, err := b.client.Get(ctx, key).Bytes(); err == nil {
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err == nil {
			return quiz, nil
		}
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the key.
		if raw, err := b.client.Get(ctx, key).Bytes(); err == nil {
			var quiz domain.Quiz
			if err := json.Unmarshal(raw, &quiz); err == nil {
				return quiz, nil
			}
		}

		quiz, err := b.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		b.cacheJSON(ctx, key, quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (b *QuestionBank) GetQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	key := b.questionsKey(quizID)

	if questions, ok := b.cachedQuestions(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		if questions, ok := b.cachedQuestions(ctx, key); ok {
			return questions, nil
		}

		questions, err := b.loader.LoadQuestions(ctx, quizID)
		if err != nil {
			return nil, err
		}
		b.cacheJSON(ctx, key, cacheableQuestions(questions))
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// The JSON tag on domain.Question hides CorrectOption from API payloads, so
// the cache round-trips a shadow struct that keeps it.
type cachedQuestion struct {
	ID            int64    `json:"id"`
	QuizID        int64    `json:"quiz_id"`
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
}

func cacheableQuestions(questions []domain.Question) []cachedQuestion {
	out := make([]cachedQuestion, len(questions))
	for i, q := range questions {
		out[i] = cachedQuestion{ID: q.ID, QuizID: q.QuizID, Text: q.Text, Options: q.Options, CorrectOption: q.CorrectOption}
	}
	return out
}

func (b *QuestionBank) cachedQuestions(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cached []cachedQuestion
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	questions := make([]domain.Question, len(cached))
	for i, q := range cached {
		questions[i] = domain.Question{ID: q.ID, QuizID: q.QuizID, Text: q.Text, Options: q.Options, CorrectOption: q.CorrectOption}
	}
	return questions, true
}

func (b *QuestionBank) cacheJSON(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	// best-effort: a failed cache write only costs a reload
	_ = b.client.Set(ctx, key, raw, b.ttlWithJitter()).Err()
}

func (b *QuestionBank) metaKey(quizID int64) string {
	return fmt.Sprintf("quiz:%d:meta", quizID)
}

func (b *QuestionBank) questionsKey(quizID int64) string {
	return fmt.Sprintf("quiz:%d:questions", quizID)
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
