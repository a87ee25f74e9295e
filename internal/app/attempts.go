package app

import (
	"context"
	"time"

	"quizmaster-service/internal/domain"
)

// QuestionBank loads quiz metadata and question sets (from cache/backing store).
type QuestionBank interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
	GetQuestions(ctx context.Context, quizID int64) ([]domain.Question, error)
}

// AttemptStore abstracts how attempts and scores are persisted.
//
// Implementations carry the two concurrency guarantees the ledger relies on:
//   - StartAttempt is race-free for a (user, quiz) pair: concurrent calls
//     yield exactly one open attempt, enforced by a storage-level uniqueness
//     constraint on open attempts, never by check-then-insert alone.
//   - FinalizeAttempt is a single atomic conditional transition of end_time
//     from null to the given instant, committed together with the Score row;
//     a second caller observes domain.ErrAlreadySubmitted.
type AttemptStore interface {
	// StartAttempt inserts a new open attempt, or returns the existing open
	// attempt for (userID, quizID) with created=false when one already exists.
	StartAttempt(ctx context.Context, userID, quizID int64, startTime time.Time) (attempt domain.Attempt, created bool, err error)
	GetActiveAttempt(ctx context.Context, userID, quizID int64) (domain.Attempt, error)
	GetAttempt(ctx context.Context, attemptID int64) (domain.Attempt, error)
	// FinalizeAttempt sets end_time and inserts the Score in one transaction.
	FinalizeAttempt(ctx context.Context, attemptID int64, endTime time.Time, totalScore int) error
	ListAttempts(ctx context.Context, userID int64) ([]domain.AttemptRecord, error)
}

// HistoryCache is a best-effort cache of per-user history views. A miss or a
// failed write only costs a storage round-trip, so implementations swallow
// their own errors.
type HistoryCache interface {
	GetHistory(ctx context.Context, userID int64) ([]domain.AttemptRecord, bool)
	SetHistory(ctx context.Context, userID int64, records []domain.AttemptRecord)
	InvalidateHistory(ctx context.Context, userID int64)
}

// StartResult is what a client needs to take (or keep taking) a quiz.
type StartResult struct {
	Attempt          domain.Attempt
	RemainingSeconds int
	Questions        []domain.Question
	Resumed          bool
}

// AttemptService is the attempt ledger and scoring engine: it owns the
// lifecycle of an attempt from creation through the single irreversible
// Open -> Finalized transition. Expiry is enforced lazily; there is no
// timer process, only on-demand deadline math against the stored start time.
type AttemptService struct {
	store   AttemptStore
	bank    QuestionBank
	history HistoryCache
	now     func() time.Time
}

func NewAttemptService(store AttemptStore, bank QuestionBank, history HistoryCache) *AttemptService {
	return NewAttemptServiceWithClock(store, bank, history, time.Now)
}

// NewAttemptServiceWithClock allows deterministic timestamps in tests.
func NewAttemptServiceWithClock(store AttemptStore, bank QuestionBank, history HistoryCache, now func() time.Time) *AttemptService {
	return &AttemptService{store: store, bank: bank, history: history, now: now}
}

// Start opens an attempt for (userID, quizID), or resumes the open one.
// Starting is idempotent while an attempt is open: the same attempt id comes
// back with the remaining time recomputed against the original start.
func (s *AttemptService) Start(ctx context.Context, userID, quizID int64) (StartResult, error) {
	quiz, err := s.bank.GetQuiz(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}

	attempt, created, err := s.store.StartAttempt(ctx, userID, quizID, s.now().UTC())
	if err != nil {
		return StartResult{}, err
	}
	if created {
		s.history.InvalidateHistory(ctx, userID)
	}

	questions, err := s.bank.GetQuestions(ctx, quizID)
	if err != nil {
		return StartResult{}, err
	}

	return StartResult{
		Attempt:          attempt,
		RemainingSeconds: domain.RemainingSeconds(attempt.StartTime, quiz.DurationMinutes, s.now()),
		Questions:        questions,
		Resumed:          !created,
	}, nil
}

// Resume returns the caller's open attempt for quizID, or finalizes it with
// an empty answer set when its deadline has already passed. Expiry is only
// ever detected here or in Submit; a crashed or silent client costs nothing
// until somebody asks.
func (s *AttemptService) Resume(ctx context.Context, userID, quizID int64) (StartResult, error) {
	attempt, err := s.store.GetActiveAttempt(ctx, userID, quizID)
	if err != nil {
		return StartResult{}, err
	}

	quiz, err := s.bank.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return StartResult{}, err
	}

	now := s.now()
	if domain.IsExpired(attempt.StartTime, quiz.DurationMinutes, now) {
		// Lazy finalization: empty answer set scores zero. Losing the race to
		// a concurrent Submit is fine; either way the attempt is closed.
		err := s.store.FinalizeAttempt(ctx, attempt.ID, now.UTC(), 0)
		if err != nil && err != domain.ErrAlreadySubmitted {
			return StartResult{}, err
		}
		s.history.InvalidateHistory(ctx, userID)
		return StartResult{}, domain.ErrAttemptExpired
	}

	questions, err := s.bank.GetQuestions(ctx, attempt.QuizID)
	if err != nil {
		return StartResult{}, err
	}

	return StartResult{
		Attempt:          attempt,
		RemainingSeconds: domain.RemainingSeconds(attempt.StartTime, quiz.DurationMinutes, now),
		Questions:        questions,
		Resumed:          true,
	}, nil
}

// Submit finalizes an attempt exactly once and computes its score.
//
// Submitting past the deadline is not an error: the attempt finalizes with a
// zero score and Expired set, a defined terminal outcome. Unknown question
// ids in the answer set are ignored. Answers use the 1-based option
// convention throughout (selected option N matches CorrectOption N).
func (s *AttemptService) Submit(ctx context.Context, userID, attemptID int64, answers map[int64]int) (domain.SubmissionResult, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if attempt.UserID != userID {
		return domain.SubmissionResult{}, domain.ErrForbidden
	}
	if attempt.Finalized() {
		return domain.SubmissionResult{}, domain.ErrAlreadySubmitted
	}

	quiz, err := s.bank.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	now := s.now()
	if domain.IsExpired(attempt.StartTime, quiz.DurationMinutes, now) {
		if err := s.store.FinalizeAttempt(ctx, attemptID, now.UTC(), 0); err != nil {
			return domain.SubmissionResult{}, err
		}
		s.history.InvalidateHistory(ctx, userID)
		return domain.SubmissionResult{Score: 0, Expired: true}, nil
	}

	questions, err := s.bank.GetQuestions(ctx, attempt.QuizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	total := len(questions)
	if total == 0 {
		// A quiz with no questions scores zero instead of dividing by it.
		total = 1
	}

	byID := make(map[int64]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	correct := 0
	for questionID, selected := range answers {
		q, ok := byID[questionID]
		if ok && selected == q.CorrectOption {
			correct++
		}
	}
	score := correct * 100 / total

	// The store's conditional update decides the winner under concurrent
	// submits; everything above was only provisional.
	if err := s.store.FinalizeAttempt(ctx, attemptID, now.UTC(), score); err != nil {
		return domain.SubmissionResult{}, err
	}
	s.history.InvalidateHistory(ctx, userID)

	return domain.SubmissionResult{Score: score, Correct: correct, Total: total}, nil
}

// History returns the user's attempts, newest first, through the cache.
func (s *AttemptService) History(ctx context.Context, userID int64) ([]domain.AttemptRecord, error) {
	if records, ok := s.history.GetHistory(ctx, userID); ok {
		return records, nil
	}
	records, err := s.store.ListAttempts(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.history.SetHistory(ctx, userID, records)
	return records, nil
}

// RemainingSeconds recomputes the clock for the user's open attempt on
// quizID. Used by the websocket tick endpoint; expiry is still only
// finalized by Resume or Submit.
func (s *AttemptService) RemainingSeconds(ctx context.Context, userID, quizID int64) (int, error) {
	attempt, err := s.store.GetActiveAttempt(ctx, userID, quizID)
	if err != nil {
		return 0, err
	}
	quiz, err := s.bank.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return 0, err
	}
	return domain.RemainingSeconds(attempt.StartTime, quiz.DurationMinutes, s.now()), nil
}
