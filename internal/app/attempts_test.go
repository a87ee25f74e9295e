package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
	"quizmaster-service/internal/infra/memory"
)

// fakeClock is a settable clock shared by a test and the service under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store   *memory.Store
	history *memory.HistoryCache
	clock   *fakeClock
	service *app.AttemptService
	user    domain.User
	quiz    domain.Quiz
}

// newTestEnv seeds a 10-minute quiz with two questions: Q1 correct=2, Q2 correct=4.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	history := memory.NewHistoryCache()
	clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	user := store.AddUser(domain.User{Email: "alice@example.com", FullName: "Alice", Role: domain.RoleUser})
	subject := store.AddSubject(domain.Subject{Name: "Math"})
	chapter := store.AddChapter(domain.Chapter{SubjectID: subject.ID, Name: "Algebra"})
	quiz := store.AddQuiz(domain.Quiz{ChapterID: chapter.ID, DurationMinutes: 10})
	store.AddQuestion(domain.Question{QuizID: quiz.ID, Text: "Q1", Options: []string{"a", "b", "c", "d"}, CorrectOption: 2})
	store.AddQuestion(domain.Question{QuizID: quiz.ID, Text: "Q2", Options: []string{"a", "b", "c", "d"}, CorrectOption: 4})

	return &testEnv{
		store:   store,
		history: history,
		clock:   clock,
		service: app.NewAttemptServiceWithClock(store, store, history, clock.Now),
		user:    user,
		quiz:    quiz,
	}
}

func (e *testEnv) addQuiz(t *testing.T, durationMinutes int, correctOptions ...int) domain.Quiz {
	t.Helper()
	quiz := e.store.AddQuiz(domain.Quiz{ChapterID: e.quiz.ChapterID, DurationMinutes: durationMinutes})
	for _, correct := range correctOptions {
		e.store.AddQuestion(domain.Question{QuizID: quiz.ID, Text: "Q", Options: []string{"a", "b", "c", "d"}, CorrectOption: correct})
	}
	return quiz
}

func TestStartReturnsDeadlineAndQuestions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.RemainingSeconds != 600 {
		t.Fatalf("expected 600s for a fresh attempt, got %d", result.RemainingSeconds)
	}
	if len(result.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(result.Questions))
	}
	if result.Resumed {
		t.Fatalf("fresh attempt must not be marked resumed")
	}
}

func TestStartUnknownQuiz(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.Start(context.Background(), env.user.ID, 9999); err != domain.ErrQuizNotFound {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestStartIdempotentWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	previous := first.RemainingSeconds
	for i := 0; i < 3; i++ {
		env.clock.Advance(30 * time.Second)
		again, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
		if err != nil {
			t.Fatalf("re-start: %v", err)
		}
		if again.Attempt.ID != first.Attempt.ID {
			t.Fatalf("expected same attempt id %d, got %d", first.Attempt.ID, again.Attempt.ID)
		}
		if !again.Resumed {
			t.Fatalf("expected resumed attempt")
		}
		if again.RemainingSeconds > previous {
			t.Fatalf("remaining must be non-increasing: %d then %d", previous, again.RemainingSeconds)
		}
		previous = again.RemainingSeconds
	}
}

func TestConcurrentStartYieldsOneAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 32
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
			if err != nil {
				t.Errorf("concurrent start: %v", err)
				return
			}
			ids[i] = result.Attempt.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent starts produced attempts %d and %d", ids[0], ids[i])
		}
	}
	records, err := env.store.ListAttempts(ctx, env.user.ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one attempt row, got %d", len(records))
	}
}

func TestSubmitScoresCorrectAnswers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	questions := started.Questions
	// Q1 answered correctly (option 2), Q2 answered wrong (option 1).
	result, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, map[int64]int{
		questions[0].ID: 2,
		questions[1].ID: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Correct != 1 || result.Total != 2 || result.Score != 50 {
		t.Fatalf("expected 1/2 = 50, got %+v", result)
	}
	if result.Expired {
		t.Fatalf("in-time submission must not be marked expired")
	}
}

func TestSubmitScoreIsIntegerFloor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	quiz := env.addQuiz(t, 10, 1, 1, 1, 1, 1) // five questions, all correct=1

	started, err := env.service.Start(ctx, env.user.ID, quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answers := map[int64]int{
		started.Questions[0].ID: 1,
		started.Questions[1].ID: 1,
		started.Questions[2].ID: 1,
		started.Questions[3].ID: 2,
		started.Questions[4].ID: 3,
	}
	result, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 60 || result.Correct != 3 || result.Total != 5 {
		t.Fatalf("expected 3/5 = 60, got %+v", result)
	}
}

func TestSubmitUnknownQuestionIDsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, map[int64]int{
		started.Questions[0].ID: 2,
		987654:                  1, // not part of this quiz
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Correct != 1 || result.Score != 50 {
		t.Fatalf("unknown ids must be ignored, got %+v", result)
	}
}

func TestSubmitExpiredScoresZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.clock.Advance(11 * time.Minute)

	// All answers correct, but the clock has run out.
	result, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, map[int64]int{
		started.Questions[0].ID: 2,
		started.Questions[1].ID: 4,
	})
	if err != nil {
		t.Fatalf("expired submit must succeed, got %v", err)
	}
	if !result.Expired || result.Score != 0 {
		t.Fatalf("expected expired zero score, got %+v", result)
	}

	score, ok := env.store.ScoreFor(started.Attempt.ID)
	if !ok {
		t.Fatalf("expired finalization must still insert a score")
	}
	if score.TotalScore != 0 {
		t.Fatalf("expected stored score 0, got %d", score.TotalScore)
	}
}

func TestSubmitRejectsResubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, nil); err != domain.ErrAlreadySubmitted {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestSubmitForbiddenForOtherUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mallory := env.store.AddUser(domain.User{Email: "mallory@example.com", FullName: "Mallory", Role: domain.RoleUser})

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Submit(ctx, mallory.ID, started.Attempt.ID, nil); err != domain.ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSubmitUnknownAttempt(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.Submit(context.Background(), env.user.ID, 424242, nil); err != domain.ErrAttemptNotFound {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestSubmitZeroQuestionQuiz(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	empty := env.addQuiz(t, 10) // no questions at all

	started, err := env.service.Start(ctx, env.user.ID, empty.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, nil)
	if err != nil {
		t.Fatalf("submit on empty quiz: %v", err)
	}
	if result.Score != 0 || result.Correct != 0 {
		t.Fatalf("empty quiz must score 0, got %+v", result)
	}
}

func TestConcurrentSubmitExactlyOneScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, map[int64]int{
				started.Questions[0].ID: 2,
			})
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				successes++
			case domain.ErrAlreadySubmitted:
				conflicts++
			default:
				t.Errorf("unexpected submit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one winning submit, got %d (conflicts %d)", successes, conflicts)
	}
	if conflicts != n-1 {
		t.Fatalf("expected %d conflicts, got %d", n-1, conflicts)
	}
	if _, ok := env.store.ScoreFor(started.Attempt.ID); !ok {
		t.Fatalf("winning submit must have inserted a score")
	}
}

func TestResumeReturnsRemainingTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.clock.Advance(3 * time.Minute)

	resumed, err := env.service.Resume(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Attempt.ID != started.Attempt.ID {
		t.Fatalf("resume must return the open attempt")
	}
	if resumed.RemainingSeconds != 420 {
		t.Fatalf("expected 420s remaining, got %d", resumed.RemainingSeconds)
	}
}

func TestResumeWithoutActiveAttempt(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.Resume(context.Background(), env.user.ID, env.quiz.ID); err != domain.ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt, got %v", err)
	}
}

func TestResumeLazilyFinalizesExpiredAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.clock.Advance(15 * time.Minute)

	if _, err := env.service.Resume(ctx, env.user.ID, env.quiz.ID); err != domain.ErrAttemptExpired {
		t.Fatalf("expected ErrAttemptExpired, got %v", err)
	}

	// The lazy finalize closed the attempt with an empty answer set.
	attempt, err := env.store.GetAttempt(ctx, started.Attempt.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if !attempt.Finalized() {
		t.Fatalf("expired attempt must be finalized on resume")
	}
	score, ok := env.store.ScoreFor(started.Attempt.ID)
	if !ok || score.TotalScore != 0 {
		t.Fatalf("lazy expiry must record a zero score, got %+v ok=%v", score, ok)
	}

	// The loser of the finalize race observes terminal states, never a
	// second score.
	if _, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, nil); err != domain.ErrAlreadySubmitted {
		t.Fatalf("expected ErrAlreadySubmitted after lazy expiry, got %v", err)
	}
	if _, err := env.service.Resume(ctx, env.user.ID, env.quiz.ID); err != domain.ErrNoActiveAttempt {
		t.Fatalf("expected ErrNoActiveAttempt after finalization, got %v", err)
	}
}

func TestFinalizedAttemptAlwaysHasScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Mix of normal submits, expired submits, and lazy expiry.
	first, _ := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if _, err := env.service.Submit(ctx, env.user.ID, first.Attempt.ID, map[int64]int{first.Questions[0].ID: 2}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	second, _ := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	env.clock.Advance(time.Hour)
	if _, err := env.service.Resume(ctx, env.user.ID, env.quiz.ID); err != domain.ErrAttemptExpired {
		t.Fatalf("expected lazy expiry, got %v", err)
	}

	for _, attemptID := range []int64{first.Attempt.ID, second.Attempt.ID} {
		attempt, err := env.store.GetAttempt(ctx, attemptID)
		if err != nil {
			t.Fatalf("get attempt %d: %v", attemptID, err)
		}
		if !attempt.Finalized() {
			t.Fatalf("attempt %d should be finalized", attemptID)
		}
		if _, ok := env.store.ScoreFor(attemptID); !ok {
			t.Fatalf("finalized attempt %d has no score", attemptID)
		}
	}
}

func TestHistoryCachedAndInvalidatedOnFinalize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, env.user.ID, env.quiz.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	history, err := env.service.History(ctx, env.user.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].TotalScore != nil {
		t.Fatalf("expected one in-progress row, got %+v", history)
	}
	if _, ok := env.history.GetHistory(ctx, env.user.ID); !ok {
		t.Fatalf("history should be cached after read")
	}

	if _, err := env.service.Submit(ctx, env.user.ID, started.Attempt.ID, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, ok := env.history.GetHistory(ctx, env.user.ID); ok {
		t.Fatalf("submit must invalidate the cached history")
	}

	history, err = env.service.History(ctx, env.user.ID)
	if err != nil {
		t.Fatalf("history after submit: %v", err)
	}
	if len(history) != 1 || history[0].TotalScore == nil {
		t.Fatalf("expected one finalized row with score, got %+v", history)
	}
}
