package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizmaster-service/internal/domain"
)

// Store is an in-memory implementation of every persistence interface the
// services consume (attempt store, question bank, report store, user store).
// A single mutex serializes all access, which trivially gives the same
// guarantees the Postgres store gets from its constraints: one open attempt
// per (user, quiz), and an atomic end_time transition committed together
// with its score.
type Store struct {
	mu sync.RWMutex

	users    map[int64]domain.User
	byEmail  map[string]int64
	subjects map[int64]domain.Subject
	chapters map[int64]domain.Chapter
	quizzes  map[int64]domain.Quiz
	// questions are keyed by id and indexed per quiz in insertion order
	questions   map[int64]domain.Question
	questionIDs map[int64][]int64
	attempts    map[int64]domain.Attempt
	// scores are keyed by attempt id: the 1:1 ownership is structural
	scores map[int64]domain.Score

	nextID int64
}

func NewStore() *Store {
	return &Store{
		users:       make(map[int64]domain.User),
		byEmail:     make(map[string]int64),
		subjects:    make(map[int64]domain.Subject),
		chapters:    make(map[int64]domain.Chapter),
		quizzes:     make(map[int64]domain.Quiz),
		questions:   make(map[int64]domain.Question),
		questionIDs: make(map[int64][]int64),
		attempts:    make(map[int64]domain.Attempt),
		scores:      make(map[int64]domain.Score),
	}
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// --- seeding ---

func (s *Store) AddUser(u domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextIDLocked()
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u
}

func (s *Store) AddSubject(sub domain.Subject) domain.Subject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.nextIDLocked()
	}
	s.subjects[sub.ID] = sub
	return sub
}

func (s *Store) AddChapter(c domain.Chapter) domain.Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextIDLocked()
	}
	s.chapters[c.ID] = c
	return c
}

func (s *Store) AddQuiz(q domain.Quiz) domain.Quiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == 0 {
		q.ID = s.nextIDLocked()
	}
	s.quizzes[q.ID] = q
	return q
}

func (s *Store) AddQuestion(q domain.Question) domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == 0 {
		q.ID = s.nextIDLocked()
	}
	s.questions[q.ID] = q
	s.questionIDs[q.QuizID] = append(s.questionIDs[q.QuizID], q.ID)
	return q
}

// --- question bank (also usable as a cache loader) ---

func (s *Store) GetQuiz(_ context.Context, quizID int64) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func (s *Store) GetQuestions(_ context.Context, quizID int64) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.quizzes[quizID]; !ok {
		return nil, domain.ErrQuizNotFound
	}
	ids := s.questionIDs[quizID]
	questions := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		questions = append(questions, s.questions[id])
	}
	return questions, nil
}

// LoadQuiz and LoadQuestions satisfy the redis cache's loader interface.
func (s *Store) LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	return s.GetQuiz(ctx, quizID)
}

func (s *Store) LoadQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	return s.GetQuestions(ctx, quizID)
}

// --- attempt store ---

func (s *Store) StartAttempt(_ context.Context, userID, quizID int64, startTime time.Time) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attempts {
		if a.UserID == userID && a.QuizID == quizID && a.EndTime == nil {
			return a, false, nil
		}
	}

	attempt := domain.Attempt{
		ID:        s.nextIDLocked(),
		UserID:    userID,
		QuizID:    quizID,
		StartTime: startTime.UTC(),
	}
	s.attempts[attempt.ID] = attempt
	return attempt, true, nil
}

func (s *Store) GetActiveAttempt(_ context.Context, userID, quizID int64) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.UserID == userID && a.QuizID == quizID && a.EndTime == nil {
			return a, nil
		}
	}
	return domain.Attempt{}, domain.ErrNoActiveAttempt
}

func (s *Store) GetAttempt(_ context.Context, attemptID int64) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *Store) FinalizeAttempt(_ context.Context, attemptID int64, endTime time.Time, totalScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.EndTime != nil {
		return domain.ErrAlreadySubmitted
	}

	end := endTime.UTC()
	attempt.EndTime = &end
	s.attempts[attemptID] = attempt
	s.scores[attemptID] = domain.Score{
		ID:            s.nextIDLocked(),
		QuizAttemptID: attemptID,
		UserID:        attempt.UserID,
		TotalScore:    totalScore,
		CreatedAt:     end,
	}
	return nil
}

func (s *Store) ListAttempts(_ context.Context, userID int64) ([]domain.AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.AttemptRecord, 0)
	for _, a := range s.attempts {
		if a.UserID != userID {
			continue
		}
		record := domain.AttemptRecord{Attempt: a}
		if score, ok := s.scores[a.ID]; ok {
			total := score.TotalScore
			record.TotalScore = &total
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].StartTime.After(records[j].StartTime)
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

// ScoreFor exposes the score row for invariant checks in tests.
func (s *Store) ScoreFor(attemptID int64) (domain.Score, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[attemptID]
	return score, ok
}

// --- user store ---

func (s *Store) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return domain.User{}, domain.ErrEmailTaken
	}
	u.ID = s.nextIDLocked()
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.LastLogin = at.UTC()
	s.users[id] = u
	return nil
}

// --- report store (finalized attempts only) ---

func (s *Store) UserStats(_ context.Context) ([]domain.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]domain.UserStats, 0)
	for _, u := range s.users {
		if u.Role != domain.RoleUser {
			continue
		}
		taken := 0
		sum := 0
		for attemptID, score := range s.scores {
			if s.attempts[attemptID].UserID == u.ID {
				taken++
				sum += score.TotalScore
			}
		}
		avg := 0.0
		if taken > 0 {
			avg = float64(sum) / float64(taken)
		}
		stats = append(stats, domain.UserStats{
			UserID:        u.ID,
			Email:         u.Email,
			FullName:      u.FullName,
			Qualification: u.Qualification,
			RegisteredOn:  u.CreatedAt,
			LastLogin:     u.LastLogin,
			QuizzesTaken:  taken,
			AverageScore:  avg,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].UserID < stats[j].UserID })
	return stats, nil
}

func (s *Store) QuizStats(_ context.Context) ([]domain.QuizStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]domain.QuizStats, 0)
	for _, quiz := range s.quizzes {
		row := domain.QuizStats{
			QuizID:          quiz.ID,
			DateOfQuiz:      quiz.DateOfQuiz,
			DurationMinutes: quiz.DurationMinutes,
		}
		sum := 0
		for attemptID, score := range s.scores {
			if s.attempts[attemptID].QuizID != quiz.ID {
				continue
			}
			row.TotalAttempts++
			sum += score.TotalScore
			total := score.TotalScore
			if row.MinScore == nil || total < *row.MinScore {
				v := total
				row.MinScore = &v
			}
			if row.MaxScore == nil || total > *row.MaxScore {
				v := total
				row.MaxScore = &v
			}
		}
		if row.TotalAttempts > 0 {
			row.AverageScore = float64(sum) / float64(row.TotalAttempts)
		}
		stats = append(stats, row)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].QuizID < stats[j].QuizID })
	return stats, nil
}

func (s *Store) UserAverages(_ context.Context, from, to time.Time) ([]domain.UserAverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		sum, count int
	}
	byUser := make(map[int64]*acc)
	for attemptID, score := range s.scores {
		attempt := s.attempts[attemptID]
		if attempt.EndTime == nil || attempt.EndTime.Before(from) || !attempt.EndTime.Before(to) {
			continue
		}
		a, ok := byUser[attempt.UserID]
		if !ok {
			a = &acc{}
			byUser[attempt.UserID] = a
		}
		a.sum += score.TotalScore
		a.count++
	}

	averages := make([]domain.UserAverage, 0, len(byUser))
	for userID, a := range byUser {
		averages = append(averages, domain.UserAverage{
			UserID:       userID,
			FullName:     s.users[userID].FullName,
			AverageScore: float64(a.sum) / float64(a.count),
			Attempts:     a.count,
		})
	}
	sort.Slice(averages, func(i, j int) bool { return averages[i].UserID < averages[j].UserID })
	return averages, nil
}

func (s *Store) UserAttemptsInRange(_ context.Context, userID int64, from, to time.Time) ([]domain.AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.AttemptRecord, 0)
	for _, a := range s.attempts {
		if a.UserID != userID || a.EndTime == nil || a.EndTime.Before(from) || !a.EndTime.Before(to) {
			continue
		}
		record := domain.AttemptRecord{Attempt: a}
		if score, ok := s.scores[a.ID]; ok {
			total := score.TotalScore
			record.TotalScore = &total
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StartTime.Before(records[j].StartTime) })
	return records, nil
}

// HistoryCache is an in-memory history cache with the same interface shape
// as the Redis one.
type HistoryCache struct {
	mu      sync.RWMutex
	entries map[int64][]domain.AttemptRecord
}

func NewHistoryCache() *HistoryCache {
	return &HistoryCache{entries: make(map[int64][]domain.AttemptRecord)}
}

func (c *HistoryCache) GetHistory(_ context.Context, userID int64) ([]domain.AttemptRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	records, ok := c.entries[userID]
	return records, ok
}

func (c *HistoryCache) SetHistory(_ context.Context, userID int64, records []domain.AttemptRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = records
}

func (c *HistoryCache) InvalidateHistory(_ context.Context, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
