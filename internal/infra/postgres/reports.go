package postgres

import (
	"context"
	"fmt"
	"time"

	"quizmaster-service/internal/domain"
)

// UserStats aggregates finalized attempts per regular user. Users with no
// finalized attempts still appear, with zero counts.
func (s *Store) UserStats(ctx context.Context) ([]domain.UserStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.email, u.full_name, COALESCE(u.qualification, ''), u.created_at, u.last_login,
		        COUNT(sc.id), COALESCE(AVG(sc.total_score), 0)
		 FROM users u
		 LEFT JOIN quiz_attempts a ON a.user_id = u.id AND a.end_time IS NOT NULL
		 LEFT JOIN scores sc ON sc.quiz_attempt_id = a.id
		 WHERE u.role = 'user'
		 GROUP BY u.id
		 ORDER BY u.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.UserStats
	for rows.Next() {
		var st domain.UserStats
		if err := rows.Scan(&st.UserID, &st.Email, &st.FullName, &st.Qualification,
			&st.RegisteredOn, &st.LastLogin, &st.QuizzesTaken, &st.AverageScore); err != nil {
			return nil, fmt.Errorf("scan user stats: %w", err)
		}
		st.RegisteredOn = st.RegisteredOn.UTC()
		st.LastLogin = st.LastLogin.UTC()
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// QuizStats aggregates finalized attempts per quiz. Min/Max stay nil for
// quizzes nobody has finished.
func (s *Store) QuizStats(ctx context.Context) ([]domain.QuizStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT q.id, q.date_of_quiz, q.time_duration,
		        COUNT(sc.id), COALESCE(AVG(sc.total_score), 0),
		        MIN(sc.total_score), MAX(sc.total_score)
		 FROM quizzes q
		 LEFT JOIN quiz_attempts a ON a.quiz_id = q.id AND a.end_time IS NOT NULL
		 LEFT JOIN scores sc ON sc.quiz_attempt_id = a.id
		 GROUP BY q.id
		 ORDER BY q.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("quiz stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.QuizStats
	for rows.Next() {
		var st domain.QuizStats
		if err := rows.Scan(&st.QuizID, &st.DateOfQuiz, &st.DurationMinutes,
			&st.TotalAttempts, &st.AverageScore, &st.MinScore, &st.MaxScore); err != nil {
			return nil, fmt.Errorf("scan quiz stats: %w", err)
		}
		st.DateOfQuiz = st.DateOfQuiz.UTC()
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// UserAverages returns each user's mean score over attempts finalized in
// [from, to). Users with no finalized attempts in the window are absent.
func (s *Store) UserAverages(ctx context.Context, from, to time.Time) ([]domain.UserAverage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.full_name, AVG(sc.total_score), COUNT(sc.id)
		 FROM users u
		 JOIN quiz_attempts a ON a.user_id = u.id
		 JOIN scores sc ON sc.quiz_attempt_id = a.id
		 WHERE a.end_time >= $1 AND a.end_time < $2
		 GROUP BY u.id
		 ORDER BY u.id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("user averages: %w", err)
	}
	defer rows.Close()

	var averages []domain.UserAverage
	for rows.Next() {
		var ua domain.UserAverage
		if err := rows.Scan(&ua.UserID, &ua.FullName, &ua.AverageScore, &ua.Attempts); err != nil {
			return nil, fmt.Errorf("scan user average: %w", err)
		}
		averages = append(averages, ua)
	}
	return averages, rows.Err()
}

// UserAttemptsInRange returns one user's attempts finalized in [from, to),
// oldest first.
func (s *Store) UserAttemptsInRange(ctx context.Context, userID int64, from, to time.Time) ([]domain.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.quiz_id, a.user_id, a.start_time, a.end_time, sc.total_score
		 FROM quiz_attempts a
		 LEFT JOIN scores sc ON sc.quiz_attempt_id = a.id
		 WHERE a.user_id=$1 AND a.end_time >= $2 AND a.end_time < $3
		 ORDER BY a.end_time, a.id`,
		userID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("attempts in range: %w", err)
	}
	defer rows.Close()

	var records []domain.AttemptRecord
	for rows.Next() {
		var rec domain.AttemptRecord
		if err := rows.Scan(&rec.ID, &rec.QuizID, &rec.UserID, &rec.StartTime, &rec.EndTime, &rec.TotalScore); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		normalizeAttempt(&rec.Attempt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
