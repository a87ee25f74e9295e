package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"quizmaster-service/internal/domain"
)

// LoadQuiz reads quiz metadata straight from Postgres. The redis question
// bank wraps this as its backing loader.
func (s *Store) LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.pool.QueryRow(ctx,
		`SELECT id, chapter_id, date_of_quiz, time_duration, COALESCE(remarks, '')
		 FROM quizzes WHERE id=$1`,
		quizID,
	).Scan(&quiz.ID, &quiz.ChapterID, &quiz.DateOfQuiz, &quiz.DurationMinutes, &quiz.Remarks)
	if err == pgx.ErrNoRows {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	quiz.DateOfQuiz = quiz.DateOfQuiz.UTC()
	return quiz, nil
}

// LoadQuestions reads a quiz's questions with their correct options. Options
// are stored in four fixed columns; empty trailing columns collapse into a
// 2- or 3-option question.
func (s *Store) LoadQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	if _, err := s.LoadQuiz(ctx, quizID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, question_text, option1, option2, option3, option4, correct_option
		 FROM questions WHERE quiz_id=$1 ORDER BY id`,
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		var opt1, opt2 string
		var opt3, opt4 *string
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Text, &opt1, &opt2, &opt3, &opt4, &q.CorrectOption); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Options = []string{opt1, opt2}
		if opt3 != nil && *opt3 != "" {
			q.Options = append(q.Options, *opt3)
		}
		if opt4 != nil && *opt4 != "" {
			q.Options = append(q.Options, *opt4)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuiz satisfies the question bank interface directly, for deployments
// running without redis.
func (s *Store) GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	return s.LoadQuiz(ctx, quizID)
}

func (s *Store) GetQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	return s.LoadQuestions(ctx, quizID)
}
