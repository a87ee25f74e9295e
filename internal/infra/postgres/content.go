package postgres

import (
	"context"
	"fmt"

	"quizmaster-service/internal/domain"
)

// Content writers, used by the seed command and admin tooling.

func (s *Store) CreateSubject(ctx context.Context, subject domain.Subject) (domain.Subject, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subjects (name, description) VALUES ($1, NULLIF($2, ''))
		 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		 RETURNING id`,
		subject.Name, subject.Description,
	).Scan(&subject.ID)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("create subject: %w", err)
	}
	return subject, nil
}

func (s *Store) CreateChapter(ctx context.Context, chapter domain.Chapter) (domain.Chapter, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chapters (subject_id, name, description) VALUES ($1, $2, NULLIF($3, ''))
		 RETURNING id`,
		chapter.SubjectID, chapter.Name, chapter.Description,
	).Scan(&chapter.ID)
	if err != nil {
		return domain.Chapter{}, fmt.Errorf("create chapter: %w", err)
	}
	return chapter, nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quizzes (chapter_id, date_of_quiz, time_duration, remarks)
		 VALUES ($1, $2, $3, NULLIF($4, ''))
		 RETURNING id`,
		quiz.ChapterID, quiz.DateOfQuiz.UTC(), quiz.DurationMinutes, quiz.Remarks,
	).Scan(&quiz.ID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}
	return quiz, nil
}

func (s *Store) CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	if len(q.Options) < 2 || len(q.Options) > 4 {
		return domain.Question{}, domain.ErrValidation
	}
	if q.CorrectOption < 1 || q.CorrectOption > len(q.Options) {
		return domain.Question{}, domain.ErrValidation
	}
	opts := make([]interface{}, 4)
	for i := range opts {
		if i < len(q.Options) {
			opts[i] = q.Options[i]
		}
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO questions (quiz_id, question_text, option1, option2, option3, option4, correct_option)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		q.QuizID, q.Text, opts[0], opts[1], opts[2], opts[3], q.CorrectOption,
	).Scan(&q.ID)
	if err != nil {
		return domain.Question{}, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}
