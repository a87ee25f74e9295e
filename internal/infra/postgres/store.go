package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizmaster-service/internal/domain"
)

// Store is the Postgres persistence layer. The attempt-lifecycle guarantees
// live in the schema: a partial unique index keeps at most one open attempt
// per (user, quiz), and finalization is a conditional UPDATE on end_time
// committed together with the score row.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgx pool against url and pings it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	maxTransientRetries = 3
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// isTransient reports whether retrying the whole transaction can succeed.
// Business conflicts (unique violations) are never transient.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < maxTransientRetries; i++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// StartAttempt inserts an open attempt, relying on the partial unique index
// to serialize concurrent starts. The loser of the insert race reads back the
// winner's row. The loop covers the narrow window where the conflicting
// attempt finalizes between our insert and our read.
func (s *Store) StartAttempt(ctx context.Context, userID, quizID int64, startTime time.Time) (domain.Attempt, bool, error) {
	for i := 0; i < maxTransientRetries; i++ {
		var attempt domain.Attempt
		err := s.pool.QueryRow(ctx,
			`INSERT INTO quiz_attempts (user_id, quiz_id, start_time) VALUES ($1, $2, $3)
			 RETURNING id, quiz_id, user_id, start_time, end_time`,
			userID, quizID, startTime.UTC(),
		).Scan(&attempt.ID, &attempt.QuizID, &attempt.UserID, &attempt.StartTime, &attempt.EndTime)
		if err == nil {
			normalizeAttempt(&attempt)
			return attempt, true, nil
		}
		if !isUniqueViolation(err) {
			return domain.Attempt{}, false, fmt.Errorf("insert attempt: %w", err)
		}

		existing, err := s.GetActiveAttempt(ctx, userID, quizID)
		if err == nil {
			return existing, false, nil
		}
		if err != domain.ErrNoActiveAttempt {
			return domain.Attempt{}, false, err
		}
	}
	return domain.Attempt{}, false, fmt.Errorf("start attempt: gave up after %d conflicts", maxTransientRetries)
}

func (s *Store) GetActiveAttempt(ctx context.Context, userID, quizID int64) (domain.Attempt, error) {
	var attempt domain.Attempt
	err := s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, user_id, start_time, end_time FROM quiz_attempts
		 WHERE user_id=$1 AND quiz_id=$2 AND end_time IS NULL`,
		userID, quizID,
	).Scan(&attempt.ID, &attempt.QuizID, &attempt.UserID, &attempt.StartTime, &attempt.EndTime)
	if err == pgx.ErrNoRows {
		return domain.Attempt{}, domain.ErrNoActiveAttempt
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("get active attempt: %w", err)
	}
	normalizeAttempt(&attempt)
	return attempt, nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID int64) (domain.Attempt, error) {
	var attempt domain.Attempt
	err := s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, user_id, start_time, end_time FROM quiz_attempts WHERE id=$1`,
		attemptID,
	).Scan(&attempt.ID, &attempt.QuizID, &attempt.UserID, &attempt.StartTime, &attempt.EndTime)
	if err == pgx.ErrNoRows {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	normalizeAttempt(&attempt)
	return attempt, nil
}

// FinalizeAttempt closes the attempt and records its score in one
// transaction. The UPDATE's end_time IS NULL guard is the compare-and-swap
// that decides the winner under concurrent submits.
func (s *Store) FinalizeAttempt(ctx context.Context, attemptID int64, endTime time.Time, totalScore int) error {
	return withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin finalize: %w", err)
		}
		defer tx.Rollback(ctx)

		var userID int64
		err = tx.QueryRow(ctx,
			`UPDATE quiz_attempts SET end_time=$2 WHERE id=$1 AND end_time IS NULL RETURNING user_id`,
			attemptID, endTime.UTC(),
		).Scan(&userID)
		if err == pgx.ErrNoRows {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM quiz_attempts WHERE id=$1)`, attemptID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check attempt: %w", err)
			}
			if !exists {
				return domain.ErrAttemptNotFound
			}
			return domain.ErrAlreadySubmitted
		}
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO scores (quiz_attempt_id, user_id, total_score, created_at) VALUES ($1, $2, $3, $4)`,
			attemptID, userID, totalScore, endTime.UTC(),
		); err != nil {
			return fmt.Errorf("insert score: %w", err)
		}

		return tx.Commit(ctx)
	})
}

func (s *Store) ListAttempts(ctx context.Context, userID int64) ([]domain.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.quiz_id, a.user_id, a.start_time, a.end_time, sc.total_score
		 FROM quiz_attempts a
		 LEFT JOIN scores sc ON sc.quiz_attempt_id = a.id
		 WHERE a.user_id=$1
		 ORDER BY a.start_time DESC, a.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
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

func (s *Store) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, full_name, qualification, role, created_at, last_login)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $6)
		 RETURNING id`,
		user.Email, user.PasswordHash, user.FullName, user.Qualification, string(user.Role), user.CreatedAt.UTC(),
	).Scan(&user.ID)
	if isUniqueViolation(err) {
		return domain.User{}, domain.ErrEmailTaken
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	user.LastLogin = user.CreatedAt
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return s.getUser(ctx, `WHERE id=$1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.getUser(ctx, `WHERE email=$1`, email)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (domain.User, error) {
	var u domain.User
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, full_name, COALESCE(qualification, ''), role, created_at, last_login
		 FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Qualification, &role, &u.CreatedAt, &u.LastLogin)
	if err == pgx.ErrNoRows {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	u.Role = domain.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.LastLogin = u.LastLogin.UTC()
	return u, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login=$2 WHERE id=$1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// normalizeAttempt pins timestamps to UTC; pgx scans timestamptz in the
// session time zone.
func normalizeAttempt(a *domain.Attempt) {
	a.StartTime = a.StartTime.UTC()
	if a.EndTime != nil {
		t := a.EndTime.UTC()
		a.EndTime = &t
	}
}
