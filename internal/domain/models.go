package domain

import "time"

// Role distinguishes administrators from regular quiz takers.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is a registered account. PasswordHash is a bcrypt hash; the raw
// credential never leaves the auth layer.
type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	FullName      string    `json:"full_name"`
	Qualification string    `json:"qualification,omitempty"`
	Role          Role      `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
	LastLogin     time.Time `json:"last_login"`
}

// Subject groups chapters, which in turn group quizzes.
type Subject struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Chapter struct {
	ID          int64  `json:"id"`
	SubjectID   int64  `json:"subject_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Quiz is a time-boxed set of questions. DurationMinutes bounds every
// attempt; quizzes are treated as immutable once attempts exist.
type Quiz struct {
	ID              int64     `json:"id"`
	ChapterID       int64     `json:"chapter_id"`
	DateOfQuiz      time.Time `json:"date_of_quiz"`
	DurationMinutes int       `json:"duration_minutes"`
	Remarks         string    `json:"remarks,omitempty"`
}

// Question is a multiple-choice question with 2 to 4 options.
// CorrectOption is 1-based, matching option positions; submitted answers
// use the same 1-based convention.
type Question struct {
	ID            int64    `json:"id"`
	QuizID        int64    `json:"quiz_id"`
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"-"`
}

// Attempt is one user's time-boxed run at one quiz. EndTime nil means the
// attempt is still open; at most one open attempt may exist per
// (user, quiz) pair. Finalization sets EndTime exactly once.
type Attempt struct {
	ID        int64      `json:"id"`
	QuizID    int64      `json:"quiz_id"`
	UserID    int64      `json:"user_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Finalized reports whether the attempt has been scored.
func (a Attempt) Finalized() bool {
	return a.EndTime != nil
}

// Score is the 1:1 result of a finalized attempt, created atomically with
// the attempt's EndTime. TotalScore is an integer percentage in [0,100].
type Score struct {
	ID            int64     `json:"id"`
	QuizAttemptID int64     `json:"quiz_attempt_id"`
	UserID        int64     `json:"user_id"`
	TotalScore    int       `json:"total_score"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttemptRecord is a history row: an attempt joined with its score, if any.
type AttemptRecord struct {
	Attempt
	TotalScore *int `json:"total_score,omitempty"`
}

// SubmissionResult summarizes a finalize operation.
type SubmissionResult struct {
	Score   int  `json:"score"`
	Correct int  `json:"correct"`
	Total   int  `json:"total"`
	Expired bool `json:"expired"`
}

// UserStats is the per-user reporting row.
type UserStats struct {
	UserID        int64     `json:"user_id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	Qualification string    `json:"qualification,omitempty"`
	RegisteredOn  time.Time `json:"registered_on"`
	LastLogin     time.Time `json:"last_login"`
	QuizzesTaken  int       `json:"quizzes_taken"`
	AverageScore  float64   `json:"average_score"`
	Tier          string    `json:"performance_level"`
}

// QuizStats is the per-quiz reporting row.
type QuizStats struct {
	QuizID          int64     `json:"quiz_id"`
	DateOfQuiz      time.Time `json:"date"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalAttempts   int       `json:"total_attempts"`
	AverageScore    float64   `json:"average_score"`
	MinScore        *int      `json:"min_score,omitempty"`
	MaxScore        *int      `json:"max_score,omitempty"`
}

// UserAverage is one user's mean score inside a reporting window.
type UserAverage struct {
	UserID       int64   `json:"user_id"`
	FullName     string  `json:"full_name"`
	AverageScore float64 `json:"average_score"`
	Attempts     int     `json:"attempts"`
}

// RankedUser is a UserAverage with its competition rank: tied averages
// share a rank and the next distinct average gets 1 + the number of users
// strictly above it.
type RankedUser struct {
	UserAverage
	Rank int `json:"rank"`
}

// MonthlyReport is the monthly activity summary for one user.
type MonthlyReport struct {
	UserID       int64           `json:"user_id"`
	FullName     string          `json:"full_name"`
	Month        time.Time       `json:"month"`
	Attempts     []AttemptRecord `json:"attempts"`
	AverageScore float64         `json:"average_score"`
	Rank         int             `json:"rank"`
	TotalRanked  int             `json:"total_ranked"`
}
