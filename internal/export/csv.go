package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

// Column sets are operator-facing contracts: order and names are consumed
// by downstream tooling and must not drift.
var (
	userStatsHeader = []string{
		"User ID", "Email", "Full Name", "Qualification", "Registered On",
		"Last Login", "Quizzes Taken", "Average Score (%)", "Performance Level",
	}
	quizStatsHeader = []string{
		"Quiz ID", "Date", "Duration (minutes)", "Total Attempts",
		"Average Score (%)", "Minimum Score (%)", "Maximum Score (%)",
	}
	userHistoryHeader = []string{"Quiz ID", "Start Time", "End Time", "Score (%)"}
)

// HistoryLister reads a user's attempt history for export, bypassing the
// request-path cache.
type HistoryLister interface {
	ListAttempts(ctx context.Context, userID int64) ([]domain.AttemptRecord, error)
}

// Service renders reporting aggregates into timestamped CSV artifacts.
// Every run writes a fresh file, so re-running a task never clobbers an
// earlier export.
type Service struct {
	reports *app.ReportingService
	history HistoryLister
	dir     string
	now     func() time.Time
}

func NewService(reports *app.ReportingService, history HistoryLister, dir string) *Service {
	return NewServiceWithClock(reports, history, dir, time.Now)
}

// NewServiceWithClock allows deterministic filenames in tests.
func NewServiceWithClock(reports *app.ReportingService, history HistoryLister, dir string, now func() time.Time) *Service {
	return &Service{reports: reports, history: history, dir: dir, now: now}
}

// UserStatsRows builds the per-user statistics snapshot, header first.
func (s *Service) UserStatsRows(ctx context.Context) ([][]string, error) {
	stats, err := s.reports.UserStatistics(ctx)
	if err != nil {
		return nil, err
	}
	rows := [][]string{userStatsHeader}
	for _, st := range stats {
		average := "N/A"
		if st.QuizzesTaken > 0 {
			average = fmt.Sprintf("%.2f", st.AverageScore)
		}
		qualification := st.Qualification
		if qualification == "" {
			qualification = "N/A"
		}
		lastLogin := "Never"
		if !st.LastLogin.IsZero() {
			lastLogin = st.LastLogin.UTC().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", st.UserID),
			st.Email,
			st.FullName,
			qualification,
			st.RegisteredOn.UTC().Format("2006-01-02"),
			lastLogin,
			fmt.Sprintf("%d", st.QuizzesTaken),
			average,
			st.Tier,
		})
	}
	return rows, nil
}

// QuizStatsRows builds the per-quiz statistics snapshot, header first.
func (s *Service) QuizStatsRows(ctx context.Context) ([][]string, error) {
	stats, err := s.reports.QuizStatistics(ctx)
	if err != nil {
		return nil, err
	}
	rows := [][]string{quizStatsHeader}
	for _, st := range stats {
		date := "Not scheduled"
		if !st.DateOfQuiz.IsZero() {
			date = st.DateOfQuiz.UTC().Format("2006-01-02")
		}
		minScore, maxScore := "N/A", "N/A"
		if st.MinScore != nil {
			minScore = fmt.Sprintf("%d", *st.MinScore)
		}
		if st.MaxScore != nil {
			maxScore = fmt.Sprintf("%d", *st.MaxScore)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", st.QuizID),
			date,
			fmt.Sprintf("%d", st.DurationMinutes),
			fmt.Sprintf("%d", st.TotalAttempts),
			fmt.Sprintf("%.2f", st.AverageScore),
			minScore,
			maxScore,
		})
	}
	return rows, nil
}

// UserHistoryRows builds one user's attempt history snapshot, header first.
func (s *Service) UserHistoryRows(ctx context.Context, userID int64) ([][]string, error) {
	records, err := s.history.ListAttempts(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows := [][]string{userHistoryHeader}
	for _, r := range records {
		end := "In Progress"
		if r.EndTime != nil {
			end = r.EndTime.UTC().Format("2006-01-02 15:04")
		}
		score := "N/A"
		if r.TotalScore != nil {
			score = fmt.Sprintf("%d", *r.TotalScore)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.QuizID),
			r.StartTime.UTC().Format("2006-01-02 15:04"),
			end,
			score,
		})
	}
	return rows, nil
}

// WriteCSV persists rows under the export dir with a timestamped name and
// returns the artifact path.
func (s *Service) WriteCSV(prefix string, rows [][]string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.csv", prefix, s.now().UTC().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}
