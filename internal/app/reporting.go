package app

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"quizmaster-service/internal/domain"
)

// ReportStore is the read-side view over finalized attempts and their
// scores. Implementations must only consider attempts with a non-null
// end_time; open attempts are invisible to reporting.
type ReportStore interface {
	UserStats(ctx context.Context) ([]domain.UserStats, error)
	QuizStats(ctx context.Context) ([]domain.QuizStats, error)
	// UserAverages returns each user's mean score over finalized attempts
	// whose end_time falls in [from, to).
	UserAverages(ctx context.Context, from, to time.Time) ([]domain.UserAverage, error)
	// UserAttemptsInRange returns one user's finalized attempts in [from, to).
	UserAttemptsInRange(ctx context.Context, userID int64, from, to time.Time) ([]domain.AttemptRecord, error)
}

// UserDirectory resolves user identities for report headers.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (domain.User, error)
}

// Notifier delivers a rendered report. Delivery is best-effort: a failed
// send never fails the report that produced it.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ReportingService builds point-in-time aggregates over finalized attempts.
// Every method is a pure read: it terminates over a finite snapshot and
// never mutates attempt data.
type ReportingService struct {
	store ReportStore
	users UserDirectory
}

func NewReportingService(store ReportStore, users UserDirectory) *ReportingService {
	return &ReportingService{store: store, users: users}
}

// PerformanceTier buckets an average score. Boundary values go to the
// higher tier.
func PerformanceTier(average float64) string {
	switch {
	case average >= 80:
		return "Excellent"
	case average >= 60:
		return "Good"
	case average >= 40:
		return "Average"
	default:
		return "Needs Improvement"
	}
}

// CompetitionRank orders users by average score descending and assigns
// standard competition ranks: tied averages share a rank, and the next
// distinct average gets 1 + the number of users strictly above it.
func CompetitionRank(averages []domain.UserAverage) []domain.RankedUser {
	sorted := make([]domain.UserAverage, len(averages))
	copy(sorted, averages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AverageScore > sorted[j].AverageScore
	})

	ranked := make([]domain.RankedUser, 0, len(sorted))
	for i, ua := range sorted {
		rank := i + 1
		if i > 0 && ua.AverageScore == sorted[i-1].AverageScore {
			rank = ranked[i-1].Rank
		}
		ranked = append(ranked, domain.RankedUser{UserAverage: ua, Rank: rank})
	}
	return ranked
}

// UserStatistics returns per-user aggregates with performance tiers applied.
func (s *ReportingService) UserStatistics(ctx context.Context) ([]domain.UserStats, error) {
	stats, err := s.store.UserStats(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stats {
		stats[i].Tier = PerformanceTier(stats[i].AverageScore)
	}
	return stats, nil
}

// QuizStatistics returns count/mean/min/max per quiz.
func (s *ReportingService) QuizStatistics(ctx context.Context) ([]domain.QuizStats, error) {
	return s.store.QuizStats(ctx)
}

// MonthWindow returns the [first instant, first instant of next month)
// window containing t, in UTC.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// MonthlyRanking ranks every user active in the month containing month.
func (s *ReportingService) MonthlyRanking(ctx context.Context, month time.Time) ([]domain.RankedUser, error) {
	from, to := MonthWindow(month)
	averages, err := s.store.UserAverages(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return CompetitionRank(averages), nil
}

// MonthlyReport builds one user's activity summary for the month containing
// month: their finalized attempts, average score, and competition rank among
// all users active that month. A user with no activity gets an empty report
// with rank 0.
func (s *ReportingService) MonthlyReport(ctx context.Context, userID int64, month time.Time) (domain.MonthlyReport, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.MonthlyReport{}, err
	}

	from, to := MonthWindow(month)
	attempts, err := s.store.UserAttemptsInRange(ctx, userID, from, to)
	if err != nil {
		return domain.MonthlyReport{}, err
	}

	ranking, err := s.MonthlyRanking(ctx, month)
	if err != nil {
		return domain.MonthlyReport{}, err
	}

	report := domain.MonthlyReport{
		UserID:      userID,
		FullName:    user.FullName,
		Month:       from,
		Attempts:    attempts,
		TotalRanked: len(ranking),
	}
	for _, entry := range ranking {
		if entry.UserID == userID {
			report.AverageScore = entry.AverageScore
			report.Rank = entry.Rank
			break
		}
	}
	return report, nil
}

var monthlyReportTmpl = template.Must(template.New("monthly").Parse(`<html>
<body>
<h2>Quiz activity for {{.FullName}} — {{.Month.Format "January 2006"}}</h2>
<p>Quizzes taken: {{len .Attempts}}</p>
{{if .Rank}}<p>Average score: {{printf "%.2f" .AverageScore}}% — ranked {{.Rank}} of {{.TotalRanked}} active users.</p>
{{else}}<p>No finalized quiz attempts this month.</p>{{end}}
<table border="1" cellpadding="4">
<tr><th>Quiz</th><th>Started</th><th>Finished</th><th>Score (%)</th></tr>
{{range .Attempts}}<tr><td>{{.QuizID}}</td><td>{{.StartTime.Format "2006-01-02 15:04"}}</td><td>{{if .EndTime}}{{.EndTime.Format "2006-01-02 15:04"}}{{else}}In Progress{{end}}</td><td>{{if .TotalScore}}{{.TotalScore}}{{else}}N/A{{end}}</td></tr>
{{end}}</table>
</body>
</html>`))

// RenderMonthlyReport renders the report as the HTML body handed to the
// notification dispatcher.
func RenderMonthlyReport(report domain.MonthlyReport) (string, error) {
	var buf bytes.Buffer
	if err := monthlyReportTmpl.Execute(&buf, report); err != nil {
		return "", fmt.Errorf("render monthly report: %w", err)
	}
	return buf.String(), nil
}
