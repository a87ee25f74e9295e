package export

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/tasks"
)

// Jobs wraps the export service's operations as queue-submittable work.
// Each job completes or fails atomically from the caller's perspective:
// CSV runs write fresh timestamped files, and the monthly report only
// sends after rendering succeeded.
type Jobs struct {
	exports  *Service
	reports  *app.ReportingService
	notifier app.Notifier

	// deliveryFailures counts best-effort sends that did not go through.
	// Delivery trouble never fails the report that produced the payload.
	deliveryFailures atomic.Int64
}

func NewJobs(exports *Service, reports *app.ReportingService, notifier app.Notifier) *Jobs {
	return &Jobs{exports: exports, reports: reports, notifier: notifier}
}

// UserStats exports the per-user statistics CSV.
func (j *Jobs) UserStats() tasks.Job {
	return func(ctx context.Context) (string, error) {
		rows, err := j.exports.UserStatsRows(ctx)
		if err != nil {
			return "", err
		}
		return j.exports.WriteCSV("user_quiz_statistics", rows)
	}
}

// QuizStats exports the per-quiz statistics CSV.
func (j *Jobs) QuizStats() tasks.Job {
	return func(ctx context.Context) (string, error) {
		rows, err := j.exports.QuizStatsRows(ctx)
		if err != nil {
			return "", err
		}
		return j.exports.WriteCSV("quiz_statistics", rows)
	}
}

// UserHistory exports one user's attempt history CSV.
func (j *Jobs) UserHistory(userID int64) tasks.Job {
	return func(ctx context.Context) (string, error) {
		rows, err := j.exports.UserHistoryRows(ctx, userID)
		if err != nil {
			return "", err
		}
		return j.exports.WriteCSV(fmt.Sprintf("user_%d_history", userID), rows)
	}
}

// MonthlyReport builds, renders, and dispatches one user's monthly activity
// report to the given address.
func (j *Jobs) MonthlyReport(userID int64, month time.Time, to string) tasks.Job {
	return func(ctx context.Context) (string, error) {
		report, err := j.reports.MonthlyReport(ctx, userID, month)
		if err != nil {
			return "", err
		}
		body, err := app.RenderMonthlyReport(report)
		if err != nil {
			return "", err
		}

		subject := fmt.Sprintf("Your quiz activity for %s", report.Month.Format("January 2006"))
		if err := j.notifier.Send(ctx, to, subject, body); err != nil {
			j.deliveryFailures.Add(1)
			log.Printf("monthly report for user %d generated but not delivered to %s: %v", userID, to, err)
			return fmt.Sprintf("generated for %s; delivery failed", report.Month.Format("2006-01")), nil
		}
		return fmt.Sprintf("delivered to %s", to), nil
	}
}

// DeliveryFailures reports how many notification sends have failed.
func (j *Jobs) DeliveryFailures() int64 {
	return j.deliveryFailures.Load()
}
