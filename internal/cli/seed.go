package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"quizmaster-service/internal/config"
	"quizmaster-service/internal/domain"
	pginfra "quizmaster-service/internal/infra/postgres"
)

// NewSeedCmd populates the database with an admin account and sample
// content. Safe to re-run: the admin insert is skipped when the email is
// already taken.
func NewSeedCmd(configPath *string) *cobra.Command {
	var adminEmail, adminPassword string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the database with an admin user and sample quizzes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg); err != nil {
				return err
			}
			return runSeed(cmd.Context(), cfg, adminEmail, adminPassword)
		},
	}

	cmd.Flags().StringVar(&adminEmail, "admin-email", "admin@quizmaster.local", "admin account email")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "admin123", "admin account password")
	return cmd
}

func runSeed(ctx context.Context, cfg config.Config, adminEmail, adminPassword string) error {
	pool, err := pginfra.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := pginfra.NewStore(pool)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	now := time.Now().UTC()
	_, err = store.CreateUser(ctx, domain.User{
		Email:        adminEmail,
		PasswordHash: string(hash),
		FullName:     "Administrator",
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
		LastLogin:    now,
	})
	switch err {
	case nil:
		log.Printf("created admin account %s", adminEmail)
	case domain.ErrEmailTaken:
		log.Printf("admin account %s already exists", adminEmail)
	default:
		return err
	}

	subject, err := store.CreateSubject(ctx, domain.Subject{
		Name:        "General Knowledge",
		Description: "Mixed-topic starter quizzes",
	})
	if err != nil {
		return err
	}
	chapter, err := store.CreateChapter(ctx, domain.Chapter{
		SubjectID: subject.ID,
		Name:      "Basics",
	})
	if err != nil {
		return err
	}
	quiz, err := store.CreateQuiz(ctx, domain.Quiz{
		ChapterID:       chapter.ID,
		DateOfQuiz:      now.Truncate(24 * time.Hour),
		DurationMinutes: 10,
		Remarks:         "Sample quiz",
	})
	if err != nil {
		return err
	}

	questions := []domain.Question{
		{QuizID: quiz.ID, Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: 2},
		{QuizID: quiz.ID, Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Jupiter", "Mars", "Saturn"}, CorrectOption: 3},
	}
	for _, q := range questions {
		if _, err := store.CreateQuestion(ctx, q); err != nil {
			return err
		}
	}

	log.Printf("seeded subject %d, chapter %d, quiz %d with %d questions", subject.ID, chapter.ID, quiz.ID, len(questions))
	return nil
}
