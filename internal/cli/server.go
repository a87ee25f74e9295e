package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/auth"
	"quizmaster-service/internal/config"
	"quizmaster-service/internal/domain"
	"quizmaster-service/internal/export"
	"quizmaster-service/internal/infra/memory"
	pginfra "quizmaster-service/internal/infra/postgres"
	redisinfra "quizmaster-service/internal/infra/redis"
	smtpinfra "quizmaster-service/internal/infra/smtp"
	"quizmaster-service/internal/tasks"
	transport "quizmaster-service/internal/transport/http"
)

// backingStore is the full persistence surface the server wires up. Both
// the postgres store and the in-memory fallback satisfy it.
type backingStore interface {
	app.AttemptStore
	app.ReportStore
	auth.UserStore
	redisinfra.QuizLoader
	app.QuestionBank
}

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store backingStore
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		pool, err := pginfra.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = pginfra.NewStore(pool)
	} else {
		log.Printf("no postgres url configured, using in-memory store with sample data")
		mem := memory.NewStore()
		seedSampleData(mem)
		store = mem
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	questionTTL := config.TTLDuration(cfg.Cache.QuestionTTL, 10*time.Minute)
	historyTTL := config.TTLDuration(cfg.Cache.HistoryTTL, 5*time.Minute)
	statusTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var bank app.QuestionBank = store
	var historyCache app.HistoryCache = memory.NewHistoryCache()
	var statusStore tasks.StatusStore = memory.NewStatusStore()
	if redisClient != nil {
		bank = redisinfra.NewQuestionBank(redisClient, store, questionTTL)
		historyCache = redisinfra.NewHistoryCache(redisClient, historyTTL)
		statusStore = redisinfra.NewStatusStore(redisClient, statusTTL)
	}

	var notifier app.Notifier = smtpinfra.LogNotifier{}
	if cfg.SMTP.Addr != "" {
		notifier = smtpinfra.NewNotifier(cfg.SMTP.Addr, cfg.SMTP.From)
	}

	attempts := app.NewAttemptService(store, bank, historyCache)
	reports := app.NewReportingService(store, store)
	authSvc := auth.NewService(store, cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))

	workers := cfg.Exports.Workers
	if workers < 1 {
		workers = 2
	}
	queue := tasks.NewQueue(statusStore, workers)

	exportDir := cfg.Exports.Dir
	if exportDir == "" {
		exportDir = "exports"
	}
	exports := export.NewService(reports, store, exportDir)
	jobs := export.NewJobs(exports, reports, notifier)

	handler := transport.NewHandler(attempts, reports, authSvc, store, queue, jobs)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quizmaster service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Let queued exports finish before exiting.
	return queue.Close()
}

// seedSampleData gives the in-memory fallback something to serve.
func seedSampleData(store *memory.Store) {
	subject := store.AddSubject(domain.Subject{Name: "General Knowledge"})
	chapter := store.AddChapter(domain.Chapter{SubjectID: subject.ID, Name: "Basics"})
	quiz := store.AddQuiz(domain.Quiz{
		ChapterID:       chapter.ID,
		DateOfQuiz:      time.Now().UTC().Truncate(24 * time.Hour),
		DurationMinutes: 10,
		Remarks:         "Sample quiz",
	})
	store.AddQuestion(domain.Question{
		QuizID:        quiz.ID,
		Text:          "What is 2 + 2?",
		Options:       []string{"3", "4", "5"},
		CorrectOption: 2,
	})
	store.AddQuestion(domain.Question{
		QuizID:        quiz.ID,
		Text:          "Which planet is known as the Red Planet?",
		Options:       []string{"Venus", "Jupiter", "Mars", "Saturn"},
		CorrectOption: 3,
	})
}
