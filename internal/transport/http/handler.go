package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/auth"
	"quizmaster-service/internal/domain"
	"quizmaster-service/internal/export"
	"quizmaster-service/internal/tasks"
)

// Handler wires the quiz API onto a chi router.
type Handler struct {
	attempts *app.AttemptService
	reports  *app.ReportingService
	auth     *auth.Service
	users    app.UserDirectory
	queue    *tasks.Queue
	jobs     *export.Jobs
	ws       *WSHandler
}

func NewHandler(
	attempts *app.AttemptService,
	reports *app.ReportingService,
	authSvc *auth.Service,
	users app.UserDirectory,
	queue *tasks.Queue,
	jobs *export.Jobs,
) *Handler {
	return &Handler{
		attempts: attempts,
		reports:  reports,
		auth:     authSvc,
		users:    users,
		queue:    queue,
		jobs:     jobs,
		ws:       NewWSHandler(attempts),
	}
}

// Router builds the full route tree: public auth endpoints, token-gated
// quiz endpoints, and the admin group behind the role gate.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/auth/register", h.register)
	r.Post("/auth/login", h.login)

	r.Group(func(pr chi.Router) {
		pr.Use(RequireAuth(h.auth))

		pr.Post("/quiz/{id}/start", h.startQuiz)
		pr.Get("/quiz/{id}", h.resumeQuiz)
		pr.Post("/quiz/submit", h.submitQuiz)
		pr.Get("/history", h.history)
		pr.Post("/exports/history", h.exportHistory)
		pr.Get("/exports/status/{task_id}", h.exportStatus)
		pr.Get("/ws/quiz/{id}", h.ws.ServeTicker)

		pr.Group(func(ar chi.Router) {
			ar.Use(RequireAdmin)
			ar.Get("/admin/statistics", h.adminStatistics)
			ar.Post("/admin/exports/user-stats", h.exportUserStats)
			ar.Post("/admin/exports/quiz-stats", h.exportQuizStats)
			ar.Post("/admin/reports/monthly", h.monthlyReport)
		})
	})

	return r
}

type registerRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	Qualification string `json:"qualification"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, token, err := h.auth.Register(r.Context(), req.Email, req.Password, req.FullName, req.Qualification)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"access_token": token,
		"user":         user,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"user":         user,
	})
}

// startResponse is the shared shape of start and resume: everything a
// client needs to render the running quiz.
type startResponse struct {
	Message          string            `json:"message"`
	AttemptID        int64             `json:"attempt_id"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Questions        []domain.Question `json:"questions"`
}

func (h *Handler) startQuiz(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	quizID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Quiz not found")
		return
	}

	result, err := h.attempts.Start(r.Context(), claims.UserID, quizID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	message := "Quiz started"
	if result.Resumed {
		message = "Quiz resumed"
	}
	writeJSON(w, http.StatusOK, startResponse{
		Message:          message,
		AttemptID:        result.Attempt.ID,
		RemainingSeconds: result.RemainingSeconds,
		Questions:        result.Questions,
	})
}

func (h *Handler) resumeQuiz(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	quizID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Quiz not found")
		return
	}

	result, err := h.attempts.Resume(r.Context(), claims.UserID, quizID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Message:          "Quiz in progress",
		AttemptID:        result.Attempt.ID,
		RemainingSeconds: result.RemainingSeconds,
		Questions:        result.Questions,
	})
}

type submitRequest struct {
	AttemptID int64         `json:"attempt_id"`
	Answers   map[int64]int `json:"answers"`
}

func (h *Handler) submitQuiz(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.attempts.Submit(r.Context(), claims.UserID, req.AttemptID, req.Answers)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	message := "Quiz submitted successfully"
	if result.Expired {
		message = "Quiz time has expired"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": message,
		"score":   result.Score,
		"correct": result.Correct,
		"total":   result.Total,
	})
}

// historyRow mirrors the legacy history payload: open attempts show
// "In Progress" and "N/A" instead of end time and score.
type historyRow struct {
	QuizID    int64       `json:"quiz_id"`
	StartTime string      `json:"start_time"`
	EndTime   string      `json:"end_time"`
	Score     interface{} `json:"score"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	records, err := h.attempts.History(r.Context(), claims.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	rows := make([]historyRow, 0, len(records))
	for _, rec := range records {
		row := historyRow{
			QuizID:    rec.QuizID,
			StartTime: rec.StartTime.UTC().Format(time.RFC3339),
			EndTime:   "In Progress",
			Score:     "N/A",
		}
		if rec.EndTime != nil {
			row.EndTime = rec.EndTime.UTC().Format(time.RFC3339)
		}
		if rec.TotalScore != nil {
			row.Score = *rec.TotalScore
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) adminStatistics(w http.ResponseWriter, r *http.Request) {
	users, err := h.reports.UserStatistics(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	quizzes, err := h.reports.QuizStatistics(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users":   users,
		"quizzes": quizzes,
	})
}

func (h *Handler) exportUserStats(w http.ResponseWriter, r *http.Request) {
	h.submitTask(w, r, "export_user_stats", h.jobs.UserStats())
}

func (h *Handler) exportQuizStats(w http.ResponseWriter, r *http.Request) {
	h.submitTask(w, r, "export_quiz_stats", h.jobs.QuizStats())
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	h.submitTask(w, r, "export_user_history", h.jobs.UserHistory(claims.UserID))
}

type monthlyReportRequest struct {
	UserID int64  `json:"user_id"`
	Month  string `json:"month"`
}

func (h *Handler) monthlyReport(w http.ResponseWriter, r *http.Request) {
	var req monthlyReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	month, err := time.Parse("2006-01", req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month, expected YYYY-MM")
		return
	}
	user, err := h.users.GetUser(r.Context(), req.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.submitTask(w, r, "monthly_report", h.jobs.MonthlyReport(user.ID, month, user.Email))
}

func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request, name string, job tasks.Job) {
	taskID, err := h.queue.Submit(r.Context(), name, job)
	if err != nil {
		log.Printf("submit %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "Failed to queue task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) exportStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context(), chi.URLParam(r, "task_id"))
	if err == tasks.ErrTaskNotFound {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writeDomainError maps sentinel errors onto the legacy API's status codes
// and messages.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch err {
	case domain.ErrQuizNotFound:
		writeError(w, http.StatusNotFound, "Quiz not found")
	case domain.ErrAttemptNotFound:
		writeError(w, http.StatusNotFound, "Attempt not found")
	case domain.ErrUserNotFound:
		writeError(w, http.StatusNotFound, "User not found")
	case domain.ErrNoActiveAttempt:
		writeError(w, http.StatusBadRequest, "No active quiz attempt found")
	case domain.ErrAttemptExpired:
		writeError(w, http.StatusBadRequest, "Quiz time has expired")
	case domain.ErrAlreadySubmitted:
		writeError(w, http.StatusBadRequest, "Quiz already submitted")
	case domain.ErrForbidden:
		writeError(w, http.StatusForbidden, "Not authorized for this attempt")
	case domain.ErrEmailTaken:
		writeError(w, http.StatusBadRequest, "Email already registered")
	case domain.ErrValidation:
		writeError(w, http.StatusBadRequest, "Invalid request")
	case auth.ErrInvalidCredentials:
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
