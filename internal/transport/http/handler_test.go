package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/auth"
	"quizmaster-service/internal/domain"
	"quizmaster-service/internal/export"
	"quizmaster-service/internal/infra/memory"
	"quizmaster-service/internal/tasks"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type nopNotifier struct{}

func (nopNotifier) Send(ctx context.Context, to, subject, htmlBody string) error { return nil }

type apiEnv struct {
	server *httptest.Server
	store  *memory.Store
	clock  *fakeClock
	quiz   domain.Quiz
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()

	quiz := store.AddQuiz(domain.Quiz{ChapterID: 1, DurationMinutes: 10})
	store.AddQuestion(domain.Question{QuizID: quiz.ID, Text: "Q1", Options: []string{"a", "b", "c"}, CorrectOption: 2})
	store.AddQuestion(domain.Question{QuizID: quiz.ID, Text: "Q2", Options: []string{"a", "b", "c", "d"}, CorrectOption: 4})

	attempts := app.NewAttemptServiceWithClock(store, store, memory.NewHistoryCache(), clock.Now)
	reports := app.NewReportingService(store, store)
	authSvc := auth.NewServiceWithClock(store, "test-secret", time.Hour, clock.Now)
	queue := tasks.NewQueueWithClock(memory.NewStatusStore(), 1, clock.Now)
	t.Cleanup(func() { _ = queue.Close() })

	exports := export.NewServiceWithClock(reports, store, t.TempDir(), clock.Now)
	jobs := export.NewJobs(exports, reports, nopNotifier{})

	handler := NewHandler(attempts, reports, authSvc, store, queue, jobs)
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	return &apiEnv{server: server, store: store, clock: clock, quiz: quiz}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (e *apiEnv) registerUser(t *testing.T, email string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":     email,
		"password":  "secret123",
		"full_name": "Test User",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, resp, &body)
	return body.AccessToken
}

// seedAdmin creates an admin account directly in the store; registration
// only ever creates regular users.
func (e *apiEnv) seedAdmin(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	now := e.clock.Now()
	e.store.AddUser(domain.User{
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		FullName:     "Admin",
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
		LastLogin:    now,
	})

	resp := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "admin123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin login returned %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, resp, &body)
	return body.AccessToken
}

func TestRegisterLoginAndStartQuiz(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/quiz/%d/start", env.quiz.ID), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}
	var start struct {
		Message          string `json:"message"`
		AttemptID        int64  `json:"attempt_id"`
		RemainingSeconds int    `json:"remaining_seconds"`
		Questions        []struct {
			Question string   `json:"question"`
			Options  []string `json:"options"`
		} `json:"questions"`
	}
	decode(t, resp, &start)
	if start.Message != "Quiz started" || start.AttemptID == 0 {
		t.Fatalf("unexpected start payload: %+v", start)
	}
	if start.RemainingSeconds != 600 {
		t.Fatalf("expected 600 remaining seconds, got %d", start.RemainingSeconds)
	}
	if len(start.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(start.Questions))
	}
}

func TestQuestionsNeverLeakCorrectOption(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/quiz/%d/start", env.quiz.ID), token, nil)
	var raw map[string]json.RawMessage
	decode(t, resp, &raw)
	if bytes.Contains(raw["questions"], []byte("correct")) {
		t.Fatalf("questions payload leaks correct option: %s", raw["questions"])
	}
}

func TestStartUnknownQuizReturns404(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodPost, "/quiz/9999/start", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "Quiz not found" {
		t.Fatalf("unexpected error message: %q", body["error"])
	}
}

func TestSubmitScoresAndBlocksResubmission(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/quiz/%d/start", env.quiz.ID), token, nil)
	var start struct {
		AttemptID int64 `json:"attempt_id"`
		Questions []struct {
			ID int64 `json:"id"`
		} `json:"questions"`
	}
	decode(t, resp, &start)

	answers := map[string]int{
		fmt.Sprint(start.Questions[0].ID): 2,
		fmt.Sprint(start.Questions[1].ID): 1,
	}
	resp = env.do(t, http.MethodPost, "/quiz/submit", token, map[string]interface{}{
		"attempt_id": start.AttemptID,
		"answers":    answers,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit returned %d", resp.StatusCode)
	}
	var result struct {
		Message string `json:"message"`
		Score   int    `json:"score"`
		Correct int    `json:"correct"`
		Total   int    `json:"total"`
	}
	decode(t, resp, &result)
	if result.Score != 50 || result.Correct != 1 || result.Total != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	resp = env.do(t, http.MethodPost, "/quiz/submit", token, map[string]interface{}{
		"attempt_id": start.AttemptID,
		"answers":    answers,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on resubmission, got %d", resp.StatusCode)
	}
	var errBody map[string]string
	decode(t, resp, &errBody)
	if errBody["error"] != "Quiz already submitted" {
		t.Fatalf("unexpected error message: %q", errBody["error"])
	}
}

func TestResumeAfterDeadlineExpires(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	env.do(t, http.MethodPost, fmt.Sprintf("/quiz/%d/start", env.quiz.ID), token, nil).Body.Close()
	env.clock.Advance(11 * time.Minute)

	resp := env.do(t, http.MethodGet, fmt.Sprintf("/quiz/%d", env.quiz.ID), token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "Quiz time has expired" {
		t.Fatalf("unexpected error message: %q", body["error"])
	}

	// The lazy finalization shows up in history as a zero score.
	resp = env.do(t, http.MethodGet, "/history", token, nil)
	var rows []map[string]interface{}
	decode(t, resp, &rows)
	if len(rows) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(rows))
	}
	if rows[0]["score"] != float64(0) {
		t.Fatalf("expected zero score, got %v", rows[0]["score"])
	}
}

func TestResumeWithoutAttempt(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodGet, fmt.Sprintf("/quiz/%d", env.quiz.ID), token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "No active quiz attempt found" {
		t.Fatalf("unexpected error message: %q", body["error"])
	}
}

func TestHistoryShowsOpenAttemptAsInProgress(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	env.do(t, http.MethodPost, fmt.Sprintf("/quiz/%d/start", env.quiz.ID), token, nil).Body.Close()

	resp := env.do(t, http.MethodGet, "/history", token, nil)
	var rows []map[string]interface{}
	decode(t, resp, &rows)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["end_time"] != "In Progress" || rows[0]["score"] != "N/A" {
		t.Fatalf("unexpected open-attempt row: %+v", rows[0])
	}
}

func TestAuthRequired(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/history", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/history", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminGate(t *testing.T) {
	env := newAPIEnv(t)
	userToken := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodGet, "/admin/statistics", userToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for regular user, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	adminToken := env.seedAdmin(t)
	resp = env.do(t, http.MethodGet, "/admin/statistics", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", resp.StatusCode)
	}
	var stats struct {
		Users   []json.RawMessage `json:"users"`
		Quizzes []json.RawMessage `json:"quizzes"`
	}
	decode(t, resp, &stats)
	if len(stats.Quizzes) != 1 {
		t.Fatalf("expected 1 quiz row, got %d", len(stats.Quizzes))
	}
}

func TestExportTaskLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodPost, "/exports/history", token, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var submitted struct {
		TaskID string `json:"task_id"`
	}
	decode(t, resp, &submitted)
	if submitted.TaskID == "" {
		t.Fatal("expected task id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = env.do(t, http.MethodGet, "/exports/status/"+submitted.TaskID, token, nil)
		var status struct {
			State  string `json:"status"`
			Result string `json:"result"`
		}
		decode(t, resp, &status)
		if status.State == "SUCCESS" {
			if status.Result == "" {
				t.Fatal("expected artifact path in result")
			}
			break
		}
		if status.State == "FAILURE" {
			t.Fatalf("task failed: %+v", status)
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never finished, last state %q", status.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExportStatusUnknownTask(t *testing.T) {
	env := newAPIEnv(t)
	token := env.registerUser(t, "alice@example.com")

	resp := env.do(t, http.MethodGet, "/exports/status/nope", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
