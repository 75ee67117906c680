package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"livequiz/internal/domain"
)

func TestCreateSessionRequiresAdmin(t *testing.T) {
	server, auth := newTestServer(t)
	defer server.Close()

	body := []byte(`{"quizRef":"quiz-1","maxParticipants":5}`)
	resp, err := http.Post(server.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected anonymous create rejected, got %d", resp.StatusCode)
	}

	studentToken, _ := auth.Issue("student-1", RoleParticipant, time.Hour)
	if status, _ := postSession(t, server.URL, studentToken, body); status != http.StatusForbidden {
		t.Fatalf("expected participant create rejected, got %d", status)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	server, auth := newTestServer(t)
	defer server.Close()
	token, _ := auth.Issue("host-1", RoleAdmin, time.Hour)

	status, e := postSession(t, server.URL, token, []byte(`{"quizRef":"quiz-1","maxParticipants":0}`))
	if status != http.StatusBadRequest || e.Code != domain.CodeInvalidInput {
		t.Fatalf("expected 400 INVALID_INPUT, got %d %+v", status, e)
	}
	status, e = postSession(t, server.URL, token, []byte(`{"quizRef":"nope","maxParticipants":5}`))
	if status != http.StatusNotFound || e.Code != domain.CodeQuizNotFound {
		t.Fatalf("expected 404 QUIZ_NOT_FOUND, got %d %+v", status, e)
	}
	status, _ = postSession(t, server.URL, token, []byte(`{bad json`))
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", status)
	}
}

func TestGetSessionAndResults(t *testing.T) {
	server, auth := newTestServer(t)
	defer server.Close()
	token, _ := auth.Issue("host-1", RoleAdmin, time.Hour)
	code := createSessionOverHTTP(t, server.URL, token)

	resp, err := http.Get(server.URL + "/api/sessions/" + code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	var view sessionView
	_ = json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || view.Status != domain.StatusWaiting || view.TotalQuestions != 2 {
		t.Fatalf("unexpected session view %d %+v", resp.StatusCode, view)
	}

	resp, err = http.Get(server.URL + "/api/sessions/" + code + "/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("results before completion should conflict, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/sessions/ZZZZZZ")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStatusForCategories(t *testing.T) {
	cases := map[domain.Code]int{
		domain.CodeInvalidInput:      http.StatusBadRequest,
		domain.CodeSessionNotFound:   http.StatusNotFound,
		domain.CodeUnauthorized:      http.StatusForbidden,
		domain.CodeNameTaken:         http.StatusConflict,
		domain.CodeTransientConflict: http.StatusServiceUnavailable,
		domain.CodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}

	rec := httptest.NewRecorder()
	writeError(rec, domain.ErrOutsideScheduleWindow.WithDetails(map[string]any{"start": "2026-01-01T10:00:00Z"}))
	var e errorPayload
	_ = json.NewDecoder(rec.Body).Decode(&e)
	if rec.Code != http.StatusConflict || e.Details["start"] != "2026-01-01T10:00:00Z" {
		t.Fatalf("expected details in error body, got %d %+v", rec.Code, e)
	}
}

func postSession(t *testing.T, baseURL, token string, body []byte) (int, errorPayload) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/sessions", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var e errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&e)
	return resp.StatusCode, e
}
