package http

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"livequiz/internal/domain"
)

func TestJWTAuthenticator(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")

	adminToken, err := auth.Issue("host-1", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	actor, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate header: %v", err)
	}
	if !actor.IsAdmin() || actor.ID != "host-1" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	req = httptest.NewRequest("GET", "/ws?token="+adminToken, nil)
	if actor, err = auth.Authenticate(req); err != nil || !actor.IsAdmin() {
		t.Fatalf("expected query token accepted, got %+v %v", actor, err)
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	if actor, err = auth.Authenticate(req); err != nil || actor.Role != RoleParticipant || actor.ID != "" {
		t.Fatalf("expected anonymous participant, got %+v %v", actor, err)
	}

	forged, _ := NewJWTAuthenticator("other-secret").Issue("host-1", RoleAdmin, time.Hour)
	req = httptest.NewRequest("GET", "/ws?token="+forged, nil)
	if _, err = auth.Authenticate(req); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected forged token rejected, got %v", err)
	}
}

func TestJWTAuthenticatorExpiry(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")
	issued := time.Now().Add(-2 * time.Hour)
	auth.now = func() time.Time { return issued }
	token, err := auth.Issue("host-1", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	auth.now = time.Now

	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	_, err = auth.Authenticate(req)
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != domain.CodeUnauthorized || de.Message != "token has expired" {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestUnknownRoleIsParticipant(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret")
	token, _ := auth.Issue("student-9", Role("superuser"), time.Hour)
	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	actor, err := auth.Authenticate(req)
	if err != nil || actor.IsAdmin() || actor.ID != "student-9" {
		t.Fatalf("expected participant actor, got %+v %v", actor, err)
	}
}
