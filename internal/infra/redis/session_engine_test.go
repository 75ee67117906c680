package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"livequiz/internal/app"
	"livequiz/internal/domain"
	"livequiz/internal/infra/memory"
)

func TestEngineAcceptsSimultaneousAnswers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewSessionStore(newClient(mr), time.Hour, time.Hour)
	engine := app.NewSessionEngine(store, quizzesFor(sampleQuiz()))

	const participants = 100
	code := openLobby(t, engine, participants)
	runAll(t, participants, func(i int) error {
		_, err := engine.Join(ctx, app.JoinRequest{Code: code, Name: fmt.Sprintf("p%d", i), ConnectionID: fmt.Sprintf("c%d", i)})
		return err
	})
	startFirstQuestion(t, engine, code)

	runAll(t, participants, func(i int) error {
		out, err := engine.SubmitAnswer(ctx, app.SubmitAnswerRequest{Code: code, ConnectionID: fmt.Sprintf("c%d", i), QuestionIndex: 0, Answer: "4", TimeRemaining: 15})
		if err == nil && !out.Answer.IsCorrect {
			return fmt.Errorf("answer %d scored as wrong", i)
		}
		return err
	})

	session, err := engine.Session(ctx, code)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	assertEveryoneAnswered(t, session, participants)
}

func TestEnginesSharingOneStoreAcceptAllAnswers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	quizzes := quizzesFor(sampleQuiz())
	// Two instances behind a load balancer: only the store arbitrates between them.
	engines := []*app.SessionEngine{
		app.NewSessionEngine(NewSessionStore(newClient(mr), time.Hour, time.Hour), quizzes),
		app.NewSessionEngine(NewSessionStore(newClient(mr), time.Hour, time.Hour), quizzes),
	}

	const participants = 40
	code := openLobby(t, engines[0], participants)
	runAll(t, participants, func(i int) error {
		_, err := engines[i%2].Join(ctx, app.JoinRequest{Code: code, Name: fmt.Sprintf("p%d", i), ConnectionID: fmt.Sprintf("c%d", i)})
		return err
	})
	startFirstQuestion(t, engines[0], code)

	runAll(t, participants, func(i int) error {
		_, err := engines[i%2].SubmitAnswer(ctx, app.SubmitAnswerRequest{Code: code, ConnectionID: fmt.Sprintf("c%d", i), QuestionIndex: 0, Answer: "4", TimeRemaining: 15})
		return err
	})

	session, err := engines[1].Session(ctx, code)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	assertEveryoneAnswered(t, session, participants)
}

func quizzesFor(quiz domain.Quiz) *memory.QuizRepository {
	return memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz}), time.Minute)
}

func openLobby(t *testing.T, engine *app.SessionEngine, capacity int) string {
	t.Helper()
	ctx := context.Background()
	session, err := engine.CreateSession(ctx, app.CreateSessionRequest{QuizRef: "quiz-1", Mode: domain.ModeOnline, MaxParticipants: capacity})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.AdminJoin(ctx, session.Code, "", "admin"); err != nil {
		t.Fatalf("admin join: %v", err)
	}
	return session.Code
}

func startFirstQuestion(t *testing.T, engine *app.SessionEngine, code string) {
	t.Helper()
	ctx := context.Background()
	if _, err := engine.Start(ctx, code, "admin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.OpenQuestion(ctx, code, 0, "admin"); err != nil {
		t.Fatalf("open: %v", err)
	}
}

// runAll calls fn for 0..n-1 at once and fails on the first error.
func runAll(t *testing.T, n int, fn func(i int) error) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs <- fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent call failed: %v", err)
		}
	}
}

func assertEveryoneAnswered(t *testing.T, session domain.Session, want int) {
	t.Helper()
	if len(session.Participants) != want {
		t.Fatalf("expected %d participants, got %d", want, len(session.Participants))
	}
	for _, p := range session.Participants {
		if len(p.Answers) != 1 || p.Score != 15 {
			t.Fatalf("participant %s lost its answer: %+v", p.Name, p)
		}
	}
}
