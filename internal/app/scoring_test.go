package app

import (
	"testing"
	"time"

	"livequiz/internal/domain"
)

func TestPoints(t *testing.T) {
	tests := []struct {
		name      string
		correct   bool
		remaining float64
		limit     int
		want      int
	}{
		{"instant correct answer", true, 30, 30, 20},
		{"last instant correct answer", true, 0, 30, 10},
		{"half time left", true, 15, 30, 15},
		{"incorrect with full time", false, 30, 30, 0},
		{"incorrect at the end", false, 0, 30, 0},
		{"default limit", true, 15, 0, 15},
		{"rounds down", true, 10, 30, 13},
		{"rounds up", true, 20, 30, 17},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Points(tc.correct, tc.remaining, tc.limit); got != tc.want {
				t.Fatalf("expected %d points, got %d", tc.want, got)
			}
		})
	}
}

func TestEffectiveRemainingUsesServerClock(t *testing.T) {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	remaining, elapsed := effectiveRemaining(30, 30, &started, started.Add(10*time.Second))
	if remaining != 20 || elapsed != 10 {
		t.Fatalf("expected remaining 20 elapsed 10, got %v %v", remaining, elapsed)
	}

	remaining, _ = effectiveRemaining(5, 30, &started, started.Add(10*time.Second))
	if remaining != 5 {
		t.Fatalf("client time below server time should be kept, got %v", remaining)
	}

	remaining, _ = effectiveRemaining(-3, 30, &started, started)
	if remaining != 0 {
		t.Fatalf("negative time should clamp to zero, got %v", remaining)
	}

	remaining, _ = effectiveRemaining(100, 30, &started, started)
	if remaining != 30 {
		t.Fatalf("time above limit should clamp to limit, got %v", remaining)
	}
}

func TestRankParticipantsBreaksTiesByJoinOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	participants := []domain.Participant{
		{ID: "c", Name: "Carol", Score: 10, JoinedAt: base.Add(2 * time.Second), IsActive: true},
		{ID: "a", Name: "Alice", Score: 10, JoinedAt: base, IsActive: true},
		{ID: "b", Name: "Bob", Score: 25, JoinedAt: base.Add(time.Second), IsActive: true},
		{ID: "d", Name: "Dave", Score: 40, JoinedAt: base, IsActive: false},
	}

	results := rankParticipants(participants, base.Add(time.Minute))
	if len(results) != 3 {
		t.Fatalf("inactive participants must be excluded, got %d rows", len(results))
	}
	want := []string{"Bob", "Alice", "Carol"}
	for i, name := range want {
		if results[i].Name != name || results[i].Rank != i+1 {
			t.Fatalf("row %d: expected %s rank %d, got %+v", i, name, i+1, results[i])
		}
	}
	if results[1].ElapsedSeconds != 60 {
		t.Fatalf("expected elapsed since join 60s, got %v", results[1].ElapsedSeconds)
	}
}

func TestQuestionStatsCountsActiveParticipants(t *testing.T) {
	question := domain.Question{
		Index:          0,
		Content:        "2+2?",
		Type:           domain.QuestionMultipleChoice,
		Options:        []string{"3", "4", "5"},
		CorrectAnswers: []string{"4"},
	}
	session := domain.Session{Participants: []domain.Participant{
		{Name: "Alice", IsActive: true, Answers: []domain.Answer{{QuestionIndex: 0, Answer: "4", IsCorrect: true}}},
		{Name: "Bob", IsActive: true, Answers: []domain.Answer{{QuestionIndex: 0, Answer: "3"}}},
		{Name: "Carol", IsActive: true},
		{Name: "Dave", IsActive: false, Answers: []domain.Answer{{QuestionIndex: 0, Answer: "4", IsCorrect: true}}},
	}}

	stats := questionStats(session, question)
	if stats.TotalParticipants != 3 || stats.TotalAnswers != 2 || stats.CorrectCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OptionCounts["4"] != 1 || stats.OptionCounts["3"] != 1 || stats.OptionCounts["5"] != 0 {
		t.Fatalf("unexpected option counts %+v", stats.OptionCounts)
	}
	if _, ok := stats.OptionCounts["5"]; !ok {
		t.Fatalf("unanswered options should be reported with zero")
	}
}
