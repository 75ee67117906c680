package app

import (
	"math"
	"sort"
	"time"

	"livequiz/internal/domain"
)

// Points returns the score for one answer: nothing when wrong, otherwise a
// flat base plus a bonus scaled by the fraction of time left.
func Points(correct bool, timeRemaining float64, timeLimit int) int {
	if !correct {
		return 0
	}
	if timeLimit <= 0 {
		timeLimit = domain.DefaultTimeLimit
	}
	return int(math.Round(domain.BasePoints + domain.MaxTimeBonusPoints*(timeRemaining/float64(timeLimit))))
}

// effectiveRemaining clamps the client's reported time to what the server
// clock allows for the open window.
func effectiveRemaining(reported float64, limit int, startedAt *time.Time, now time.Time) (remaining, elapsed float64) {
	if startedAt != nil {
		elapsed = now.Sub(*startedAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
	}
	serverRemaining := float64(limit) - elapsed
	remaining = math.Min(reported, serverRemaining)
	remaining = math.Min(remaining, float64(limit))
	if remaining < 0 {
		remaining = 0
	}
	return remaining, elapsed
}

// rankParticipants orders active participants by score, breaking ties in
// favor of whoever joined first, and assigns 1-based ranks.
func rankParticipants(participants []domain.Participant, now time.Time) []domain.FinalResult {
	active := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		if p.IsActive {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Score != active[j].Score {
			return active[i].Score > active[j].Score
		}
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})

	results := make([]domain.FinalResult, 0, len(active))
	for i, p := range active {
		elapsed := now.Sub(p.JoinedAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		results = append(results, domain.FinalResult{
			Rank:           i + 1,
			ParticipantID:  p.ID,
			Name:           p.Name,
			Score:          p.Score,
			CorrectAnswers: p.CorrectCount(),
			TotalAnswered:  len(p.Answers),
			ElapsedSeconds: elapsed,
		})
	}
	return results
}

// questionStats recomputes answer statistics for one question from the
// active participants' answer records.
func questionStats(session domain.Session, question domain.Question) domain.QuestionStats {
	stats := domain.QuestionStats{
		QuestionIndex: question.Index,
		OptionCounts:  make(map[string]int, len(question.Options)),
	}
	for _, opt := range question.Options {
		stats.OptionCounts[opt] = 0
	}
	for _, p := range session.Participants {
		if !p.IsActive {
			continue
		}
		stats.TotalParticipants++
		for _, a := range p.Answers {
			if a.QuestionIndex != question.Index {
				continue
			}
			stats.TotalAnswers++
			stats.OptionCounts[a.Answer]++
			if a.IsCorrect {
				stats.CorrectCount++
			}
		}
	}
	return stats
}
