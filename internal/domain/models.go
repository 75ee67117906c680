package domain

import "time"

// Mode selects how a session is gated.
type Mode string

const (
	// ModeOnline sessions gather participants in a lobby before the admin starts.
	ModeOnline Mode = "online"
	// ModeScheduled sessions are active immediately and gated by a time window.
	ModeScheduled Mode = "scheduled"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

const (
	CodeLength         = 6
	MinParticipants    = 1
	MaxParticipants    = 1000
	MaxNameLength      = 40
	DefaultTimeLimit   = 30
	BasePoints         = 10
	MaxTimeBonusPoints = 10
)

// ScheduleWindow bounds a scheduled session.
type ScheduleWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window, bounds included.
func (w ScheduleWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Answer is one participant's submission for one question.
type Answer struct {
	QuestionIndex  int       `json:"questionIndex"`
	Answer         string    `json:"answer"`
	IsCorrect      bool      `json:"isCorrect"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	TimeRemaining  float64   `json:"timeRemaining"`
	Points         int       `json:"points"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Participant is one taker of a session. Inactive participants are kept for
// reconnection and scoring continuity.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConnectionID string    `json:"connectionId"`
	Score        int       `json:"score"`
	Answers      []Answer  `json:"answers"`
	JoinedAt     time.Time `json:"joinedAt"`
	IsActive     bool      `json:"isActive"`
}

// HasAnswered reports whether the participant already answered question index.
func (p Participant) HasAnswered(index int) bool {
	for _, a := range p.Answers {
		if a.QuestionIndex == index {
			return true
		}
	}
	return false
}

// CorrectCount is the number of correctly answered questions.
func (p Participant) CorrectCount() int {
	n := 0
	for _, a := range p.Answers {
		if a.IsCorrect {
			n++
		}
	}
	return n
}

// FinalResult is a participant's row in the results computed at completion.
type FinalResult struct {
	Rank           int     `json:"rank"`
	ParticipantID  string  `json:"participantId"`
	Name           string  `json:"name"`
	Score          int     `json:"score"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalAnswered  int     `json:"totalAnswered"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

// QuestionStats is derived from the answers of active participants.
type QuestionStats struct {
	QuestionIndex     int            `json:"questionIndex"`
	TotalParticipants int            `json:"totalParticipants"`
	TotalAnswers      int            `json:"totalAnswers"`
	OptionCounts      map[string]int `json:"optionCounts"`
	CorrectCount      int            `json:"correctCount"`
}

// Session is one running instance of a quiz.
type Session struct {
	Code                 string          `json:"code"`
	QuizRef              string          `json:"quizRef"`
	OwnerID              string          `json:"ownerId,omitempty"`
	Mode                 Mode            `json:"mode"`
	Window               *ScheduleWindow `json:"window,omitempty"`
	MaxParticipants      int             `json:"maxParticipants"`
	Status               Status          `json:"status"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	QuestionActive       bool            `json:"questionActive"`
	QuestionStartedAt    *time.Time      `json:"questionStartedAt,omitempty"`
	AdminConnectionID    string          `json:"adminConnectionId,omitempty"`
	Participants         []Participant   `json:"participants"`
	FinalResults         []FinalResult   `json:"finalResults,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	EndedAt              *time.Time      `json:"endedAt,omitempty"`
}

// ActiveCount is the number of participants currently connected.
func (s *Session) ActiveCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.IsActive {
			n++
		}
	}
	return n
}

// ParticipantByConnection returns the index of the participant bound to connectionID, or -1.
func (s *Session) ParticipantByConnection(connectionID string) int {
	for i, p := range s.Participants {
		if p.ConnectionID == connectionID {
			return i
		}
	}
	return -1
}

// ParticipantByID returns the index of the participant with the given ID, or -1.
func (s *Session) ParticipantByID(id string) int {
	for i, p := range s.Participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ActiveNameHolder returns the index of an active participant named name, or -1.
func (s *Session) ActiveNameHolder(name string) int {
	for i, p := range s.Participants {
		if p.IsActive && p.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to mutate.
func (s Session) Clone() Session {
	out := s
	if s.Window != nil {
		w := *s.Window
		out.Window = &w
	}
	if s.QuestionStartedAt != nil {
		t := *s.QuestionStartedAt
		out.QuestionStartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Participants != nil {
		out.Participants = make([]Participant, len(s.Participants))
		for i, p := range s.Participants {
			if p.Answers != nil {
				p.Answers = append([]Answer(nil), p.Answers...)
			}
			out.Participants[i] = p
		}
	}
	if s.FinalResults != nil {
		out.FinalResults = append([]FinalResult(nil), s.FinalResults...)
	}
	return out
}
