package http

import (
	"encoding/json"
	"time"

	"livequiz/internal/domain"
)

// Inbound message types.
const (
	msgAdminJoin           = "admin.join"
	msgAdminStart          = "admin.start"
	msgAdminOpenQuestion   = "admin.openQuestion"
	msgAdminCloseQuestion  = "admin.closeQuestion"
	msgAdminComplete       = "admin.complete"
	msgAdminCancel         = "admin.cancel"
	msgAdminGetStats       = "admin.getStats"
	msgAdminGetLeaderboard = "admin.getLeaderboard"
	msgParticipantJoin     = "participant.join"
	msgParticipantSubmit   = "participant.submitAnswer"
)

// Outbound message types.
const (
	msgAdminJoined       = "admin.joined"
	msgTestStarted       = "test.started"
	msgQuestionOpened    = "question.opened"
	msgQuestionClosed    = "question.closed"
	msgTestCompleted     = "test.completed"
	msgTestCancelled     = "test.cancelled"
	msgParticipantJoined = "participant.joined"
	msgJoinAccepted      = "participant.accepted"
	msgParticipantLeft   = "participant.left"
	msgAnswerSubmitted   = "answer.submitted"
	msgAnswerReceived    = "answer.received"
	msgAdminStats        = "admin.stats"
	msgAdminLeaderboard  = "admin.leaderboard"
	msgError             = "error"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

func encode(typ string, payload any) ([]byte, error) {
	return json.Marshal(outboundMessage[any]{Type: typ, Payload: payload})
}

type codePayload struct {
	Code string `json:"code"`
}

type indexPayload struct {
	Code  string `json:"code"`
	Index int    `json:"index"`
}

type joinPayload struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	ParticipantID string `json:"participantId,omitempty"`
}

type submitPayload struct {
	Code          string  `json:"code"`
	Index         int     `json:"index"`
	Answer        string  `json:"answer"`
	TimeRemaining float64 `json:"timeRemaining"`
}

type errorPayload struct {
	Code    domain.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// participantView hides connection IDs and answer history from broadcasts.
type participantView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	IsActive bool      `json:"isActive"`
	JoinedAt time.Time `json:"joinedAt"`
}

func viewParticipant(p domain.Participant) participantView {
	return participantView{ID: p.ID, Name: p.Name, Score: p.Score, IsActive: p.IsActive, JoinedAt: p.JoinedAt}
}

func viewParticipants(ps []domain.Participant) []participantView {
	out := make([]participantView, 0, len(ps))
	for _, p := range ps {
		if p.IsActive {
			out = append(out, viewParticipant(p))
		}
	}
	return out
}

// sessionView is the session as shown to clients.
type sessionView struct {
	Code                 string                 `json:"code"`
	QuizRef              string                 `json:"quizRef"`
	Title                string                 `json:"title,omitempty"`
	Mode                 domain.Mode            `json:"mode"`
	Window               *domain.ScheduleWindow `json:"window,omitempty"`
	Status               domain.Status          `json:"status"`
	MaxParticipants      int                    `json:"maxParticipants"`
	TotalQuestions       int                    `json:"totalQuestions"`
	CurrentQuestionIndex int                    `json:"currentQuestionIndex"`
	QuestionActive       bool                   `json:"questionActive"`
	Participants         []participantView      `json:"participants"`
	FinalResults         []domain.FinalResult   `json:"finalResults,omitempty"`
}

func viewSession(s domain.Session, quiz domain.Quiz) sessionView {
	return sessionView{
		Code:                 s.Code,
		QuizRef:              s.QuizRef,
		Title:                quiz.Title,
		Mode:                 s.Mode,
		Window:               s.Window,
		Status:               s.Status,
		MaxParticipants:      s.MaxParticipants,
		TotalQuestions:       len(quiz.Questions),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		QuestionActive:       s.QuestionActive,
		Participants:         viewParticipants(s.Participants),
		FinalResults:         s.FinalResults,
	}
}

type adminJoinedPayload struct {
	Session sessionView `json:"session"`
}

type testStartedPayload struct {
	Code           string `json:"code"`
	TotalQuestions int    `json:"totalQuestions"`
}

// questionOpenedPayload never carries the accepted answers.
type questionOpenedPayload struct {
	Index     int                 `json:"index"`
	Total     int                 `json:"total"`
	Content   string              `json:"content"`
	Type      domain.QuestionType `json:"type"`
	Options   []string            `json:"options,omitempty"`
	TimeLimit int                 `json:"timeLimit"`
	StartedAt time.Time           `json:"startedAt"`
}

func openedPayload(q domain.Question, total int, startedAt time.Time) questionOpenedPayload {
	return questionOpenedPayload{
		Index:     q.Index,
		Total:     total,
		Content:   q.Content,
		Type:      q.Type,
		Options:   q.Options,
		TimeLimit: q.Limit(),
		StartedAt: startedAt,
	}
}

type questionClosedPayload struct {
	Index           int                  `json:"index"`
	Stats           domain.QuestionStats `json:"stats"`
	CorrectAnswer   string               `json:"correctAnswer"`
	AcceptedAnswers []string             `json:"acceptedAnswers"`
}

type testCompletedPayload struct {
	FinalResults []domain.FinalResult `json:"finalResults"`
}

type testCancelledPayload struct {
	Code string `json:"code"`
}

type participantJoinedPayload struct {
	Participant  participantView   `json:"participant"`
	Rejoined     bool              `json:"rejoined"`
	Participants []participantView `json:"participants"`
}

// joinAckPayload is the joining connection's own copy, with the session state
// it needs to render and the participant ID to present when reconnecting.
type joinAckPayload struct {
	ParticipantID string      `json:"participantId"`
	Rejoined      bool        `json:"rejoined"`
	Session       sessionView `json:"session"`
}

type participantLeftPayload struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type answerSubmittedPayload struct {
	Index         int     `json:"index"`
	IsCorrect     bool    `json:"isCorrect"`
	Points        int     `json:"points"`
	Score         int     `json:"score"`
	TimeRemaining float64 `json:"timeRemaining"`
}

type answerReceivedPayload struct {
	Index         int    `json:"index"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	TotalAnswers  int    `json:"totalAnswers"`
	Participants  int    `json:"participants"`
}

type leaderboardPayload struct {
	Entries []domain.FinalResult `json:"entries"`
}
