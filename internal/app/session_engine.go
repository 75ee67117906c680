package app

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"livequiz/internal/domain"
	"livequiz/internal/metrics"
)

// SessionStore abstracts where session records live (in-memory, Redis, Postgres).
// CompareAndSwap must write session only if the stored version still equals
// expectedVersion, returning domain.ErrVersionConflict otherwise.
type SessionStore interface {
	Get(ctx context.Context, code string) (domain.Session, error)
	Create(ctx context.Context, session domain.Session) error
	CompareAndSwap(ctx context.Context, session domain.Session, expectedVersion int64) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

const (
	// DefaultMaxRetries bounds how many times a transition is attempted when
	// another process keeps winning the race for the same session.
	DefaultMaxRetries   = 10
	defaultRetryInitial = 10 * time.Millisecond
	defaultRetryMax     = 250 * time.Millisecond
	maxCodeAttempts     = 10
	codeAlphabet        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// errUnchanged lets a transition report an idempotent no-op without writing.
var errUnchanged = errors.New("session unchanged")

// SessionEngine owns the session state machine. Every mutation is a single
// conditional write against the store. Transitions on one session are
// serialized inside the process, so version conflicts only come from other
// processes sharing the store.
type SessionEngine struct {
	sessions     SessionStore
	quizzes      QuizRepository
	locks        *sessionLocks
	now          func() time.Time
	maxRetries   int
	retryInitial time.Duration
	retryMax     time.Duration
	newCode      func() (string, error)
	newID        func() string
}

// Option configures a SessionEngine.
type Option func(*SessionEngine)

// WithClock makes timestamps deterministic in tests.
func WithClock(now func() time.Time) Option {
	return func(e *SessionEngine) { e.now = now }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(e *SessionEngine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the first and the largest pause between attempts
// after a lost race. Pauses grow exponentially with jitter.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(e *SessionEngine) {
		if initial > 0 {
			e.retryInitial = initial
		}
		if maxInterval >= e.retryInitial {
			e.retryMax = maxInterval
		}
	}
}

// WithCodeGenerator replaces the random session code generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(e *SessionEngine) { e.newCode = gen }
}

func NewSessionEngine(sessions SessionStore, quizzes QuizRepository, opts ...Option) *SessionEngine {
	e := &SessionEngine{
		sessions:     sessions,
		quizzes:      quizzes,
		locks:        newSessionLocks(),
		now:          time.Now,
		maxRetries:   DefaultMaxRetries,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		newCode:      randomCode,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSessionRequest describes a new run of a quiz.
type CreateSessionRequest struct {
	QuizRef         string
	OwnerID         string
	Mode            domain.Mode
	MaxParticipants int
	Window          *domain.ScheduleWindow
}

// CreateSession registers a new session under a freshly generated code.
func (e *SessionEngine) CreateSession(ctx context.Context, req CreateSessionRequest) (session domain.Session, err error) {
	defer func() { observe("create", err) }()

	if req.QuizRef == "" {
		return domain.Session{}, domain.Invalidf("quiz reference is required")
	}
	if req.MaxParticipants < domain.MinParticipants || req.MaxParticipants > domain.MaxParticipants {
		return domain.Session{}, domain.Invalidf("maxParticipants must be between %d and %d", domain.MinParticipants, domain.MaxParticipants)
	}
	switch req.Mode {
	case domain.ModeOnline:
	case domain.ModeScheduled:
		if req.Window == nil || !req.Window.End.After(req.Window.Start) {
			return domain.Session{}, domain.Invalidf("scheduled sessions need a window with end after start")
		}
	default:
		return domain.Session{}, domain.Invalidf("unknown mode %q", req.Mode)
	}

	if _, err := e.quizzes.GetQuiz(ctx, req.QuizRef); err != nil {
		return domain.Session{}, err
	}

	now := e.now()
	session = domain.Session{
		QuizRef:              req.QuizRef,
		OwnerID:              req.OwnerID,
		Mode:                 req.Mode,
		MaxParticipants:      req.MaxParticipants,
		Status:               domain.StatusWaiting,
		CurrentQuestionIndex: -1,
		Participants:         []domain.Participant{},
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.Mode == domain.ModeScheduled {
		w := *req.Window
		session.Window = &w
		session.Status = domain.StatusActive
		session.CurrentQuestionIndex = 0
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := e.newCode()
		if err != nil {
			return domain.Session{}, err
		}
		session.Code = code
		err = e.sessions.Create(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrSessionExists) {
			return domain.Session{}, err
		}
	}
	return domain.Session{}, domain.ErrTransientConflict.WithMessage("could not allocate a unique session code")
}

// AdminJoin binds connectionID as the authoritative admin connection. The
// last caller wins. Terminal sessions are returned without modification.
func (e *SessionEngine) AdminJoin(ctx context.Context, code, actorID, connectionID string) (session domain.Session, err error) {
	defer func() { observe("admin_join", err) }()

	code, err = normalizeCode(code)
	if err != nil {
		return domain.Session{}, err
	}
	if connectionID == "" {
		return domain.Session{}, domain.Invalidf("connection id is required")
	}
	return e.mutate(ctx, "admin_join", code, func(s *domain.Session, _ time.Time) error {
		if s.OwnerID != "" && s.OwnerID != actorID {
			return domain.ErrUnauthorized.WithMessage("session belongs to another admin")
		}
		if s.Status.Terminal() || s.AdminConnectionID == connectionID {
			return errUnchanged
		}
		s.AdminConnectionID = connectionID
		return nil
	})
}

// JoinRequest identifies a participant joining or rejoining a session.
// ParticipantID is the identifier issued on an earlier join, if the client has one.
type JoinRequest struct {
	Code          string
	Name          string
	ConnectionID  string
	ParticipantID string
}

// JoinOutcome reports the participant record after a join.
type JoinOutcome struct {
	Session     domain.Session
	Participant domain.Participant
	Rejoined    bool
}

// Join adds a participant, or reactivates an existing one when the client
// presents its participant ID, or when an inactive participant with the same
// name rejoins while the session is still in the lobby.
func (e *SessionEngine) Join(ctx context.Context, req JoinRequest) (out JoinOutcome, err error) {
	defer func() { observe("join", err) }()

	code, err := normalizeCode(req.Code)
	if err != nil {
		return JoinOutcome{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return JoinOutcome{}, domain.Invalidf("name is required")
	}
	if utf8.RuneCountInString(name) > domain.MaxNameLength {
		return JoinOutcome{}, domain.Invalidf("name is longer than %d characters", domain.MaxNameLength)
	}
	if req.ConnectionID == "" {
		return JoinOutcome{}, domain.Invalidf("connection id is required")
	}

	var (
		participant domain.Participant
		rejoined    bool
	)
	session, err := e.mutate(ctx, "join", code, func(s *domain.Session, now time.Time) error {
		participant, rejoined = domain.Participant{}, false

		if s.Status.Terminal() {
			return domain.ErrSessionNotJoinable.WithMessage("session is %s", s.Status)
		}
		if err := checkWindow(s, now); err != nil {
			return err
		}

		// A repeated join on the same live connection is answered with the existing record.
		if i := s.ParticipantByConnection(req.ConnectionID); i >= 0 && s.Participants[i].IsActive {
			if s.Participants[i].Name != name {
				return domain.Invalidf("connection already joined as %q", s.Participants[i].Name)
			}
			participant, rejoined = s.Participants[i], true
			return errUnchanged
		}

		if req.ParticipantID != "" {
			if i := s.ParticipantByID(req.ParticipantID); i >= 0 {
				p := &s.Participants[i]
				if !p.IsActive {
					if s.ActiveNameHolder(p.Name) >= 0 {
						return domain.ErrNameTaken
					}
					if s.ActiveCount() >= s.MaxParticipants {
						return domain.ErrCapacityExceeded
					}
					p.JoinedAt = now
				}
				p.ConnectionID = req.ConnectionID
				p.IsActive = true
				participant, rejoined = *p, true
				return nil
			}
		}

		if s.ActiveNameHolder(name) >= 0 {
			return domain.ErrNameTaken
		}
		if s.ActiveCount() >= s.MaxParticipants {
			return domain.ErrCapacityExceeded
		}

		if s.Status == domain.StatusWaiting {
			for i := range s.Participants {
				p := &s.Participants[i]
				if !p.IsActive && p.Name == name {
					p.ConnectionID = req.ConnectionID
					p.IsActive = true
					p.JoinedAt = now
					participant, rejoined = *p, true
					return nil
				}
			}
		}

		participant = domain.Participant{
			ID:           e.newID(),
			Name:         name,
			ConnectionID: req.ConnectionID,
			Answers:      []domain.Answer{},
			JoinedAt:     now,
			IsActive:     true,
		}
		s.Participants = append(s.Participants, participant)
		return nil
	})
	if err != nil {
		return JoinOutcome{}, err
	}
	return JoinOutcome{Session: session, Participant: participant, Rejoined: rejoined}, nil
}

// LeaveOutcome carries the participant that went inactive, if any.
type LeaveOutcome struct {
	Session     domain.Session
	Participant *domain.Participant
}

// Leave soft-removes the participant bound to connectionID. Leaving twice,
// or leaving with an unknown connection, succeeds without effect.
func (e *SessionEngine) Leave(ctx context.Context, code, connectionID string) (out LeaveOutcome, err error) {
	defer func() { observe("leave", err) }()

	code, err = normalizeCode(code)
	if err != nil {
		return LeaveOutcome{}, err
	}
	var left *domain.Participant
	session, err := e.mutate(ctx, "leave", code, func(s *domain.Session, _ time.Time) error {
		left = nil
		if s.Status.Terminal() {
			return errUnchanged
		}
		i := s.ParticipantByConnection(connectionID)
		if i < 0 || !s.Participants[i].IsActive {
			return errUnchanged
		}
		s.Participants[i].IsActive = false
		p := s.Participants[i]
		left = &p
		return nil
	})
	if err != nil {
		return LeaveOutcome{}, err
	}
	return LeaveOutcome{Session: session, Participant: left}, nil
}

// Start moves a lobby session to its first question.
func (e *SessionEngine) Start(ctx context.Context, code, requester string) (session domain.Session, err error) {
	defer func() { observe("start", err) }()

	code, err = normalizeCode(code)
	if err != nil {
		return domain.Session{}, err
	}
	return e.mutate(ctx, "start", code, func(s *domain.Session, _ time.Time) error {
		if err := requireAdmin(s, requester); err != nil {
			return err
		}
		if s.Status != domain.StatusWaiting {
			return domain.ErrWrongState.WithMessage("cannot start a session that is %s", s.Status)
		}
		if s.ActiveCount() == 0 {
			return domain.ErrNoParticipants
		}
		s.Status = domain.StatusActive
		s.CurrentQuestionIndex = 0
		s.QuestionActive = false
		return nil
	})
}

// OpenOutcome describes the question window that was opened.
type OpenOutcome struct {
	Session   domain.Session
	Question  domain.Question
	StartedAt time.Time
	Total     int
}

// OpenQuestion opens the answer window for index, resetting any open window.
func (e *SessionEngine) OpenQuestion(ctx context.Context, code string, index int, requester string) (out OpenOutcome, err error) {
	defer func() { observe("open_question", err) }()

	code, err = normalizeCode(code)
	if err != nil {
		return OpenOutcome{}, err
	}
	if index < 0 {
		return OpenOutcome{}, domain.Invalidf("question index must not be negative")
	}
	var quiz domain.Quiz
	session, err := e.mutate(ctx, "open_question", code, func(s *domain.Session, now time.Time) error {
		if err := requireAdmin(s, requester); err != nil {
			return err
		}
		if s.Status != domain.StatusActive {
			return domain.ErrWrongState.WithMessage("cannot open a question while session is %s", s.Status)
		}
		var err error
		if quiz, err = e.quiz(ctx, s.QuizRef); err != nil {
			return err
		}
		if index >= len(quiz.Questions) {
			return domain.Invalidf("question index %d out of range (quiz has %d questions)", index, len(quiz.Questions))
		}
		startedAt := now
		s.CurrentQuestionIndex = index
		s.QuestionActive = true
		s.QuestionStartedAt = &startedAt
		return nil
	})
	if err != nil {
		return OpenOutcome{}, err
	}
	return OpenOutcome{
		Session:   session,
		Question:  quiz.Questions[index],
		StartedAt: *session.QuestionStartedAt,
		Total:     len(quiz.Questions),
	}, nil
}

type closeOptions struct {
	scoped    bool
	index     int
	startedAt time.Time
}

// CloseOption narrows a CloseQuestion call.
type CloseOption func(*closeOptions)

// ForWindow limits the close to the window opened for index at startedAt,
// so a timer that lost a race with the admin cannot close a later window.
func ForWindow(index int, startedAt time.Time) CloseOption {
	return func(o *closeOptions) {
		o.scoped = true
		o.index = index
		o.startedAt = startedAt
	}
}

// CloseOutcome carries the closed question and its statistics. Closed is
// false when the call found nothing to close.
type CloseOutcome struct {
	Session  domain.Session
	Closed   bool
	Index    int
	Question domain.Question
	Stats    domain.QuestionStats
}

// CloseQuestion closes the current answer window. It is idempotent.
func (e *SessionEngine) CloseQuestion(ctx context.Context, code, requester string, opts ...CloseOption) (out CloseOutcome, err error) {
	defer func() { observe("close_question", err) }()

	code, err = normalizeCode(code)
	if err != nil {
		return CloseOutcome{}, err
	}
	var o closeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var closed bool
	session, err := e.mutate(ctx, "close_question", code, func(s *domain.Session, _ time.Time) error {
		closed = false
		if err := requireAdmin(s, requester); err != nil {
			return err
		}
		if !s.QuestionActive {
			return errUnchanged
		}
		if o.scoped && (s.CurrentQuestionIndex != o.index || s.QuestionStartedAt == nil || !s.QuestionStartedAt.Equal(o.startedAt)) {
			return errUnchanged
		}
		s.QuestionActive = false
		closed = true
		return nil
	})
	if err != nil {
		return CloseOutcome{}, err
	}

	out = CloseOutcome{Session: session, Closed: closed, Index: session.CurrentQuestionIndex}
	if session.CurrentQuestionIndex < 0 {
		return out, nil
	}
	quiz, err := e.quiz(ctx, session.QuizRef)
	if err != nil {
		return CloseOutcome{}, err
	}
	if question, ok := quiz.Question(session.CurrentQuestionIndex); ok {
		out.Question = question
		out.Stats = questionStats(session, question)
	}
	return out, nil
}

// SubmitAnswerRequest is one participant's answer for one question.
// TimeRemaining is the client's countdown, in seconds.
type SubmitAnswerRequest struct {
	Code          string
	ConnectionID  string
	QuestionIndex int
	Answer        string
	TimeRemaining float64
}

// AnswerOutcome carries the recorded answer and the participant's new totals.
type AnswerOutcome struct {
	Session     domain.Session
	Participant domain.Participant
	Answer      domain.Answer
}

// SubmitAnswer scores and records an answer. The answer is appended and the
// score incremented in the same conditional write; the first answer per
// question wins.
func (e *SessionEngine) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (out AnswerOutcome, err error) {
	defer func() { observe("submit_answer", err) }()

	code, err := normalizeCode(req.Code)
	if err != nil {
		return AnswerOutcome{}, err
	}
	if req.QuestionIndex < 0 {
		return AnswerOutcome{}, domain.Invalidf("question index must not be negative")
	}
	if math.IsNaN(req.TimeRemaining) || math.IsInf(req.TimeRemaining, 0) {
		return AnswerOutcome{}, domain.Invalidf("timeRemaining must be a finite number")
	}
	if req.Answer == "" {
		return AnswerOutcome{}, domain.Invalidf("answer is required")
	}

	var (
		participant domain.Participant
		answer      domain.Answer
	)
	session, err := e.mutate(ctx, "submit_answer", code, func(s *domain.Session, now time.Time) error {
		i := s.ParticipantByConnection(req.ConnectionID)
		if i < 0 {
			return domain.ErrParticipantNotFound
		}
		p := &s.Participants[i]
		if !p.IsActive {
			return domain.ErrNotActiveParticipant
		}
		if s.Status != domain.StatusActive {
			return domain.ErrWrongState.WithMessage("cannot answer while session is %s", s.Status)
		}
		if err := checkWindow(s, now); err != nil {
			return err
		}
		if s.CurrentQuestionIndex != req.QuestionIndex {
			return domain.ErrWrongQuestion.WithDetails(map[string]any{"currentQuestionIndex": s.CurrentQuestionIndex})
		}
		if !s.QuestionActive {
			return domain.ErrQuestionClosed
		}
		if p.HasAnswered(req.QuestionIndex) {
			return domain.ErrAlreadyAnswered
		}

		quiz, err := e.quiz(ctx, s.QuizRef)
		if err != nil {
			return err
		}
		question, ok := quiz.Question(req.QuestionIndex)
		if !ok {
			return domain.Invalidf("question index %d out of range", req.QuestionIndex)
		}

		remaining, elapsed := effectiveRemaining(req.TimeRemaining, question.Limit(), s.QuestionStartedAt, now)
		correct := question.Accepts(req.Answer)
		answer = domain.Answer{
			QuestionIndex:  req.QuestionIndex,
			Answer:         req.Answer,
			IsCorrect:      correct,
			ElapsedSeconds: elapsed,
			TimeRemaining:  remaining,
			Points:         Points(correct, remaining, question.Limit()),
			SubmittedAt:    now,
		}
		p.Answers = append(p.Answers, answer)
		p.Score += answer.Points
		participant = *p
		return nil
	})
	if err != nil {
		return AnswerOutcome{}, err
	}
	return AnswerOutcome{Session: session, Participant: participant, Answer: answer}, nil
}

// Complete ranks the active participants, freezes the results and ends the session.
func (e *SessionEngine) Complete(ctx context.Context, code, requester string) (session domain.Session, err error) {
	defer func() { observe("complete", err) }()

	code, err = normalizeCode(code)
	if err != nil {
		return domain.Session{}, err
	}
	return e.mutate(ctx, "complete", code, func(s *domain.Session, now time.Time) error {
		if err := requireAdmin(s, requester); err != nil {
			return err
		}
		if s.Status != domain.StatusActive {
			return domain.ErrWrongState.WithMessage("cannot complete a session that is %s", s.Status)
		}
		ended := now
		s.Status = domain.StatusCompleted
		s.QuestionActive = false
		s.FinalResults = rankParticipants(s.Participants, now)
		s.EndedAt = &ended
		return nil
	})
}

// Cancel ends a waiting or active session without results.
func (e *SessionEngine) Cancel(ctx context.Context, code, requester string) (session domain.Session, err error) {
	defer func() { observe("cancel", err) }()

	code, err = normalizeCode(code)
	if err != nil {
		return domain.Session{}, err
	}
	return e.mutate(ctx, "cancel", code, func(s *domain.Session, now time.Time) error {
		if err := requireAdmin(s, requester); err != nil {
			return err
		}
		if s.Status != domain.StatusWaiting && s.Status != domain.StatusActive {
			return domain.ErrWrongState.WithMessage("cannot cancel a session that is %s", s.Status)
		}
		ended := now
		s.Status = domain.StatusCancelled
		s.QuestionActive = false
		s.EndedAt = &ended
		return nil
	})
}

// QuestionStats computes answer statistics for one question on demand.
func (e *SessionEngine) QuestionStats(ctx context.Context, code string, index int, requester string) (domain.QuestionStats, error) {
	session, err := e.Session(ctx, code)
	if err != nil {
		return domain.QuestionStats{}, err
	}
	if err := requireAdmin(&session, requester); err != nil {
		return domain.QuestionStats{}, err
	}
	quiz, err := e.quiz(ctx, session.QuizRef)
	if err != nil {
		return domain.QuestionStats{}, err
	}
	question, ok := quiz.Question(index)
	if !ok {
		return domain.QuestionStats{}, domain.Invalidf("question index %d out of range", index)
	}
	return questionStats(session, question), nil
}

// Leaderboard ranks the active participants as of now, or returns the frozen
// results once the session is completed.
func (e *SessionEngine) Leaderboard(ctx context.Context, code, requester string) ([]domain.FinalResult, error) {
	session, err := e.Session(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(&session, requester); err != nil {
		return nil, err
	}
	if session.Status == domain.StatusCompleted {
		return session.FinalResults, nil
	}
	return rankParticipants(session.Participants, e.now()), nil
}

// Results returns the final results of a completed session.
func (e *SessionEngine) Results(ctx context.Context, code string) ([]domain.FinalResult, error) {
	session, err := e.Session(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusCompleted {
		return nil, domain.ErrWrongState.WithMessage("results are available once the session is completed")
	}
	return session.FinalResults, nil
}

// Session reads the current record.
func (e *SessionEngine) Session(ctx context.Context, code string) (domain.Session, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return domain.Session{}, err
	}
	return e.sessions.Get(ctx, code)
}

// Quiz returns the snapshot a session runs against.
func (e *SessionEngine) Quiz(ctx context.Context, quizRef string) (domain.Quiz, error) {
	return e.quiz(ctx, quizRef)
}

func (e *SessionEngine) quiz(ctx context.Context, quizRef string) (domain.Quiz, error) {
	return e.quizzes.GetQuiz(ctx, quizRef)
}

// mutate runs fn against a private copy of the latest record and writes it
// back only if nobody else wrote in between. On a lost race the transition is
// re-evaluated against fresh state after a jittered pause, since its
// precondition may have changed.
func (e *SessionEngine) mutate(ctx context.Context, op, code string, fn func(s *domain.Session, now time.Time) error) (domain.Session, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	var result domain.Session
	attempt := func() error {
		current, err := e.sessions.Get(ctx, code)
		if err != nil {
			return backoff.Permanent(err)
		}
		now := e.now()
		next := current.Clone()
		if err := fn(&next, now); err != nil {
			if errors.Is(err, errUnchanged) {
				result = current
				return nil
			}
			return backoff.Permanent(err)
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		err = e.sessions.CompareAndSwap(ctx, next, current.Version)
		if err == nil {
			result = next
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return backoff.Permanent(err)
		}
		metrics.EngineConflicts.WithLabelValues(op).Inc()
		return err
	}

	err := backoff.Retry(attempt, e.retryPolicy(ctx))
	if errors.Is(err, domain.ErrVersionConflict) {
		return domain.Session{}, domain.ErrTransientConflict
	}
	if err != nil {
		return domain.Session{}, err
	}
	return result, nil
}

func (e *SessionEngine) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxInterval = e.retryMax
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.maxRetries-1)), ctx)
}

func requireAdmin(s *domain.Session, requester string) error {
	if requester == "" || s.AdminConnectionID != requester {
		return domain.ErrUnauthorized
	}
	return nil
}

func checkWindow(s *domain.Session, now time.Time) error {
	if s.Mode != domain.ModeScheduled || s.Window == nil || s.Window.Contains(now) {
		return nil
	}
	return domain.ErrOutsideScheduleWindow.WithDetails(map[string]any{
		"start": s.Window.Start,
		"end":   s.Window.End,
	})
}

func normalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != domain.CodeLength {
		return "", domain.Invalidf("session code must be %d characters", domain.CodeLength)
	}
	return code, nil
}

func randomCode() (string, error) {
	buf := make([]byte, domain.CodeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.CodeOf(err))
	}
	metrics.EngineOperations.WithLabelValues(op, outcome).Inc()
}
