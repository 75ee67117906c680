package http

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"livequiz/internal/app"
	"livequiz/internal/domain"
	"livequiz/internal/metrics"
)

const (
	defaultReconcileInterval = 30 * time.Second
	timerCloseTimeout        = 10 * time.Second
	timerCloseAttempts       = 3
	leaveAttempts            = 5
)

// Gateway translates websocket messages into engine operations and fans
// the outcomes out to the connections of each session.
type Gateway struct {
	engine            *app.SessionEngine
	registry          *Registry
	timers            *questionTimers
	log               *zap.Logger
	reconcileInterval time.Duration
	retryInitial      time.Duration
	retryMax          time.Duration
	now               func() time.Time
}

type GatewayOption func(*Gateway)

// WithAfterFunc replaces time.AfterFunc for question timers.
func WithAfterFunc(f AfterFunc) GatewayOption {
	return func(g *Gateway) { g.timers = newQuestionTimers(f) }
}

func WithReconcileInterval(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.reconcileInterval = d
		}
	}
}

// WithLeaveBackoff sets the pauses between attempts to record a
// participant's departure after a transient store failure.
func WithLeaveBackoff(initial, maxInterval time.Duration) GatewayOption {
	return func(g *Gateway) {
		if initial > 0 && maxInterval >= initial {
			g.retryInitial, g.retryMax = initial, maxInterval
		}
	}
}

func NewGateway(engine *app.SessionEngine, log *zap.Logger, opts ...GatewayOption) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		engine:            engine,
		registry:          NewRegistry(),
		timers:            newQuestionTimers(nil),
		log:               log,
		reconcileInterval: defaultReconcileInterval,
		retryInitial:      50 * time.Millisecond,
		retryMax:          time.Second,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Registry() *Registry { return g.registry }

// Peer is one connection as the gateway sees it. A peer binds to one role
// and one session on its first successful join. Its fields are owned by the
// connection's read loop.
type Peer struct {
	conn  Conn
	actor Actor
	role  Role
	code  string
}

func NewPeer(conn Conn, actor Actor) *Peer {
	return &Peer{conn: conn, actor: actor}
}

func (p *Peer) ID() string { return p.conn.ID() }

// Handle processes one inbound frame from p.
func (g *Gateway) Handle(ctx context.Context, p *Peer, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		g.fail(p, "", domain.Invalidf("malformed message"))
		return
	}
	metrics.GatewayMessages.WithLabelValues(msg.Type, "in").Inc()

	var err error
	switch msg.Type {
	case msgAdminJoin:
		err = g.adminJoin(ctx, p, msg.Payload)
	case msgAdminStart:
		err = g.start(ctx, p, msg.Payload)
	case msgAdminOpenQuestion:
		err = g.openQuestion(ctx, p, msg.Payload)
	case msgAdminCloseQuestion:
		err = g.closeQuestion(ctx, p, msg.Payload)
	case msgAdminComplete:
		err = g.complete(ctx, p, msg.Payload)
	case msgAdminCancel:
		err = g.cancel(ctx, p, msg.Payload)
	case msgAdminGetStats:
		err = g.stats(ctx, p, msg.Payload)
	case msgAdminGetLeaderboard:
		err = g.leaderboard(ctx, p, msg.Payload)
	case msgParticipantJoin:
		err = g.participantJoin(ctx, p, msg.Payload)
	case msgParticipantSubmit:
		err = g.submitAnswer(ctx, p, msg.Payload)
	default:
		err = domain.Invalidf("unsupported message type %q", msg.Type)
	}
	if err != nil {
		g.fail(p, msg.Type, err)
	}
}

// Disconnect cleans up after p's socket closed. A participant is marked
// inactive and the session is told; an admin only leaves the registry.
func (g *Gateway) Disconnect(ctx context.Context, p *Peer) {
	switch p.role {
	case RoleAdmin:
		g.registry.RemoveAdmin(p.code, p.ID())
	case RoleParticipant:
		g.registry.RemoveParticipant(p.code, p.ID())
		out, err := g.leave(ctx, p.code, p.ID())
		if err != nil {
			g.log.Error("leave on disconnect", zap.String("code", p.code), zap.String("conn", p.ID()), zap.Error(err))
			return
		}
		if out.Participant != nil {
			g.broadcast(p.code, msgParticipantLeft, participantLeftPayload{
				ParticipantID: out.Participant.ID,
				Name:          out.Participant.Name,
			}, true)
		}
	}
	g.updateConnectionGauge()
}

// leave records a departure, retrying transient and store failures so a
// dropped socket never leaves an active participant behind.
func (g *Gateway) leave(ctx context.Context, code, connID string) (app.LeaveOutcome, error) {
	var out app.LeaveOutcome
	op := func() error {
		var err error
		out, err = g.engine.Leave(ctx, code, connID)
		if err == nil {
			return nil
		}
		switch domain.CodeOf(err).Category() {
		case domain.CategoryTransient, domain.CategoryInternal:
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryInitial
	b.MaxInterval = g.retryMax
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, leaveAttempts-1), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		g.log.Debug("retrying leave", zap.String("code", code), zap.String("conn", connID), zap.Duration("wait", wait), zap.Error(err))
	})
	return out, err
}

// Run reconciles the registry against the store until ctx is done, then
// stops every pending question timer.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.reconcileInterval)
	defer ticker.Stop()
	defer g.timers.stopAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Reconcile(ctx)
		}
	}
}

// Reconcile drops registry entries for purged, finished or superseded
// connections and re-arms question timers lost to a restart.
func (g *Gateway) Reconcile(ctx context.Context) {
	for _, code := range g.registry.Codes() {
		asOf := g.now()
		session, err := g.engine.Session(ctx, code)
		if errors.Is(err, domain.ErrSessionNotFound) {
			g.registry.Drop(code)
			g.timers.cancel(code)
			continue
		}
		if err != nil {
			g.log.Warn("reconcile session", zap.String("code", code), zap.Error(err))
			continue
		}
		if session.Status.Terminal() {
			g.registry.Drop(code)
			g.timers.cancel(code)
			continue
		}
		if dropped := g.registry.Reconcile(session, asOf); len(dropped) > 0 {
			g.log.Debug("dropped stale connections", zap.String("code", code), zap.Strings("conns", dropped))
		}
		if session.QuestionActive && session.QuestionStartedAt != nil && !g.timers.pending(code) {
			g.rearmTimer(ctx, session)
		}
	}
	g.updateConnectionGauge()
}

func (g *Gateway) adminJoin(ctx context.Context, p *Peer, raw json.RawMessage) error {
	if !p.actor.IsAdmin() {
		return domain.ErrUnauthorized.WithMessage("admin credentials required")
	}
	var in codePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if p.role == RoleParticipant {
		return domain.Invalidf("connection already joined as a participant")
	}
	session, err := g.engine.AdminJoin(ctx, in.Code, p.actor.ID, p.ID())
	if err != nil {
		return err
	}
	if p.role == RoleAdmin && p.code != session.Code {
		g.registry.RemoveAdmin(p.code, p.ID())
	}
	p.role, p.code = RoleAdmin, session.Code

	if previous := g.registry.SetAdmin(session.Code, p.conn); previous != nil {
		g.unicast(previous, msgError, errorPayload{Code: domain.CodeUnauthorized, Message: "admin connection replaced"})
	}
	g.updateConnectionGauge()

	quiz, err := g.engine.Quiz(ctx, session.QuizRef)
	if err != nil {
		return err
	}
	g.unicast(p.conn, msgAdminJoined, adminJoinedPayload{Session: viewSession(session, quiz)})
	if session.QuestionActive && session.QuestionStartedAt != nil {
		if q, ok := quiz.Question(session.CurrentQuestionIndex); ok {
			g.unicast(p.conn, msgQuestionOpened, openedPayload(q, len(quiz.Questions), *session.QuestionStartedAt))
		}
	}
	return nil
}

func (g *Gateway) start(ctx context.Context, p *Peer, raw json.RawMessage) error {
	in, err := g.adminCode(p, raw)
	if err != nil {
		return err
	}
	session, err := g.engine.Start(ctx, in.Code, p.ID())
	if err != nil {
		return err
	}
	quiz, err := g.engine.Quiz(ctx, session.QuizRef)
	if err != nil {
		return err
	}
	g.broadcast(session.Code, msgTestStarted, testStartedPayload{Code: session.Code, TotalQuestions: len(quiz.Questions)}, true)
	return nil
}

func (g *Gateway) openQuestion(ctx context.Context, p *Peer, raw json.RawMessage) error {
	if !p.actor.IsAdmin() {
		return domain.ErrUnauthorized.WithMessage("admin credentials required")
	}
	var in indexPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	out, err := g.engine.OpenQuestion(ctx, in.Code, in.Index, p.ID())
	if err != nil {
		return err
	}
	code := out.Session.Code
	g.broadcast(code, msgQuestionOpened, openedPayload(out.Question, out.Total, out.StartedAt), true)
	g.armTimer(code, out.Question.Index, out.StartedAt, time.Duration(out.Question.Limit())*time.Second)
	return nil
}

func (g *Gateway) closeQuestion(ctx context.Context, p *Peer, raw json.RawMessage) error {
	in, err := g.adminCode(p, raw)
	if err != nil {
		return err
	}
	out, err := g.engine.CloseQuestion(ctx, in.Code, p.ID())
	if err != nil {
		return err
	}
	if !out.Closed {
		// Already closed: answer the admin alone.
		if out.Index >= 0 {
			g.unicast(p.conn, msgQuestionClosed, closedPayload(out))
		}
		return nil
	}
	g.timers.cancel(out.Session.Code)
	g.broadcast(out.Session.Code, msgQuestionClosed, closedPayload(out), true)
	return nil
}

func (g *Gateway) complete(ctx context.Context, p *Peer, raw json.RawMessage) error {
	in, err := g.adminCode(p, raw)
	if err != nil {
		return err
	}
	session, err := g.engine.Complete(ctx, in.Code, p.ID())
	if err != nil {
		return err
	}
	g.timers.cancel(session.Code)
	g.broadcast(session.Code, msgTestCompleted, testCompletedPayload{FinalResults: session.FinalResults}, true)
	g.registry.Drop(session.Code)
	g.updateConnectionGauge()
	return nil
}

func (g *Gateway) cancel(ctx context.Context, p *Peer, raw json.RawMessage) error {
	in, err := g.adminCode(p, raw)
	if err != nil {
		return err
	}
	session, err := g.engine.Cancel(ctx, in.Code, p.ID())
	if err != nil {
		return err
	}
	g.timers.cancel(session.Code)
	g.broadcast(session.Code, msgTestCancelled, testCancelledPayload{Code: session.Code}, true)
	g.registry.Drop(session.Code)
	g.updateConnectionGauge()
	return nil
}

func (g *Gateway) stats(ctx context.Context, p *Peer, raw json.RawMessage) error {
	if !p.actor.IsAdmin() {
		return domain.ErrUnauthorized.WithMessage("admin credentials required")
	}
	var in indexPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	stats, err := g.engine.QuestionStats(ctx, in.Code, in.Index, p.ID())
	if err != nil {
		return err
	}
	g.unicast(p.conn, msgAdminStats, stats)
	return nil
}

func (g *Gateway) leaderboard(ctx context.Context, p *Peer, raw json.RawMessage) error {
	in, err := g.adminCode(p, raw)
	if err != nil {
		return err
	}
	entries, err := g.engine.Leaderboard(ctx, in.Code, p.ID())
	if err != nil {
		return err
	}
	g.unicast(p.conn, msgAdminLeaderboard, leaderboardPayload{Entries: entries})
	return nil
}

func (g *Gateway) participantJoin(ctx context.Context, p *Peer, raw json.RawMessage) error {
	var in joinPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if p.role == RoleAdmin {
		return domain.Invalidf("connection already joined as admin")
	}
	out, err := g.engine.Join(ctx, app.JoinRequest{
		Code:          in.Code,
		Name:          in.Name,
		ConnectionID:  p.ID(),
		ParticipantID: in.ParticipantID,
	})
	if err != nil {
		return err
	}
	session := out.Session
	if p.role == RoleParticipant && p.code != session.Code {
		// Moving sessions: leave the previous one first.
		g.registry.RemoveParticipant(p.code, p.ID())
		if left, err := g.leave(ctx, p.code, p.ID()); err == nil && left.Participant != nil {
			g.broadcast(p.code, msgParticipantLeft, participantLeftPayload{ParticipantID: left.Participant.ID, Name: left.Participant.Name}, true)
		}
	}
	p.role, p.code = RoleParticipant, session.Code
	g.registry.AddParticipant(session.Code, p.conn)
	g.updateConnectionGauge()

	quiz, err := g.engine.Quiz(ctx, session.QuizRef)
	if err != nil {
		return err
	}
	g.unicast(p.conn, msgJoinAccepted, joinAckPayload{
		ParticipantID: out.Participant.ID,
		Rejoined:      out.Rejoined,
		Session:       viewSession(session, quiz),
	})
	g.broadcast(session.Code, msgParticipantJoined, participantJoinedPayload{
		Participant:  viewParticipant(out.Participant),
		Rejoined:     out.Rejoined,
		Participants: viewParticipants(session.Participants),
	}, true)

	// Late joiners catch up on the open question, with its original start time.
	if session.QuestionActive && session.QuestionStartedAt != nil {
		if q, ok := quiz.Question(session.CurrentQuestionIndex); ok {
			g.unicast(p.conn, msgQuestionOpened, openedPayload(q, len(quiz.Questions), *session.QuestionStartedAt))
		}
	}
	return nil
}

func (g *Gateway) submitAnswer(ctx context.Context, p *Peer, raw json.RawMessage) error {
	var in submitPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	out, err := g.engine.SubmitAnswer(ctx, app.SubmitAnswerRequest{
		Code:          in.Code,
		ConnectionID:  p.ID(),
		QuestionIndex: in.Index,
		Answer:        in.Answer,
		TimeRemaining: in.TimeRemaining,
	})
	if err != nil {
		return err
	}
	g.unicast(p.conn, msgAnswerSubmitted, answerSubmittedPayload{
		Index:         out.Answer.QuestionIndex,
		IsCorrect:     out.Answer.IsCorrect,
		Points:        out.Answer.Points,
		Score:         out.Participant.Score,
		TimeRemaining: out.Answer.TimeRemaining,
	})

	answered := 0
	for _, participant := range out.Session.Participants {
		if participant.IsActive && participant.HasAnswered(in.Index) {
			answered++
		}
	}
	g.toAdmin(out.Session.Code, msgAnswerReceived, answerReceivedPayload{
		Index:         in.Index,
		ParticipantID: out.Participant.ID,
		Name:          out.Participant.Name,
		TotalAnswers:  answered,
		Participants:  out.Session.ActiveCount(),
	})
	return nil
}

func (g *Gateway) armTimer(code string, index int, startedAt time.Time, d time.Duration) {
	g.timers.schedule(code, d, func() {
		g.closeOnTimer(code, index, startedAt)
	})
}

func (g *Gateway) rearmTimer(ctx context.Context, session domain.Session) {
	quiz, err := g.engine.Quiz(ctx, session.QuizRef)
	if err != nil {
		g.log.Warn("rearm question timer", zap.String("code", session.Code), zap.Error(err))
		return
	}
	q, ok := quiz.Question(session.CurrentQuestionIndex)
	if !ok {
		return
	}
	startedAt := *session.QuestionStartedAt
	remaining := startedAt.Add(time.Duration(q.Limit()) * time.Second).Sub(g.now())
	if remaining < 0 {
		remaining = 0
	}
	code, index := session.Code, session.CurrentQuestionIndex
	g.timers.scheduleIfAbsent(code, remaining, func() {
		g.closeOnTimer(code, index, startedAt)
	})
}

// closeOnTimer closes the window it was armed for, acting as the session's
// current admin. It broadcasts exactly what an explicit close would.
func (g *Gateway) closeOnTimer(code string, index int, startedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCloseTimeout)
	defer cancel()

	for attempt := 0; attempt < timerCloseAttempts; attempt++ {
		session, err := g.engine.Session(ctx, code)
		if err != nil {
			g.log.Warn("timer close: load session", zap.String("code", code), zap.Error(err))
			return
		}
		out, err := g.engine.CloseQuestion(ctx, code, session.AdminConnectionID, app.ForWindow(index, startedAt))
		if errors.Is(err, domain.ErrUnauthorized) {
			// The admin reconnected between our read and the write.
			continue
		}
		if err != nil {
			g.log.Error("timer close", zap.String("code", code), zap.Int("index", index), zap.Error(err))
			return
		}
		if out.Closed {
			metrics.QuestionTimersFired.Inc()
			g.broadcast(code, msgQuestionClosed, closedPayload(out), true)
		}
		return
	}
	g.log.Warn("timer close: admin kept changing", zap.String("code", code))
}

func closedPayload(out app.CloseOutcome) questionClosedPayload {
	return questionClosedPayload{
		Index:           out.Index,
		Stats:           out.Stats,
		CorrectAnswer:   out.Question.PrimaryAnswer(),
		AcceptedAnswers: out.Question.CorrectAnswers,
	}
}

func (g *Gateway) adminCode(p *Peer, raw json.RawMessage) (codePayload, error) {
	if !p.actor.IsAdmin() {
		return codePayload{}, domain.ErrUnauthorized.WithMessage("admin credentials required")
	}
	var in codePayload
	err := decode(raw, &in)
	return in, err
}

func (g *Gateway) fail(p *Peer, typ string, err error) {
	de := domain.AsError(err)
	fields := []zap.Field{zap.String("type", typ), zap.String("conn", p.ID()), zap.String("code", string(de.Code))}
	switch de.Code.Category() {
	case domain.CategoryTransient, domain.CategoryInternal:
		g.log.Error("message failed", append(fields, zap.Error(err))...)
	case domain.CategoryAuthorization:
		g.log.Info("message rejected", append(fields, zap.String("actor", p.actor.ID))...)
	default:
		g.log.Debug("message rejected", append(fields, zap.String("reason", de.Message))...)
	}
	g.unicast(p.conn, msgError, errorPayload{Code: de.Code, Message: de.Message, Details: de.Details})
}

func (g *Gateway) unicast(c Conn, typ string, payload any) {
	msg, err := encode(typ, payload)
	if err != nil {
		g.log.Error("encode message", zap.String("type", typ), zap.Error(err))
		return
	}
	metrics.GatewayMessages.WithLabelValues(typ, "out").Inc()
	if !c.Send(msg) {
		g.log.Debug("dropped message for slow or closed connection", zap.String("type", typ), zap.String("conn", c.ID()))
	}
}

// broadcast encodes payload once and fans it out to the session.
func (g *Gateway) broadcast(code, typ string, payload any, includeAdmin bool) {
	msg, err := encode(typ, payload)
	if err != nil {
		g.log.Error("encode message", zap.String("type", typ), zap.Error(err))
		return
	}
	n := g.registry.Broadcast(code, msg, includeAdmin)
	metrics.GatewayMessages.WithLabelValues(typ, "out").Add(float64(n))
}

func (g *Gateway) toAdmin(code, typ string, payload any) {
	msg, err := encode(typ, payload)
	if err != nil {
		g.log.Error("encode message", zap.String("type", typ), zap.Error(err))
		return
	}
	if g.registry.SendAdmin(code, msg) {
		metrics.GatewayMessages.WithLabelValues(typ, "out").Inc()
	}
}

func (g *Gateway) updateConnectionGauge() {
	admins, participants := g.registry.Counts()
	metrics.GatewayConnections.WithLabelValues(string(RoleAdmin)).Set(float64(admins))
	metrics.GatewayConnections.WithLabelValues(string(RoleParticipant)).Set(float64(participants))
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.Invalidf("payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.Invalidf("invalid payload: %v", err)
	}
	return nil
}
