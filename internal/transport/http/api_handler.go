package http

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"livequiz/internal/app"
	"livequiz/internal/domain"
)

// APIHandler serves the small REST surface around sessions: creating one
// and reading its state or results outside the websocket.
type APIHandler struct {
	engine *app.SessionEngine
	auth   Authenticator
	log    *zap.Logger
}

func NewAPIHandler(engine *app.SessionEngine, auth Authenticator, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{engine: engine, auth: auth, log: log}
}

func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{code}", h.getSession)
	mux.HandleFunc("GET /api/sessions/{code}/results", h.getResults)
}

type createSessionRequest struct {
	QuizRef         string       `json:"quizRef"`
	Mode            domain.Mode  `json:"mode"`
	MaxParticipants int          `json:"maxParticipants"`
	Window          *windowInput `json:"window,omitempty"`
}

type windowInput struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type resultsResponse struct {
	Code    string               `json:"code"`
	Results []domain.FinalResult `json:"results"`
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !actor.IsAdmin() {
		writeError(w, domain.ErrUnauthorized.WithMessage("admin credentials required"))
		return
	}

	var in createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		writeError(w, domain.Invalidf("invalid request body: %v", err))
		return
	}
	if in.Mode == "" {
		in.Mode = domain.ModeOnline
	}
	req := app.CreateSessionRequest{
		QuizRef:         in.QuizRef,
		OwnerID:         actor.ID,
		Mode:            in.Mode,
		MaxParticipants: in.MaxParticipants,
	}
	if in.Window != nil {
		req.Window = &domain.ScheduleWindow{Start: in.Window.Start, End: in.Window.End}
	}

	session, err := h.engine.CreateSession(r.Context(), req)
	if err != nil {
		h.logFailure("create session", err)
		writeError(w, err)
		return
	}
	quiz, err := h.engine.Quiz(r.Context(), session.QuizRef)
	if err != nil {
		writeError(w, err)
		return
	}
	h.log.Info("session created", zap.String("code", session.Code), zap.String("quiz", session.QuizRef), zap.String("owner", actor.ID))
	writeJSON(w, http.StatusCreated, viewSession(session, quiz))
}

func (h *APIHandler) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Session(r.Context(), r.PathValue("code"))
	if err != nil {
		h.logFailure("get session", err)
		writeError(w, err)
		return
	}
	quiz, err := h.engine.Quiz(r.Context(), session.QuizRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(session, quiz))
}

func (h *APIHandler) getResults(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	results, err := h.engine.Results(r.Context(), code)
	if err != nil {
		h.logFailure("get results", err)
		writeError(w, err)
		return
	}
	session, err := h.engine.Session(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{Code: session.Code, Results: results})
}

func (h *APIHandler) logFailure(op string, err error) {
	switch domain.CodeOf(err).Category() {
	case domain.CategoryTransient, domain.CategoryInternal:
		h.log.Error(op, zap.Error(err))
	default:
		h.log.Debug(op, zap.Error(err))
	}
}

// statusFor maps an error category to an HTTP status.
func statusFor(code domain.Code) int {
	switch code.Category() {
	case domain.CategoryValidation:
		return http.StatusBadRequest
	case domain.CategoryNotFound:
		return http.StatusNotFound
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryConflict:
		return http.StatusConflict
	case domain.CategoryTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	de := domain.AsError(err)
	writeJSON(w, statusFor(de.Code), errorPayload{Code: de.Code, Message: de.Message, Details: de.Details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
