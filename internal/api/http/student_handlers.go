package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/examgate/examgate/internal/exam"
)

// RegisterHandler redeems an access card and enrolls a participant.
func RegisterHandler(svc *exam.Service) http.HandlerFunc {
	type request struct {
		ExamID     string `json:"exam_id"`
		Name       string `json:"name"`
		Email      string `json:"email"`
		CardPIN    string `json:"card_pin"`
		SessionPIN string `json:"session_pin"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		p, err := svc.Register(r.Context(), exam.RegisterInput{
			ExamID:     req.ExamID,
			Name:       req.Name,
			Email:      req.Email,
			CardPIN:    req.CardPIN,
			SessionPIN: req.SessionPIN,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// LoginHandler resumes a session by exam and 4-digit PIN. The response
// carries the exam metadata so a returning client can restore its view.
func LoginHandler(svc *exam.Service) http.HandlerFunc {
	type request struct {
		ExamID     string `json:"exam_id"`
		SessionPIN string `json:"session_pin"`
	}
	type response struct {
		Participant exam.Participant `json:"participant"`
		Exam        exam.Exam        `json:"exam"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		p, err := svc.Login(r.Context(), req.ExamID, req.SessionPIN)
		if err != nil {
			writeErr(w, err)
			return
		}
		e, err := svc.GetExam(r.Context(), p.ExamID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response{Participant: p, Exam: e})
	}
}

func StartHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Start(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// QuestionsHandler serves the sanitized question set for an in-progress
// session. Answer keys never leave the server.
func QuestionsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questions, err := svc.QuestionsFor(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
	}
}

func RecordAnswerHandler(svc *exam.Service) http.HandlerFunc {
	type request struct {
		QuestionID  string `json:"question_id"`
		Answer      string `json:"answer"`
		TimeSeconds int    `json:"time_seconds"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		a, err := svc.RecordAnswer(r.Context(), chi.URLParam(r, "participantID"), req.QuestionID, req.Answer, req.TimeSeconds)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func SubmitHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Submit(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func ResultsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.GetResults(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func RecordEventHandler(svc *exam.Service) http.HandlerFunc {
	type request struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		p, err := svc.RecordEvent(r.Context(), chi.URLParam(r, "participantID"), req.Type, req.Payload)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, p)
	}
}
