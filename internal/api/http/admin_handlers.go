package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/examgate/examgate/internal/analysis"
	"github.com/examgate/examgate/internal/exam"
)

// CreateExamHandler creates an exam with a freshly allocated join code.
func CreateExamHandler(svc *exam.Service) http.HandlerFunc {
	type request struct {
		Name            string  `json:"name"`
		DurationMinutes int     `json:"duration_minutes"`
		PassPercentage  float64 `json:"pass_percentage"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		e, err := svc.CreateExam(r.Context(), req.Name, req.DurationMinutes, req.PassPercentage)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func ListExamsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exams, err := svc.ListExams(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"exams": exams})
	}
}

func GetExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.GetExam(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func AddQuestionHandler(svc *exam.Service) http.HandlerFunc {
	type request struct {
		Text          string            `json:"text"`
		Type          exam.QuestionType `json:"type"`
		Options       []exam.Option     `json:"options,omitempty"`
		CorrectAnswer *string           `json:"correct_answer,omitempty"`
		Points        int               `json:"points,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		q, err := svc.AddQuestion(r.Context(), chi.URLParam(r, "examID"), exam.QuestionInput{
			Text:          req.Text,
			Type:          req.Type,
			Options:       req.Options,
			CorrectAnswer: req.CorrectAnswer,
			Points:        req.Points,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

func GenerateCardsHandler(svc *exam.Service) http.HandlerFunc {
	type request struct {
		Count int `json:"count"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		pins, err := svc.GenerateAccessCards(r.Context(), req.Count)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"pins": pins})
	}
}

func ListParticipantsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts, err := svc.ListParticipants(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"participants": parts})
	}
}

func GetParticipantHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetParticipant(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func ParticipantAnswersHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		answers, err := svc.GetParticipantAnswers(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"answers": answers})
	}
}

// ParticipantEventsHandler returns the behavioral event log for audit.
func ParticipantEventsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.GetParticipantEvents(r.Context(), chi.URLParam(r, "participantID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

// AnalyzeDifficultyHandler recomputes per-question difficulty for an exam
// from the performance of submitted participants.
func AnalyzeDifficultyHandler(an *analysis.Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := an.Analyze(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": results})
	}
}
