package exam

import (
	"encoding/json"
	"time"
)

type QuestionType string

const (
	TypeMCQ         QuestionType = "mcq"
	TypeShortAnswer QuestionType = "short_answer"
	TypeTrueFalse   QuestionType = "true_false"
)

func ValidQuestionType(t QuestionType) bool {
	switch t {
	case TypeMCQ, TypeShortAnswer, TypeTrueFalse:
		return true
	}
	return false
}

// State of a participant's session. Derived from the started/submitted
// timestamps, which are the persisted discriminant.
type State string

const (
	StateRegistered State = "registered"
	StateInProgress State = "in_progress"
	StateSubmitted  State = "submitted"
)

type Exam struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"` // 5 chars, A-Z0-9, unique
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"` // informational only, not enforced
	PassPercentage  float64   `json:"pass_percentage"`
	CreatedAt       time.Time `json:"created_at"`
}

// Option is one MCQ choice. Options keep insertion order; keys come from a
// fixed A-D alphabet.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type Question struct {
	ID              string       `json:"id"`
	ExamID          string       `json:"exam_id"`
	Text            string       `json:"text"`
	Type            QuestionType `json:"type"`
	Options         []Option     `json:"options,omitempty"`
	CorrectAnswer   *string      `json:"correct_answer,omitempty"`
	SuggestedAnswer *string      `json:"suggested_answer,omitempty"`
	Points          int          `json:"points"`
	Difficulty      *float64     `json:"difficulty,omitempty"`
}

// OptionKey reports whether key is one of the question's option keys.
func (q Question) OptionKey(key string) bool {
	for _, o := range q.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// AccessCard is a one-time registration credential. UsedBy is a back-reference
// for audit only; the card does not own the participant.
type AccessCard struct {
	ID        string     `json:"id"`
	PIN       string     `json:"pin"`
	Used      bool       `json:"used"`
	UsedBy    *string    `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Participant struct {
	ID         string `json:"id"`
	ExamID     string `json:"exam_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	RegCode    string `json:"reg_code"` // 6 chars, A-Z0-9, unique
	CardPIN    string `json:"card_pin"`
	SessionPIN string `json:"-"` // 4 digits, chosen at registration

	StartedAt   *time.Time `json:"started_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`

	Score      *float64 `json:"score,omitempty"`
	Passed     *bool    `json:"passed,omitempty"`
	Answered   *int     `json:"answered,omitempty"`
	Correct    *int     `json:"correct,omitempty"`
	Suspicious bool     `json:"suspicious"`
}

func (p Participant) State() State {
	switch {
	case p.SubmittedAt != nil:
		return StateSubmitted
	case p.StartedAt != nil:
		return StateInProgress
	default:
		return StateRegistered
	}
}

type Answer struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	QuestionID    string `json:"question_id"`
	Text          string `json:"text"`
	Correct       *bool  `json:"is_correct,omitempty"`
	PointsEarned  *int   `json:"points_earned,omitempty"`
	TimeSeconds   int    `json:"time_seconds"`
}

// BehavioralEvent is one entry of a participant's append-only event log.
type BehavioralEvent struct {
	ID            string          `json:"id"`
	ParticipantID string          `json:"participant_id"`
	At            time.Time       `json:"at"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// QuestionPerf is the per-question aggregate over submitted participants.
type QuestionPerf struct {
	QuestionID string
	Attempts   int
	Correct    int
}
