package exam

import (
	"context"
	"time"
)

// Store is the persistence boundary of the core. Implementations must enforce
// the uniqueness constraints (exam code, card PIN, reg code, email+exam,
// participant+question) and the conditional state transitions; callers treat
// the advisory existence checks as best-effort only.
type Store interface {
	CreateExam(ctx context.Context, e Exam) error // ErrDuplicateCode on code collision
	GetExam(ctx context.Context, id string) (Exam, error)
	ListExams(ctx context.Context) ([]Exam, error)
	ExamCodeExists(ctx context.Context, code string) (bool, error)

	AddQuestion(ctx context.Context, q Question) error
	GetQuestion(ctx context.Context, id string) (Question, error)
	ListQuestions(ctx context.Context, examID string) ([]Question, error)
	SetQuestionDifficulty(ctx context.Context, questionID string, difficulty float64) error

	CreateAccessCard(ctx context.Context, c AccessCard) error // ErrDuplicateCode on PIN collision
	GetAccessCard(ctx context.Context, pin string) (AccessCard, error)

	// RegisterParticipant atomically redeems the access card named by
	// p.CardPIN and inserts the participant. Exactly one caller can redeem a
	// given card: losers observe ErrCardUsed.
	RegisterParticipant(ctx context.Context, p Participant) (Participant, error)
	GetParticipant(ctx context.Context, id string) (Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)
	FindParticipantByEmail(ctx context.Context, examID, email string) (Participant, error)
	FindParticipantByPIN(ctx context.Context, examID, sessionPIN string) (Participant, error)
	RegCodeExists(ctx context.Context, code string) (bool, error)

	// StartParticipant stamps started_at once; restarting an in-progress
	// session is an idempotent resume that keeps the original stamp.
	StartParticipant(ctx context.Context, id string, at time.Time) (Participant, error)

	// SubmitParticipant performs the one-way InProgress -> Submitted
	// transition as a conditional update, grades the frozen answer ledger
	// exactly once and persists aggregates and verdict atomically with
	// submitted_at. At most one concurrent caller observes success; the rest
	// get ErrSubmitted.
	SubmitParticipant(ctx context.Context, id string, at time.Time) (Participant, error)

	// UpsertAnswer inserts or overwrites the (participant, question) answer
	// while the session is in progress; grading fields stay unset.
	UpsertAnswer(ctx context.Context, a Answer) (Answer, error)
	ListAnswers(ctx context.Context, participantID string) ([]Answer, error)

	// AppendEvent appends to the behavioral log and, when flag is set, marks
	// the participant suspicious.
	AppendEvent(ctx context.Context, ev BehavioralEvent, flag bool) (Participant, error)
	ListEvents(ctx context.Context, participantID string) ([]BehavioralEvent, error)

	// QuestionPerformance aggregates (attempts, correct) per question over
	// the graded answers of all submitted participants of the exam.
	QuestionPerformance(ctx context.Context, examID string) ([]QuestionPerf, error)
}
