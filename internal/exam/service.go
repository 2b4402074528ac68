package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examgate/examgate/internal/idgen"
)

// Notifier delivers outbound notifications. Delivery is best-effort: the
// service logs failures and never lets them alter an operation's outcome.
type Notifier interface {
	ExamCreated(ctx context.Context, e Exam) error
	ResultsReady(ctx context.Context, p Participant, e Exam, possible int) error
}

// Suggester is an optional capability that proposes a reference answer for a
// question. Its output is recorded as a fallback reference only, never as
// ground truth; the core functions with it absent.
type Suggester interface {
	SuggestAnswer(ctx context.Context, question string, options []Option) (string, error)
}

// Event types that flag a participant as suspicious.
const (
	EventFocusLost = "focus_lost"
	EventCopyPaste = "copy_paste"
)

var (
	sessionPINRe = regexp.MustCompile(`^[0-9]{4}$`)
	cardPINRe    = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)
)

// commitRetries bounds how often an allocated code is regenerated after a
// commit-time uniqueness conflict before giving up.
const commitRetries = 3

type Service struct {
	store    Store
	log      *slog.Logger
	notifier Notifier
	suggest  Suggester
}

type ServiceOption func(*Service)

func WithNotifier(n Notifier) ServiceOption   { return func(s *Service) { s.notifier = n } }
func WithSuggester(g Suggester) ServiceOption { return func(s *Service) { s.suggest = g } }
func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.log = l } }

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// --- Exam administration ---

func (s *Service) CreateExam(ctx context.Context, name string, durationMinutes int, passPercentage float64) (Exam, error) {
	if strings.TrimSpace(name) == "" {
		return Exam{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if durationMinutes <= 0 {
		return Exam{}, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}
	if passPercentage < 0 || passPercentage > 100 {
		return Exam{}, fmt.Errorf("%w: pass_percentage must be within 0-100", ErrValidation)
	}

	var e Exam
	err := s.withAllocatedCode(ctx, idgen.ExamCode, s.store.ExamCodeExists, func(code string) error {
		e = Exam{
			ID:              uuid.NewString(),
			Code:            code,
			Name:            strings.TrimSpace(name),
			DurationMinutes: durationMinutes,
			PassPercentage:  passPercentage,
			CreatedAt:       time.Now().UTC(),
		}
		return s.store.CreateExam(ctx, e)
	})
	if err != nil {
		return Exam{}, err
	}

	s.notify(func(ctx context.Context, n Notifier) error { return n.ExamCreated(ctx, e) })
	return e, nil
}

func (s *Service) GetExam(ctx context.Context, id string) (Exam, error) {
	return s.store.GetExam(ctx, id)
}

func (s *Service) ListExams(ctx context.Context) ([]Exam, error) {
	return s.store.ListExams(ctx)
}

type QuestionInput struct {
	Text          string
	Type          QuestionType
	Options       []Option
	CorrectAnswer *string
	Points        int
}

func (s *Service) AddQuestion(ctx context.Context, examID string, in QuestionInput) (Question, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Question{}, fmt.Errorf("%w: question text is required", ErrValidation)
	}
	if !ValidQuestionType(in.Type) {
		return Question{}, fmt.Errorf("%w: question type must be one of mcq, short_answer, true_false", ErrValidation)
	}
	if in.Type == TypeMCQ {
		if len(in.Options) == 0 {
			return Question{}, fmt.Errorf("%w: mcq questions require non-empty options", ErrValidation)
		}
		for _, o := range in.Options {
			if len(o.Key) != 1 || o.Key[0] < 'A' || o.Key[0] > 'D' {
				return Question{}, fmt.Errorf("%w: option keys must be A-D", ErrValidation)
			}
		}
	} else if len(in.Options) > 0 {
		return Question{}, fmt.Errorf("%w: non-mcq questions must not have options", ErrValidation)
	}
	points := in.Points
	if points == 0 {
		points = 1
	}
	if points < 1 {
		return Question{}, fmt.Errorf("%w: points must be at least 1", ErrValidation)
	}

	q := Question{
		ID:            uuid.NewString(),
		ExamID:        examID,
		Text:          strings.TrimSpace(in.Text),
		Type:          in.Type,
		Options:       in.Options,
		CorrectAnswer: in.CorrectAnswer,
		Points:        points,
	}
	if q.CorrectAnswer != nil && q.Type == TypeMCQ && !q.OptionKey(*q.CorrectAnswer) {
		return Question{}, fmt.Errorf("%w: correct_answer must be one of the option keys", ErrValidation)
	}

	// Without an authoritative answer a short-answer question may be
	// ungradable; ask the suggester for a fallback reference if one is wired.
	if q.CorrectAnswer == nil && s.suggest != nil {
		if text, err := s.suggest.SuggestAnswer(ctx, q.Text, q.Options); err != nil {
			s.log.Warn("answer suggestion failed", "question", q.ID, "err", err)
		} else if text != "" {
			q.SuggestedAnswer = &text
		}
	}

	if err := s.store.AddQuestion(ctx, q); err != nil {
		return Question{}, err
	}
	return q, nil
}

func (s *Service) GenerateAccessCards(ctx context.Context, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be a positive integer", ErrValidation)
	}
	pins := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var pin string
		err := s.withAllocatedCode(ctx, idgen.CardPIN, s.cardPINExists, func(code string) error {
			pin = code
			return s.store.CreateAccessCard(ctx, AccessCard{
				ID:        uuid.NewString(),
				PIN:       code,
				CreatedAt: time.Now().UTC(),
			})
		})
		if err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, nil
}

// --- Registration and session lifecycle ---

type RegisterInput struct {
	ExamID     string
	Name       string
	Email      string
	CardPIN    string
	SessionPIN string
}

// Register redeems an access card and creates the participant. Re-registering
// the same email for the same exam is an idempotent success returning the
// existing participant, so client retries are harmless.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Participant, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" || email == "" {
		return Participant{}, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if !sessionPINRe.MatchString(in.SessionPIN) {
		return Participant{}, fmt.Errorf("%w: session PIN must be exactly 4 digits", ErrValidation)
	}
	if !cardPINRe.MatchString(in.CardPIN) {
		return Participant{}, fmt.Errorf("%w: access card PIN must be 1 to 20 alphanumeric characters", ErrValidation)
	}

	exam, err := s.store.GetExam(ctx, in.ExamID)
	if err != nil {
		return Participant{}, fmt.Errorf("exam: %w", err)
	}

	if existing, err := s.store.FindParticipantByEmail(ctx, exam.ID, email); err == nil {
		return existing, nil
	}

	card, err := s.store.GetAccessCard(ctx, in.CardPIN)
	if err != nil {
		return Participant{}, fmt.Errorf("access card: %w", err)
	}
	if card.Used {
		return Participant{}, ErrCardUsed
	}

	var p Participant
	err = s.withAllocatedCode(ctx, idgen.RegCode, s.store.RegCodeExists, func(code string) error {
		p = Participant{
			ID:         uuid.NewString(),
			ExamID:     exam.ID,
			Name:       name,
			Email:      email,
			RegCode:    code,
			CardPIN:    in.CardPIN,
			SessionPIN: in.SessionPIN,
		}
		_, err := s.store.RegisterParticipant(ctx, p)
		return err
	})
	if err != nil {
		// A concurrent registration with the same email won the race; fold
		// into the idempotent success path.
		if existing, lookupErr := s.store.FindParticipantByEmail(ctx, exam.ID, email); lookupErr == nil {
			return existing, nil
		}
		return Participant{}, err
	}
	return p, nil
}

// Login authenticates a participant by exam and 4-digit session PIN.
func (s *Service) Login(ctx context.Context, examID, sessionPIN string) (Participant, error) {
	if !sessionPINRe.MatchString(sessionPIN) {
		return Participant{}, fmt.Errorf("%w: session PIN must be exactly 4 digits", ErrValidation)
	}
	p, err := s.store.FindParticipantByPIN(ctx, examID, sessionPIN)
	if err != nil {
		return Participant{}, fmt.Errorf("%w: invalid exam or PIN", ErrUnauthorized)
	}
	return p, nil
}

// Start begins (or resumes) the session. The start timestamp is stamped once
// and never moves.
func (s *Service) Start(ctx context.Context, participantID string) (Participant, error) {
	return s.store.StartParticipant(ctx, participantID, time.Now().UTC())
}

// QuestionsFor returns the exam's questions for an in-progress participant,
// with answer-bearing fields stripped.
func (s *Service) QuestionsFor(ctx context.Context, participantID string) ([]Question, error) {
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	switch p.State() {
	case StateRegistered:
		return nil, ErrNotStarted
	case StateSubmitted:
		return nil, ErrSubmitted
	}
	questions, err := s.store.ListQuestions(ctx, p.ExamID)
	if err != nil {
		return nil, err
	}
	out := make([]Question, len(questions))
	for i, q := range questions {
		q.CorrectAnswer = nil
		q.SuggestedAnswer = nil
		q.Difficulty = nil
		out[i] = q
	}
	return out, nil
}

// RecordAnswer upserts the participant's answer to a question of their exam.
func (s *Service) RecordAnswer(ctx context.Context, participantID, questionID, text string, timeSeconds int) (Answer, error) {
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return Answer{}, err
	}
	switch p.State() {
	case StateRegistered:
		return Answer{}, ErrNotStarted
	case StateSubmitted:
		return Answer{}, ErrSubmitted
	}

	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return Answer{}, fmt.Errorf("question: %w", err)
	}
	if q.ExamID != p.ExamID {
		return Answer{}, fmt.Errorf("%w: question does not belong to this exam", ErrNotFound)
	}

	return s.store.UpsertAnswer(ctx, Answer{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		QuestionID:    questionID,
		Text:          strings.TrimSpace(text),
		TimeSeconds:   timeSeconds,
	})
}

// Submit freezes the ledger, grades it exactly once and persists the verdict.
// The transition is one-way; the store guarantees a single winner under
// concurrent submissions.
func (s *Service) Submit(ctx context.Context, participantID string) (Participant, error) {
	p, err := s.store.SubmitParticipant(ctx, participantID, time.Now().UTC())
	if err != nil {
		return Participant{}, err
	}
	if s.notifier == nil {
		return p, nil
	}

	exam, err := s.store.GetExam(ctx, p.ExamID)
	if err != nil {
		s.log.Warn("results notification skipped", "participant", p.ID, "err", err)
		return p, nil
	}
	possible, err := s.possibleScore(ctx, p.ExamID)
	if err != nil {
		s.log.Warn("results notification degraded, possible score unavailable", "participant", p.ID, "err", err)
		possible = 0
	}
	s.notify(func(ctx context.Context, n Notifier) error { return n.ResultsReady(ctx, p, exam, possible) })
	return p, nil
}

// --- Views ---

type AnswerBreakdown struct {
	Question        Question `json:"question"`
	Answer          *Answer  `json:"answer,omitempty"`
	ReferenceAnswer *string  `json:"reference_answer,omitempty"`
}

type Results struct {
	Participant   Participant       `json:"participant"`
	Exam          Exam              `json:"exam"`
	PossibleScore int               `json:"possible_score"`
	Answers       []AnswerBreakdown `json:"answers"`
}

// GetResults returns the graded breakdown; only available after submission.
func (s *Service) GetResults(ctx context.Context, participantID string) (Results, error) {
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return Results{}, err
	}
	if p.State() != StateSubmitted {
		return Results{}, ErrNotSubmitted
	}
	exam, err := s.store.GetExam(ctx, p.ExamID)
	if err != nil {
		return Results{}, err
	}
	questions, err := s.store.ListQuestions(ctx, p.ExamID)
	if err != nil {
		return Results{}, err
	}
	answers, err := s.store.ListAnswers(ctx, participantID)
	if err != nil {
		return Results{}, err
	}
	byQ := make(map[string]Answer, len(answers))
	for _, a := range answers {
		byQ[a.QuestionID] = a
	}

	res := Results{Participant: p, Exam: exam}
	for _, q := range questions {
		res.PossibleScore += q.Points
		bd := AnswerBreakdown{Question: q}
		if a, ok := byQ[q.ID]; ok {
			a := a
			bd.Answer = &a
		}
		if q.CorrectAnswer != nil {
			bd.ReferenceAnswer = q.CorrectAnswer
		} else {
			bd.ReferenceAnswer = q.SuggestedAnswer
		}
		res.Answers = append(res.Answers, bd)
	}
	return res, nil
}

func (s *Service) GetParticipant(ctx context.Context, id string) (Participant, error) {
	return s.store.GetParticipant(ctx, id)
}

func (s *Service) ListParticipants(ctx context.Context) ([]Participant, error) {
	return s.store.ListParticipants(ctx)
}

func (s *Service) GetParticipantAnswers(ctx context.Context, participantID string) ([]Answer, error) {
	return s.store.ListAnswers(ctx, participantID)
}

func (s *Service) GetParticipantEvents(ctx context.Context, participantID string) ([]BehavioralEvent, error) {
	return s.store.ListEvents(ctx, participantID)
}

// RecordEvent appends a behavioral event to the participant's log and flags
// suspicion on the designated event types.
func (s *Service) RecordEvent(ctx context.Context, participantID, eventType string, payload []byte) (Participant, error) {
	if strings.TrimSpace(eventType) == "" {
		return Participant{}, fmt.Errorf("%w: event type is required", ErrValidation)
	}
	flag := eventType == EventFocusLost || eventType == EventCopyPaste
	return s.store.AppendEvent(ctx, BehavioralEvent{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		At:            time.Now().UTC(),
		Type:          eventType,
		Payload:       payload,
	}, flag)
}

// --- internals ---

func (s *Service) possibleScore(ctx context.Context, examID string) (int, error) {
	questions, err := s.store.ListQuestions(ctx, examID)
	if err != nil {
		return 0, err
	}
	possible := 0
	for _, q := range questions {
		possible += q.Points
	}
	return possible, nil
}

// withAllocatedCode runs commit with a freshly allocated code, regenerating
// on commit-time uniqueness conflicts. The store's constraint is the
// authoritative guarantee; the allocator's check is advisory.
func (s *Service) withAllocatedCode(
	ctx context.Context,
	alloc func(context.Context, idgen.TakenFunc) (string, error),
	taken idgen.TakenFunc,
	commit func(code string) error,
) error {
	var lastErr error
	for i := 0; i < commitRetries; i++ {
		code, err := alloc(ctx, taken)
		if err != nil {
			return err
		}
		err = commit(code)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", idgen.ErrExhausted, lastErr)
}

func (s *Service) cardPINExists(ctx context.Context, pin string) (bool, error) {
	_, err := s.store.GetAccessCard(ctx, pin)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// notify fires a best-effort notification without blocking the caller.
func (s *Service) notify(fn func(context.Context, Notifier) error) {
	if s.notifier == nil {
		return
	}
	n := s.notifier
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := fn(ctx, n); err != nil {
			s.log.Warn("notification failed", "err", err)
		}
	}()
}
