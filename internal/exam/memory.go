package exam

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/examgate/examgate/internal/grading"
)

// memoryStore keeps everything under one mutex, which trivially serializes
// the per-participant transitions and the card redemption.
type memoryStore struct {
	mu           sync.RWMutex
	grader       grading.Grader
	exams        map[string]Exam
	questions    map[string]Question
	cards        map[string]AccessCard // keyed by PIN
	participants map[string]Participant
	answers      map[string]map[string]Answer // participantID -> questionID -> answer
	events       map[string][]BehavioralEvent // participantID -> log
	seq          map[string][]string          // examID -> question ids, insertion order
}

func NewInMemoryStore(grader grading.Grader) Store {
	return &memoryStore{
		grader:       grader,
		exams:        map[string]Exam{},
		questions:    map[string]Question{},
		cards:        map[string]AccessCard{},
		participants: map[string]Participant{},
		answers:      map[string]map[string]Answer{},
		events:       map[string][]BehavioralEvent{},
		seq:          map[string][]string{},
	}
}

func (m *memoryStore) CreateExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.exams {
		if ex.Code == e.Code {
			return ErrDuplicateCode
		}
	}
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, ErrNotFound
	}
	return e, nil
}

func (m *memoryStore) ListExams(_ context.Context) ([]Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Exam, 0, len(m.exams))
	for _, e := range m.exams {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) ExamCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.exams {
		if e.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) AddQuestion(_ context.Context, q Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[q.ExamID]; !ok {
		return ErrNotFound
	}
	m.questions[q.ID] = q
	m.seq[q.ExamID] = append(m.seq[q.ExamID], q.ID)
	return nil
}

func (m *memoryStore) GetQuestion(_ context.Context, id string) (Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return Question{}, ErrNotFound
	}
	return q, nil
}

func (m *memoryStore) ListQuestions(_ context.Context, examID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.seq[examID]
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.questions[id])
	}
	return out, nil
}

func (m *memoryStore) SetQuestionDifficulty(_ context.Context, questionID string, difficulty float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return ErrNotFound
	}
	q.Difficulty = &difficulty
	m.questions[questionID] = q
	return nil
}

func (m *memoryStore) CreateAccessCard(_ context.Context, c AccessCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[c.PIN]; ok {
		return ErrDuplicateCode
	}
	m.cards[c.PIN] = c
	return nil
}

func (m *memoryStore) GetAccessCard(_ context.Context, pin string) (AccessCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[pin]
	if !ok {
		return AccessCard{}, ErrNotFound
	}
	return c, nil
}

func (m *memoryStore) RegisterParticipant(_ context.Context, p Participant) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, ok := m.cards[p.CardPIN]
	if !ok {
		return Participant{}, ErrNotFound
	}
	if card.Used {
		return Participant{}, ErrCardUsed
	}
	for _, ex := range m.participants {
		if ex.ExamID == p.ExamID && ex.Email == p.Email {
			return Participant{}, ErrDuplicateEmail
		}
		if ex.RegCode == p.RegCode {
			return Participant{}, ErrDuplicateCode
		}
	}

	m.participants[p.ID] = p

	now := time.Now().UTC()
	card.Used = true
	card.UsedBy = &p.ID
	card.UsedAt = &now
	m.cards[p.CardPIN] = card
	return p, nil
}

func (m *memoryStore) GetParticipant(_ context.Context, id string) (Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) ListParticipants(_ context.Context) ([]Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegCode < out[j].RegCode })
	return out, nil
}

func (m *memoryStore) FindParticipantByEmail(_ context.Context, examID, email string) (Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.participants {
		if p.ExamID == examID && p.Email == email {
			return p, nil
		}
	}
	return Participant{}, ErrNotFound
}

func (m *memoryStore) FindParticipantByPIN(_ context.Context, examID, sessionPIN string) (Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.participants {
		if p.ExamID == examID && p.SessionPIN == sessionPIN {
			return p, nil
		}
	}
	return Participant{}, ErrNotFound
}

func (m *memoryStore) RegCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.participants {
		if p.RegCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) StartParticipant(_ context.Context, id string, at time.Time) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return Participant{}, ErrNotFound
	}
	if p.SubmittedAt != nil {
		return Participant{}, ErrSubmitted
	}
	if p.StartedAt == nil {
		p.StartedAt = &at
		m.participants[id] = p
	}
	return p, nil
}

func (m *memoryStore) SubmitParticipant(_ context.Context, id string, at time.Time) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return Participant{}, ErrNotFound
	}
	if p.StartedAt == nil {
		return Participant{}, ErrNotStarted
	}
	if p.SubmittedAt != nil {
		return Participant{}, ErrSubmitted
	}

	exam := m.exams[p.ExamID]
	possible := 0
	for _, qid := range m.seq[p.ExamID] {
		possible += m.questions[qid].Points
	}

	var sum grading.Summary
	for qid, a := range m.answers[id] {
		q, ok := m.questions[qid]
		if !ok {
			continue
		}
		res := m.grader.Grade(gradingView(q), a.Text)
		correct := res.Correct
		earned := res.PointsEarned
		a.Correct = &correct
		a.PointsEarned = &earned
		m.answers[id][qid] = a
		sum.Add(res)
	}

	score := float64(sum.Score)
	passed := grading.Passed(sum.Score, possible, exam.PassPercentage)
	p.SubmittedAt = &at
	p.Score = &score
	p.Passed = &passed
	p.Answered = &sum.Answered
	p.Correct = &sum.Correct
	m.participants[id] = p
	return p, nil
}

func (m *memoryStore) UpsertAnswer(_ context.Context, a Answer) (Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[a.ParticipantID]
	if !ok {
		return Answer{}, ErrNotFound
	}
	if p.SubmittedAt != nil {
		return Answer{}, ErrSubmitted
	}
	byQ, ok := m.answers[a.ParticipantID]
	if !ok {
		byQ = map[string]Answer{}
		m.answers[a.ParticipantID] = byQ
	}
	if existing, ok := byQ[a.QuestionID]; ok {
		existing.Text = a.Text
		existing.TimeSeconds = a.TimeSeconds
		existing.Correct = nil
		existing.PointsEarned = nil
		byQ[a.QuestionID] = existing
		return existing, nil
	}
	byQ[a.QuestionID] = a
	return a, nil
}

func (m *memoryStore) ListAnswers(_ context.Context, participantID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[participantID]
	if !ok {
		return nil, ErrNotFound
	}
	byQ := m.answers[participantID]
	out := make([]Answer, 0, len(byQ))
	for _, qid := range m.seq[p.ExamID] {
		if a, ok := byQ[qid]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) AppendEvent(_ context.Context, ev BehavioralEvent, flag bool) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[ev.ParticipantID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	m.events[ev.ParticipantID] = append(m.events[ev.ParticipantID], ev)
	if flag && !p.Suspicious {
		p.Suspicious = true
		m.participants[ev.ParticipantID] = p
	}
	return p, nil
}

func (m *memoryStore) ListEvents(_ context.Context, participantID string) ([]BehavioralEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.participants[participantID]; !ok {
		return nil, ErrNotFound
	}
	return append([]BehavioralEvent{}, m.events[participantID]...), nil
}

func (m *memoryStore) QuestionPerformance(_ context.Context, examID string) ([]QuestionPerf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.exams[examID]; !ok {
		return nil, ErrNotFound
	}
	perf := map[string]*QuestionPerf{}
	for pid, p := range m.participants {
		if p.ExamID != examID || p.SubmittedAt == nil {
			continue
		}
		for qid, a := range m.answers[pid] {
			qp, ok := perf[qid]
			if !ok {
				qp = &QuestionPerf{QuestionID: qid}
				perf[qid] = qp
			}
			qp.Attempts++
			if a.Correct != nil && *a.Correct {
				qp.Correct++
			}
		}
	}
	out := make([]QuestionPerf, 0, len(perf))
	for _, qid := range m.seq[examID] {
		if qp, ok := perf[qid]; ok {
			out = append(out, *qp)
		}
	}
	return out, nil
}

// gradingView projects a question onto the grading engine's input type.
func gradingView(q Question) grading.Q {
	return grading.Q{
		Type:            string(q.Type),
		Points:          q.Points,
		CorrectAnswer:   q.CorrectAnswer,
		SuggestedAnswer: q.SuggestedAnswer,
	}
}
