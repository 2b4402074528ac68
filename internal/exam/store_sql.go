package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/examgate/examgate/internal/grading"
)

// SQLStore persists the core entities over database/sql. It works against
// both drivers wired in internal/db ("sqlite" and "postgres"); timestamps are
// unix seconds. The lifecycle transitions are conditional updates so that
// concurrent callers race on the database row, not on application state.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	grader grading.Grader
}

func NewSQLStore(db *sql.DB, driver string, grader grading.Grader) *SQLStore {
	return &SQLStore{db: db, driver: driver, grader: grader}
}

func (s *SQLStore) CreateExam(ctx context.Context, e Exam) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO exams (id,code,name,duration_minutes,pass_percentage,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Code, e.Name, e.DurationMinutes, e.PassPercentage, e.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,code,name,duration_minutes,pass_percentage,created_at FROM exams WHERE id=$1`, id)
	return scanExam(row)
}

func (s *SQLStore) ListExams(ctx context.Context) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,code,name,duration_minutes,pass_percentage,created_at FROM exams ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) ExamCodeExists(ctx context.Context, code string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM exams WHERE code=$1`, code)
}

func (s *SQLStore) AddQuestion(ctx context.Context, q Question) error {
	ok, err := s.exists(ctx, `SELECT 1 FROM exams WHERE id=$1`, q.ExamID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	oj, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions (id,exam_id,text,type,options_json,correct_answer,suggested_answer,points,difficulty)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		q.ID, q.ExamID, q.Text, string(q.Type), string(oj), q.CorrectAnswer, q.SuggestedAnswer, q.Points, q.Difficulty)
	return err
}

func (s *SQLStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionCols+` FROM questions WHERE id=$1`, id)
	return scanQuestion(row)
}

func (s *SQLStore) ListQuestions(ctx context.Context, examID string) ([]Question, error) {
	return s.queryQuestions(ctx, s.db, examID)
}

func (s *SQLStore) SetQuestionDifficulty(ctx context.Context, questionID string, difficulty float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET difficulty=$1 WHERE id=$2`, difficulty, questionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateAccessCard(ctx context.Context, c AccessCard) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO access_cards (id,pin,is_used,created_at) VALUES ($1,$2,$3,$4)`,
		c.ID, c.PIN, c.Used, c.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

func (s *SQLStore) GetAccessCard(ctx context.Context, pin string) (AccessCard, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,pin,is_used,used_by,used_at,created_at FROM access_cards WHERE pin=$1`, pin)
	var c AccessCard
	var usedBy sql.NullString
	var usedAt, createdAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.PIN, &c.Used, &usedBy, &usedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccessCard{}, ErrNotFound
		}
		return AccessCard{}, err
	}
	if usedBy.Valid {
		c.UsedBy = &usedBy.String
	}
	c.UsedAt = unixPtr(usedAt)
	c.CreatedAt = time.Unix(createdAt.Int64, 0).UTC()
	return c, nil
}

func (s *SQLStore) RegisterParticipant(ctx context.Context, p Participant) (Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Participant{}, err
	}
	defer tx.Rollback()

	var used bool
	err = tx.QueryRowContext(ctx, `SELECT is_used FROM access_cards WHERE pin=$1`, p.CardPIN).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, fmt.Errorf("access card: %w", ErrNotFound)
	}
	if err != nil {
		return Participant{}, err
	}
	if used {
		return Participant{}, ErrCardUsed
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO participants (id,exam_id,name,email,reg_code,card_pin,session_pin,suspicious)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.ExamID, p.Name, p.Email, p.RegCode, p.CardPIN, p.SessionPIN, p.Suspicious)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(strings.ToLower(err.Error()), "email") {
				return Participant{}, ErrDuplicateEmail
			}
			return Participant{}, ErrDuplicateCode
		}
		return Participant{}, err
	}

	// Compare-and-set on the unused flag: exactly one registration can
	// consume a card.
	res, err := tx.ExecContext(ctx, `UPDATE access_cards SET is_used=$1, used_by=$2, used_at=$3 WHERE pin=$4 AND is_used=$5`,
		true, p.ID, time.Now().UTC().Unix(), p.CardPIN, false)
	if err != nil {
		return Participant{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Participant{}, ErrCardUsed
	}

	if err := tx.Commit(); err != nil {
		return Participant{}, err
	}
	return p, nil
}

func (s *SQLStore) GetParticipant(ctx context.Context, id string) (Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantCols+` FROM participants WHERE id=$1`, id)
	return scanParticipant(row)
}

func (s *SQLStore) ListParticipants(ctx context.Context) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+participantCols+` FROM participants ORDER BY reg_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) FindParticipantByEmail(ctx context.Context, examID, email string) (Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantCols+` FROM participants WHERE exam_id=$1 AND email=$2`, examID, email)
	return scanParticipant(row)
}

func (s *SQLStore) FindParticipantByPIN(ctx context.Context, examID, sessionPIN string) (Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantCols+` FROM participants WHERE exam_id=$1 AND session_pin=$2`, examID, sessionPIN)
	return scanParticipant(row)
}

func (s *SQLStore) RegCodeExists(ctx context.Context, code string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM participants WHERE reg_code=$1`, code)
}

func (s *SQLStore) StartParticipant(ctx context.Context, id string, at time.Time) (Participant, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE participants SET started_at=$1 WHERE id=$2 AND started_at IS NULL AND submitted_at IS NULL`,
		at.Unix(), id)
	if err != nil {
		return Participant{}, err
	}
	p, err := s.GetParticipant(ctx, id)
	if err != nil {
		return Participant{}, err
	}
	if p.SubmittedAt != nil {
		return Participant{}, ErrSubmitted
	}
	return p, nil
}

func (s *SQLStore) SubmitParticipant(ctx context.Context, id string, at time.Time) (Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Participant{}, err
	}
	defer tx.Rollback()

	// Claim the one-way transition. Losers of the race see zero rows and are
	// classified below; nobody grades twice.
	res, err := tx.ExecContext(ctx, `UPDATE participants SET submitted_at=$1 WHERE id=$2 AND started_at IS NOT NULL AND submitted_at IS NULL`,
		at.Unix(), id)
	if err != nil {
		return Participant{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var started, submitted sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT started_at, submitted_at FROM participants WHERE id=$1`, id).Scan(&started, &submitted)
		if errors.Is(err, sql.ErrNoRows) {
			return Participant{}, ErrNotFound
		}
		if err != nil {
			return Participant{}, err
		}
		if submitted.Valid {
			return Participant{}, ErrSubmitted
		}
		return Participant{}, ErrNotStarted
	}

	var examID string
	var passPct float64
	err = tx.QueryRowContext(ctx, `SELECT p.exam_id, e.pass_percentage FROM participants p JOIN exams e ON e.id=p.exam_id WHERE p.id=$1`, id).Scan(&examID, &passPct)
	if err != nil {
		return Participant{}, err
	}

	questions, err := s.queryQuestions(ctx, tx, examID)
	if err != nil {
		return Participant{}, err
	}
	possible := 0
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		possible += q.Points
		byID[q.ID] = q
	}

	answers, err := queryAnswers(ctx, tx, id)
	if err != nil {
		return Participant{}, err
	}

	var sum grading.Summary
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		r := s.grader.Grade(gradingView(q), a.Text)
		if _, err := tx.ExecContext(ctx, `UPDATE answers SET is_correct=$1, points_earned=$2 WHERE id=$3`,
			r.Correct, r.PointsEarned, a.ID); err != nil {
			return Participant{}, err
		}
		sum.Add(r)
	}

	passed := grading.Passed(sum.Score, possible, passPct)
	if _, err := tx.ExecContext(ctx, `UPDATE participants SET score=$1, passed=$2, answered=$3, correct=$4 WHERE id=$5`,
		float64(sum.Score), passed, sum.Answered, sum.Correct, id); err != nil {
		return Participant{}, err
	}

	if err := tx.Commit(); err != nil {
		return Participant{}, err
	}
	return s.GetParticipant(ctx, id)
}

func (s *SQLStore) UpsertAnswer(ctx context.Context, a Answer) (Answer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Answer{}, err
	}
	defer tx.Rollback()

	// Guard the not-submitted state with a conditional write on the
	// participant row: it takes the same row lock the submit transition
	// updates, so a concurrent submit and this upsert serialize instead of
	// racing a plain read. Zero rows means missing or already submitted.
	res, err := tx.ExecContext(ctx, `UPDATE participants SET suspicious=suspicious WHERE id=$1 AND submitted_at IS NULL`, a.ParticipantID)
	if err != nil {
		return Answer{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := existsTx(ctx, tx, `SELECT 1 FROM participants WHERE id=$1`, a.ParticipantID)
		if err != nil {
			return Answer{}, err
		}
		if !ok {
			return Answer{}, ErrNotFound
		}
		return Answer{}, ErrSubmitted
	}

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM answers WHERE participant_id=$1 AND question_id=$2`, a.ParticipantID, a.QuestionID).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO answers (id,participant_id,question_id,text,time_seconds) VALUES ($1,$2,$3,$4,$5)`,
			a.ID, a.ParticipantID, a.QuestionID, a.Text, a.TimeSeconds)
		if err != nil {
			return Answer{}, err
		}
	case err != nil:
		return Answer{}, err
	default:
		// Overwrite text and time; grading happens only at submission.
		_, err = tx.ExecContext(ctx, `UPDATE answers SET text=$1, time_seconds=$2, is_correct=NULL, points_earned=NULL WHERE id=$3`,
			a.Text, a.TimeSeconds, existingID)
		if err != nil {
			return Answer{}, err
		}
		a.ID = existingID
	}

	if err := tx.Commit(); err != nil {
		return Answer{}, err
	}
	a.Correct = nil
	a.PointsEarned = nil
	return a, nil
}

func (s *SQLStore) ListAnswers(ctx context.Context, participantID string) ([]Answer, error) {
	ok, err := s.exists(ctx, `SELECT 1 FROM participants WHERE id=$1`, participantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return queryAnswers(ctx, s.db, participantID)
}

func (s *SQLStore) AppendEvent(ctx context.Context, ev BehavioralEvent, flag bool) (Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Participant{}, err
	}
	defer tx.Rollback()

	ok, err := existsTx(ctx, tx, `SELECT 1 FROM participants WHERE id=$1`, ev.ParticipantID)
	if err != nil {
		return Participant{}, err
	}
	if !ok {
		return Participant{}, ErrNotFound
	}

	payload := "{}"
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO behavioral_events (id,participant_id,at,event_type,payload) VALUES ($1,$2,$3,$4,$5)`,
		ev.ID, ev.ParticipantID, ev.At.Unix(), ev.Type, payload); err != nil {
		return Participant{}, err
	}
	if flag {
		if _, err := tx.ExecContext(ctx, `UPDATE participants SET suspicious=$1 WHERE id=$2`, true, ev.ParticipantID); err != nil {
			return Participant{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Participant{}, err
	}
	return s.GetParticipant(ctx, ev.ParticipantID)
}

func (s *SQLStore) ListEvents(ctx context.Context, participantID string) ([]BehavioralEvent, error) {
	ok, err := s.exists(ctx, `SELECT 1 FROM participants WHERE id=$1`, participantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	// seq is the insertion order; the coarse at timestamp cannot break ties
	// within a second.
	rows, err := s.db.QueryContext(ctx, `SELECT id,participant_id,at,event_type,payload FROM behavioral_events WHERE participant_id=$1 ORDER BY seq`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BehavioralEvent
	for rows.Next() {
		var ev BehavioralEvent
		var at int64
		var payload string
		if err := rows.Scan(&ev.ID, &ev.ParticipantID, &at, &ev.Type, &payload); err != nil {
			return nil, err
		}
		ev.At = time.Unix(at, 0).UTC()
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLStore) QuestionPerformance(ctx context.Context, examID string) ([]QuestionPerf, error) {
	ok, err := s.exists(ctx, `SELECT 1 FROM exams WHERE id=$1`, examID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `SELECT a.question_id, COUNT(*),
		SUM(CASE WHEN a.is_correct THEN 1 ELSE 0 END)
		FROM answers a
		JOIN participants p ON p.id = a.participant_id
		WHERE p.exam_id=$1 AND p.submitted_at IS NOT NULL
		GROUP BY a.question_id
		ORDER BY a.question_id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QuestionPerf
	for rows.Next() {
		var qp QuestionPerf
		var correct sql.NullInt64
		if err := rows.Scan(&qp.QuestionID, &qp.Attempts, &correct); err != nil {
			return nil, err
		}
		qp.Correct = int(correct.Int64)
		out = append(out, qp)
	}
	return out, rows.Err()
}

// --- helpers ---

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const questionCols = `id,exam_id,text,type,options_json,correct_answer,suggested_answer,points,difficulty`

const participantCols = `id,exam_id,name,email,reg_code,card_pin,session_pin,started_at,submitted_at,score,passed,answered,correct,suspicious`

func (s *SQLStore) queryQuestions(ctx context.Context, q querier, examID string) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+questionCols+` FROM questions WHERE exam_id=$1 ORDER BY id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		qn, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, qn)
	}
	return out, rows.Err()
}

func queryAnswers(ctx context.Context, q querier, participantID string) ([]Answer, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,participant_id,question_id,text,is_correct,points_earned,time_seconds FROM answers WHERE participant_id=$1 ORDER BY question_id`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		var a Answer
		var correct sql.NullBool
		var earned sql.NullInt64
		if err := rows.Scan(&a.ID, &a.ParticipantID, &a.QuestionID, &a.Text, &correct, &earned, &a.TimeSeconds); err != nil {
			return nil, err
		}
		if correct.Valid {
			a.Correct = &correct.Bool
		}
		if earned.Valid {
			v := int(earned.Int64)
			a.PointsEarned = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(row rowScanner) (Exam, error) {
	var e Exam
	var createdAt int64
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &e.DurationMinutes, &e.PassPercentage, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, ErrNotFound
		}
		return Exam{}, err
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, nil
}

func scanQuestion(row rowScanner) (Question, error) {
	var q Question
	var typ, options string
	var correct, suggested sql.NullString
	var difficulty sql.NullFloat64
	if err := row.Scan(&q.ID, &q.ExamID, &q.Text, &typ, &options, &correct, &suggested, &q.Points, &difficulty); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Question{}, ErrNotFound
		}
		return Question{}, err
	}
	q.Type = QuestionType(typ)
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return Question{}, err
	}
	if correct.Valid {
		q.CorrectAnswer = &correct.String
	}
	if suggested.Valid {
		q.SuggestedAnswer = &suggested.String
	}
	if difficulty.Valid {
		q.Difficulty = &difficulty.Float64
	}
	return q, nil
}

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	var started, submitted sql.NullInt64
	var score sql.NullFloat64
	var passed sql.NullBool
	var answered, correct sql.NullInt64
	err := row.Scan(&p.ID, &p.ExamID, &p.Name, &p.Email, &p.RegCode, &p.CardPIN, &p.SessionPIN,
		&started, &submitted, &score, &passed, &answered, &correct, &p.Suspicious)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Participant{}, ErrNotFound
		}
		return Participant{}, err
	}
	p.StartedAt = unixPtr(started)
	p.SubmittedAt = unixPtr(submitted)
	if score.Valid {
		p.Score = &score.Float64
	}
	if passed.Valid {
		p.Passed = &passed.Bool
	}
	if answered.Valid {
		v := int(answered.Int64)
		p.Answered = &v
	}
	if correct.Valid {
		v := int(correct.Int64)
		p.Correct = &v
	}
	return p, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func (s *SQLStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func existsTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// isUniqueViolation sniffs driver error text for a uniqueness-constraint
// failure; both sqlite and postgres name the constraint or columns, which is
// enough to classify retries without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
