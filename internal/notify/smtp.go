// Package notify delivers outbound mail. Delivery is best-effort by
// contract: the exam service logs failures and never propagates them.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/examgate/examgate/internal/exam"
)

// SMTPMailer implements exam.Notifier over plain SMTP with STARTTLS
// PlainAuth, the way most transactional relays expect.
type SMTPMailer struct {
	host       string
	port       string
	from       string
	password   string
	adminEmail string
}

func NewSMTPMailer(host, port, from, password, adminEmail string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, from: from, password: password, adminEmail: adminEmail}
}

func (m *SMTPMailer) ExamCreated(_ context.Context, e exam.Exam) error {
	if m.adminEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("New Exam Created: %s", e.Name)
	body := fmt.Sprintf(
		"A new exam %q has been created.\nExam Code: %s\nDuration: %d minutes\nPass Percentage: %.0f%%\n",
		e.Name, e.Code, e.DurationMinutes, e.PassPercentage)
	return m.send([]string{m.adminEmail}, subject, body)
}

func (m *SMTPMailer) ResultsReady(_ context.Context, p exam.Participant, e exam.Exam, possible int) error {
	verdict := "FAILED"
	if p.Passed != nil && *p.Passed {
		verdict = "PASSED"
	}
	score := 0.0
	if p.Score != nil {
		score = *p.Score
	}
	correct, answered := 0, 0
	if p.Correct != nil {
		correct = *p.Correct
	}
	if p.Answered != nil {
		answered = *p.Answered
	}
	subject := fmt.Sprintf("Exam Results for %s", e.Name)
	body := fmt.Sprintf(
		"Dear %s,\n\nYour exam %q has been submitted and graded.\nYour Registration Code: %s\nYour Score: %.0f out of %d\nCorrect Answers: %d / %d\nResult: %s\n\nThank you for participating!\n",
		p.Name, e.Name, p.RegCode, score, possible, correct, answered, verdict)
	return m.send([]string{p.Email}, subject, body)
}

func (m *SMTPMailer) send(to []string, subject, body string) error {
	if m.host == "" || m.from == "" {
		return fmt.Errorf("smtp not configured")
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.from, strings.Join(to, ","), subject, body)
	auth := smtp.PlainAuth("", m.from, m.password, m.host)
	return smtp.SendMail(m.host+":"+m.port, auth, m.from, to, []byte(msg))
}

// Nop discards every notification; wired when mail is not configured.
type Nop struct{}

func (Nop) ExamCreated(context.Context, exam.Exam) error { return nil }
func (Nop) ResultsReady(context.Context, exam.Participant, exam.Exam, int) error {
	return nil
}
