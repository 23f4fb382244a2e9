// Package quiz grades quizzes and generates them from document pages.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docintel/internal/engine"
)

// ErrLengthMismatch is returned when questions, canonical answers, and
// student answers differ in length. Nothing is graded in that case.
var ErrLengthMismatch = errors.New("questions and answers differ in length")

// Question is open-ended when Options is empty and multiple-choice otherwise.
// For multiple-choice questions Answer is one of Options.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer"`
}

// MultipleChoice reports whether q offers options.
func (q Question) MultipleChoice() bool { return len(q.Options) > 0 }

// Quiz is an ordered list of questions over a page range of one document.
type Quiz struct {
	DocumentID string     `json:"document_id"`
	StartPage  int        `json:"start_page"`
	EndPage    int        `json:"end_page"`
	Questions  []Question `json:"questions"`
}

// Feedback explains one incorrect answer. Index points into the quiz's
// questions.
type Feedback struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Graded is the result of grading. Correct has one entry per question and is
// authoritative. Feedback covers at most the incorrect questions and may be
// shorter or empty.
type Graded struct {
	Correct  []bool     `json:"correct"`
	Score    int        `json:"score"`
	Total    int        `json:"total"`
	Feedback []Feedback `json:"feedback"`
}

// Grade compares each student answer with its canonical answer by exact,
// case-sensitive match.
func Grade(questions, correctAnswers, studentAnswers []string) (Graded, error) {
	if len(questions) != len(correctAnswers) || len(questions) != len(studentAnswers) {
		return Graded{}, fmt.Errorf("%w: %d questions, %d answers, %d responses",
			ErrLengthMismatch, len(questions), len(correctAnswers), len(studentAnswers))
	}
	g := Graded{Correct: make([]bool, len(questions)), Total: len(questions), Feedback: []Feedback{}}
	for i := range questions {
		if studentAnswers[i] == correctAnswers[i] {
			g.Correct[i] = true
			g.Score++
		}
	}
	return g, nil
}

// GradeQuiz grades answers against q's questions.
func GradeQuiz(q Quiz, answers []string) (Graded, error) {
	questions := make([]string, len(q.Questions))
	correct := make([]string, len(q.Questions))
	for i, qq := range q.Questions {
		questions[i], correct[i] = qq.Question, qq.Answer
	}
	return Grade(questions, correct, answers)
}

const feedbackPrompt = `A student answered a quiz question incorrectly.

Question: %s
Correct answer: %s
Student answer: %s

In one or two sentences, explain why the correct answer is right.`

// Grader grades quizzes and asks a generator for feedback on the incorrect
// answers.
type Grader struct {
	gen    engine.Generator
	logger *slog.Logger
}

// NewGrader returns a Grader. With a nil gen no feedback is produced.
func NewGrader(gen engine.Generator, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{gen: gen, logger: logger}
}

// Grade grades answers and attaches feedback for incorrect ones. Feedback
// failures are logged and leave that entry out; they never fail the grade.
func (g *Grader) Grade(ctx context.Context, q Quiz, answers []string) (Graded, error) {
	res, err := GradeQuiz(q, answers)
	if err != nil || g.gen == nil {
		return res, err
	}

	var (
		mu       sync.Mutex
		feedback = make(map[int]string)
		eg       errgroup.Group
	)
	eg.SetLimit(4)
	for i, ok := range res.Correct {
		if ok {
			continue
		}
		eg.Go(func() error {
			qq := q.Questions[i]
			text, err := g.gen.Generate(ctx, fmt.Sprintf(feedbackPrompt, qq.Question, qq.Answer, answers[i]))
			if err != nil || text == "" {
				g.logger.Warn("quiz feedback unavailable", "question", i, "error", err)
				return nil
			}
			mu.Lock()
			feedback[i] = text
			mu.Unlock()
			return nil
		})
	}
	eg.Wait()

	for i := range res.Correct {
		if text, ok := feedback[i]; ok {
			res.Feedback = append(res.Feedback, Feedback{Index: i, Text: text})
		}
	}
	return res, nil
}
