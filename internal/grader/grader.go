// Package grader scores student answers. Multiple-choice scoring is built
// in; free-text answers go through a pluggable FreeTextGrader.
package grader

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/model"
)

// Result is the outcome of grading a single answer.
type Result struct {
	Score    float64
	MaxScore float64
	Feedback string
}

// FreeTextGrader scores short-answer and essay responses against the
// question's expected answer.
type FreeTextGrader interface {
	Grade(ctx context.Context, q *model.Question, answerText string) (Result, error)
}

// Engine dispatches answers to the right grading strategy.
type Engine struct {
	freeText FreeTextGrader
	log      zerolog.Logger
}

// NewEngine creates a grading engine with the given free-text strategy.
func NewEngine(freeText FreeTextGrader, log zerolog.Logger) *Engine {
	return &Engine{
		freeText: freeText,
		log:      log.With().Str("component", "grader").Logger(),
	}
}

// GradeAnswer grades one answer. Free-text grader failures are folded into
// a zero-score result with diagnostic feedback so that one bad answer never
// sinks the whole submission.
func (e *Engine) GradeAnswer(ctx context.Context, q *model.Question, answerText string) Result {
	maxScore := float64(q.Points)

	if strings.TrimSpace(answerText) == "" {
		return Result{Score: 0, MaxScore: maxScore, Feedback: "No answer provided."}
	}

	if q.QuestionType == model.QuestionTypeMultipleChoice {
		return GradeMultipleChoice(q, answerText)
	}

	res, err := e.freeText.Grade(ctx, q, answerText)
	if err != nil {
		e.log.Warn().Err(err).
			Str("question_id", q.ID.String()).
			Msg("free-text grading failed")
		return Result{Score: 0, MaxScore: maxScore, Feedback: "Grading error: " + err.Error()}
	}
	res.MaxScore = maxScore
	return res
}

// round2 rounds to two decimal places, the precision scores are stored at.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
