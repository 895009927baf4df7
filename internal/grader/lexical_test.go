package grader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadexa/assessment-backend/internal/model"
)

func lexicalQuestion(expected string, points int) *model.Question {
	return &model.Question{
		QuestionText:   "Explain the concept",
		QuestionType:   model.QuestionTypeShortAnswer,
		ExpectedAnswer: expected,
		Points:         points,
	}
}

func defaultLexical() *Lexical {
	return NewLexical(0.4, 0.6, 0.3)
}

func TestLexicalGradeIdenticalAnswer(t *testing.T) {
	q := lexicalQuestion("photosynthesis converts light energy into chemical energy", 10)

	res, err := defaultLexical().Grade(context.Background(), q, "photosynthesis converts light energy into chemical energy")
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Score)
	assert.Equal(t, 10.0, res.MaxScore)
	assert.Equal(t, "Excellent answer with strong keyword coverage and high similarity.", res.Feedback)
}

func TestLexicalGradeUnrelatedAnswer(t *testing.T) {
	q := lexicalQuestion("photosynthesis converts light energy into chemical energy", 10)

	res, err := defaultLexical().Grade(context.Background(), q, "xyz")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, "Answer does not meet the expected criteria.", res.Feedback)
}

func TestLexicalGradePartialAnswer(t *testing.T) {
	q := lexicalQuestion("photosynthesis converts light energy into chemical energy inside chloroplasts", 10)

	res, err := defaultLexical().Grade(context.Background(), q, "photosynthesis uses light energy")
	require.NoError(t, err)
	assert.Greater(t, res.Score, 0.0)
	assert.Less(t, res.Score, 10.0)
	assert.NotEmpty(t, res.Feedback)
}

func TestLexicalGradeBelowThresholdCollapsesToZero(t *testing.T) {
	// One shared low-weight word keeps the blend under the 0.3 threshold.
	q := lexicalQuestion("gravity pulls objects toward massive bodies proportionally", 10)

	res, err := defaultLexical().Grade(context.Background(), q, "something about objects maybe")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
}

func TestKeywordOverlap(t *testing.T) {
	assert.Equal(t, 1.0, keywordOverlap("mitochondria produce energy", "mitochondria energy"))
	assert.Equal(t, 0.5, keywordOverlap("mitochondria are organelles", "mitochondria energy"))
	assert.Equal(t, 0.0, keywordOverlap("completely unrelated words", "mitochondria energy"))

	// Stop words and short words never count as keywords.
	assert.Equal(t, 0.0, keywordOverlap("the of to in", "the of to in"))
}

func TestExtractKeywords(t *testing.T) {
	kw := extractKeywords("The cat, and a dog ran to it!")
	assert.Contains(t, kw, "cat")
	assert.Contains(t, kw, "dog")
	assert.Contains(t, kw, "ran")
	assert.NotContains(t, kw, "the")
	assert.NotContains(t, kw, "and")
	assert.NotContains(t, kw, "it")
}

func TestTfidfCosine(t *testing.T) {
	assert.InDelta(t, 1.0, tfidfCosine("alpha beta gamma", "alpha beta gamma"), 1e-9)
	assert.Equal(t, 0.0, tfidfCosine("alpha beta", "delta epsilon"))
	assert.Equal(t, 0.0, tfidfCosine("", "alpha"))

	partial := tfidfCosine("alpha beta gamma", "alpha delta epsilon")
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}
