package grader

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/acadexa/assessment-backend/internal/model"
)

// Lexical grades free-text answers without an external model. The score is a
// weighted blend of keyword overlap and TF-IDF cosine similarity against the
// expected answer; blends below the threshold collapse to zero.
type Lexical struct {
	KeywordWeight       float64
	SimilarityWeight    float64
	SimilarityThreshold float64
}

// NewLexical creates a lexical grader with the given weights and threshold.
func NewLexical(keywordWeight, similarityWeight, similarityThreshold float64) *Lexical {
	return &Lexical{
		KeywordWeight:       keywordWeight,
		SimilarityWeight:    similarityWeight,
		SimilarityThreshold: similarityThreshold,
	}
}

// Grade scores the answer against the question's expected answer.
func (l *Lexical) Grade(_ context.Context, q *model.Question, answerText string) (Result, error) {
	maxScore := float64(q.Points)

	keywordScore := keywordOverlap(answerText, q.ExpectedAnswer)
	similarity := tfidfCosine(answerText, q.ExpectedAnswer)

	combined := l.KeywordWeight*keywordScore + l.SimilarityWeight*similarity
	if combined < l.SimilarityThreshold {
		combined = 0
	}

	return Result{
		Score:    round2(combined * maxScore),
		MaxScore: maxScore,
		Feedback: lexicalFeedback(combined),
	}, nil
}

func lexicalFeedback(combined float64) string {
	switch {
	case combined >= 0.8:
		return "Excellent answer with strong keyword coverage and high similarity."
	case combined >= 0.6:
		return "Good answer with adequate keyword coverage."
	case combined >= 0.4:
		return "Fair answer with some relevant keywords."
	case combined >= 0.2:
		return "Weak answer with minimal keyword coverage."
	default:
		return "Answer does not meet the expected criteria."
	}
}

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	tokenRe      = regexp.MustCompile(`\b\w\w+\b`)
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {},
}

func normalizeText(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = nonWordRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return text
}

// extractKeywords returns the content words of the text: longer than two
// characters and not a stop word.
func extractKeywords(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, word := range strings.Fields(normalizeText(text)) {
		if len(word) <= 2 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		keywords[word] = struct{}{}
	}
	return keywords
}

// keywordOverlap is the fraction of expected keywords present in the answer.
func keywordOverlap(answerText, expectedAnswer string) float64 {
	answerKeywords := extractKeywords(answerText)
	expectedKeywords := extractKeywords(expectedAnswer)

	if len(expectedKeywords) == 0 {
		return 0
	}

	matched := 0
	for w := range expectedKeywords {
		if _, ok := answerKeywords[w]; ok {
			matched++
		}
	}

	score := float64(matched) / float64(len(expectedKeywords))
	return math.Min(score, 1.0)
}

// tfidfCosine computes cosine similarity between the TF-IDF vectors of the
// two texts, with smoothed IDF over the two-document corpus and L2-normalized
// vectors.
func tfidfCosine(a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}

	countsA := termCounts(a)
	countsB := termCounts(b)
	if len(countsA) == 0 || len(countsB) == 0 {
		return 0
	}

	// Smoothed IDF: ln((1+N)/(1+df)) + 1 with N = 2 documents.
	idf := func(term string) float64 {
		df := 0
		if countsA[term] > 0 {
			df++
		}
		if countsB[term] > 0 {
			df++
		}
		return math.Log(3.0/float64(1+df)) + 1
	}

	vecA := make(map[string]float64, len(countsA))
	vecB := make(map[string]float64, len(countsB))
	for term, n := range countsA {
		vecA[term] = float64(n) * idf(term)
	}
	for term, n := range countsB {
		vecB[term] = float64(n) * idf(term)
	}
	l2Normalize(vecA)
	l2Normalize(vecB)

	var dot float64
	for term, wa := range vecA {
		dot += wa * vecB[term]
	}
	return dot
}

func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		counts[tok]++
	}
	return counts
}

func l2Normalize(vec map[string]float64) {
	var sum float64
	for _, w := range vec {
		sum += w * w
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for term, w := range vec {
		vec[term] = w / norm
	}
}
