// Package answerkey collapses every stored or submitted encoding of an
// answer key or student answer into one canonical in-memory shape per
// question type. No other package interprets raw answer JSON.
package answerkey

import (
	"fmt"
	"sort"

	"github.com/open-exam/exam-engine/internal/models"
)

// MCKey is the canonical key for a single-choice question: one option label.
type MCKey struct {
	Option string
}

// ComplexMCKey is the canonical key for a multi-select question.
type ComplexMCKey struct {
	Options       map[string]bool // set of option labels
	PartialCredit bool
}

// SortedOptions returns the correct labels in stable order.
func (k ComplexMCKey) SortedOptions() []string {
	labels := make([]string, 0, len(k.Options))
	for label := range k.Options {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// MatchingKey maps each left item id to the set of acceptable right item
// ids. One-to-many pairings are allowed.
type MatchingKey struct {
	Pairs map[string]map[string]bool
}

// ShortKey is the canonical key for a short-answer question.
type ShortKey struct {
	Accepted      []string
	CaseSensitive bool
}

// RubricCriterion is one scored dimension of an essay rubric.
type RubricCriterion struct {
	Criterion string  `json:"criterion"`
	MaxPoints float64 `json:"max_points"`
}

// EssayKey carries the manual-grading rubric; there is no single correct
// string for an essay.
type EssayKey struct {
	Rubric     []RubricCriterion
	Guidelines string
	Keywords   []string
}

// RubricTotal sums the rubric's max points.
func (k EssayKey) RubricTotal() float64 {
	var total float64
	for _, c := range k.Rubric {
		total += c.MaxPoints
	}
	return total
}

// TrueFalseKey is the canonical key for a true/false question.
type TrueFalseKey struct {
	Value bool
}

// ===== CANONICAL STUDENT ANSWERS =====

// MCAnswer is a single selected option label.
type MCAnswer struct {
	Option string
}

// ComplexMCAnswer is the set of selected option labels.
type ComplexMCAnswer struct {
	Options map[string]bool
}

func (a ComplexMCAnswer) SortedOptions() []string {
	labels := make([]string, 0, len(a.Options))
	for label := range a.Options {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// MatchingAnswer maps left item id to the chosen right item id.
type MatchingAnswer struct {
	Pairs map[string]string
}

// ShortAnswer is the participant's free-text response, untrimmed.
type ShortAnswer struct {
	Text string
}

// EssayAnswer is the participant's essay text.
type EssayAnswer struct {
	Text string
}

// TrueFalseAnswer is the participant's boolean choice.
type TrueFalseAnswer struct {
	Value bool
}

// MalformedAnswerError reports an answer or key shape that matches no known
// encoding. It is never silently coerced to a default.
type MalformedAnswerError struct {
	QuestionID uint
	Type       models.QuestionType
	Reason     string
}

func (e *MalformedAnswerError) Error() string {
	return fmt.Sprintf("malformed answer for question %d (type %s): %s", e.QuestionID, e.Type, e.Reason)
}

func newMalformed(questionID uint, qType models.QuestionType, reason string) error {
	return &MalformedAnswerError{QuestionID: questionID, Type: qType, Reason: reason}
}

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// indexToLabel maps a historical numeric option index to its display label.
func indexToLabel(index int) (string, bool) {
	if index < 0 || index >= len(alphabet) {
		return "", false
	}
	return string(alphabet[index]), true
}
