package services

import (
	"encoding/json"
	"strings"

	"github.com/open-exam/exam-engine/internal/answerkey"
	"github.com/open-exam/exam-engine/internal/models"
)

// scoreAnswer grades one stored answer against its manifest snapshot and
// returns the points earned. Essay answers report pending instead of a score.
func scoreAnswer(q *models.InstanceQuestion, raw json.RawMessage) (score float64, isCorrect *bool, pending bool, err error) {
	switch q.Type {
	case models.MultipleChoice:
		score, isCorrect, err = scoreMC(q, raw)
	case models.ComplexChoice:
		score, isCorrect, err = scoreComplexMC(q, raw)
	case models.Matching:
		score, isCorrect, err = scoreMatching(q, raw)
	case models.ShortAnswer:
		score, isCorrect, err = scoreShort(q, raw)
	case models.TrueFalse:
		score, isCorrect, err = scoreTrueFalse(q, raw)
	case models.Essay:
		pending = true
	default:
		// Unknown types never reach storage; score as zero if one does
		isCorrect = boolPtr(false)
	}
	return score, isCorrect, pending, err
}

func scoreMC(q *models.InstanceQuestion, raw json.RawMessage) (float64, *bool, error) {
	key, err := answerkey.DecodeMCKey(q.QuestionID, q.AnswerKey)
	if err != nil {
		return 0, nil, err
	}
	answer, err := answerkey.DecodeMCAnswer(q.QuestionID, raw)
	if err != nil {
		return 0, nil, err
	}

	if answer.Option == key.Option {
		return q.Points, boolPtr(true), nil
	}
	return 0, boolPtr(false), nil
}

// scoreComplexMC applies partial credit when the question allows it:
// max_points * max(0, hits - misses) / correct_count, clamped to max_points.
// isCorrect stays strict either way: the selected set must equal the key.
func scoreComplexMC(q *models.InstanceQuestion, raw json.RawMessage) (float64, *bool, error) {
	var content models.ChoiceContent
	if err := json.Unmarshal(q.Content, &content); err != nil {
		return 0, nil, err
	}

	key, err := answerkey.DecodeComplexMCKey(q.QuestionID, q.AnswerKey, content.PartialCredit)
	if err != nil {
		return 0, nil, err
	}
	answer, err := answerkey.DecodeComplexMCAnswer(q.QuestionID, raw)
	if err != nil {
		return 0, nil, err
	}

	hits, misses := 0, 0
	for label := range answer.Options {
		if key.Options[label] {
			hits++
		} else {
			misses++
		}
	}
	exact := misses == 0 && hits == len(key.Options)

	if !key.PartialCredit {
		if exact {
			return q.Points, boolPtr(true), nil
		}
		return 0, boolPtr(false), nil
	}

	net := hits - misses
	if net < 0 {
		net = 0
	}
	score := q.Points * float64(net) / float64(len(key.Options))
	if score > q.Points {
		score = q.Points
	}
	return score, boolPtr(exact), nil
}

// scoreMatching awards each left item an equal share of the points when its
// chosen right item is in the acceptable set.
func scoreMatching(q *models.InstanceQuestion, raw json.RawMessage) (float64, *bool, error) {
	var content models.MatchingContent
	if err := json.Unmarshal(q.Content, &content); err != nil {
		return 0, nil, err
	}

	key, err := answerkey.DecodeMatchingKey(q.QuestionID, q.AnswerKey, content)
	if err != nil {
		return 0, nil, err
	}
	answer, err := answerkey.DecodeMatchingAnswer(q.QuestionID, raw)
	if err != nil {
		return 0, nil, err
	}

	perItem := q.Points / float64(len(key.Pairs))
	correct := 0
	for leftID, acceptable := range key.Pairs {
		if chosen, ok := answer.Pairs[leftID]; ok && acceptable[chosen] {
			correct++
		}
	}

	score := perItem * float64(correct)
	return score, boolPtr(correct == len(key.Pairs)), nil
}

// scoreShort compares after trimming whitespace; matching is
// case-insensitive unless the question opts out.
func scoreShort(q *models.InstanceQuestion, raw json.RawMessage) (float64, *bool, error) {
	var content struct {
		CaseSensitive bool `json:"case_sensitive"`
	}
	if len(q.Content) > 0 {
		if err := json.Unmarshal(q.Content, &content); err != nil {
			return 0, nil, err
		}
	}

	key, err := answerkey.DecodeShortKey(q.QuestionID, q.AnswerKey, content.CaseSensitive)
	if err != nil {
		return 0, nil, err
	}
	answer, err := answerkey.DecodeShortAnswer(q.QuestionID, raw)
	if err != nil {
		return 0, nil, err
	}

	given := strings.TrimSpace(answer.Text)
	for _, accepted := range key.Accepted {
		expected := strings.TrimSpace(accepted)
		matched := false
		if key.CaseSensitive {
			matched = given == expected
		} else {
			matched = strings.EqualFold(given, expected)
		}
		if matched {
			return q.Points, boolPtr(true), nil
		}
	}
	return 0, boolPtr(false), nil
}

func scoreTrueFalse(q *models.InstanceQuestion, raw json.RawMessage) (float64, *bool, error) {
	key, err := answerkey.DecodeTrueFalseKey(q.QuestionID, q.AnswerKey)
	if err != nil {
		return 0, nil, err
	}
	answer, err := answerkey.DecodeTrueFalseAnswer(q.QuestionID, raw)
	if err != nil {
		return 0, nil, err
	}

	if answer.Value == key.Value {
		return q.Points, boolPtr(true), nil
	}
	return 0, boolPtr(false), nil
}

func boolPtr(b bool) *bool {
	return &b
}
