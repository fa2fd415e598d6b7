package answerkey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/open-exam/exam-engine/internal/models"
)

// decodeValue unmarshals raw JSON preserving number fidelity.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// labelFromValue converts an option reference (label string, numeric index
// or numeric string) to its display label.
func labelFromValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return "", false
		}
		if index, err := strconv.Atoi(trimmed); err == nil {
			return indexToLabel(index)
		}
		return strings.ToUpper(trimmed), true
	case json.Number:
		index, err := strconv.Atoi(v.String())
		if err != nil {
			return "", false
		}
		return indexToLabel(index)
	case float64:
		return indexToLabel(int(v))
	case int:
		return indexToLabel(v)
	}
	return "", false
}

// ===== ANSWER KEYS =====

// DecodeMCKey accepts a label string, a numeric index, or a numeric string.
func DecodeMCKey(questionID uint, raw json.RawMessage) (MCKey, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return MCKey{}, newMalformed(questionID, models.MultipleChoice, "invalid JSON")
	}
	label, ok := labelFromValue(value)
	if !ok {
		return MCKey{}, newMalformed(questionID, models.MultipleChoice, fmt.Sprintf("unrecognized key shape %T", value))
	}
	return MCKey{Option: label}, nil
}

// DecodeComplexMCKey accepts {"correctOptions":[...]}, {"correctIndices":[...]}
// or a bare array of labels/indices. Numeric entries map through the
// alphabet to display labels.
func DecodeComplexMCKey(questionID uint, raw json.RawMessage, partialCredit bool) (ComplexMCKey, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return ComplexMCKey{}, newMalformed(questionID, models.ComplexChoice, "invalid JSON")
	}

	var entries []interface{}
	switch v := value.(type) {
	case []interface{}:
		entries = v
	case map[string]interface{}:
		for _, field := range []string{"correctOptions", "correct_options", "correctIndices", "correct_indices"} {
			if list, ok := v[field].([]interface{}); ok {
				entries = list
				break
			}
		}
		if entries == nil {
			return ComplexMCKey{}, newMalformed(questionID, models.ComplexChoice, "object key missing correctOptions/correctIndices")
		}
	default:
		return ComplexMCKey{}, newMalformed(questionID, models.ComplexChoice, fmt.Sprintf("unrecognized key shape %T", value))
	}

	options := make(map[string]bool, len(entries))
	for _, entry := range entries {
		label, ok := labelFromValue(entry)
		if !ok {
			return ComplexMCKey{}, newMalformed(questionID, models.ComplexChoice, fmt.Sprintf("unrecognized option reference %v", entry))
		}
		options[label] = true
	}
	if len(options) == 0 {
		return ComplexMCKey{}, newMalformed(questionID, models.ComplexChoice, "empty correct option set")
	}

	return ComplexMCKey{Options: options, PartialCredit: partialCredit}, nil
}

// DecodeMatchingKey accepts the id-based {"matches":[{"leftId","rightId"}]}
// shape and the index-based {"pairs":{leftIndex: rightIndex|[...]}} shape.
// Index-based entries resolve to ids through the question's item lists once,
// at this boundary.
func DecodeMatchingKey(questionID uint, raw json.RawMessage, content models.MatchingContent) (MatchingKey, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return MatchingKey{}, newMalformed(questionID, models.Matching, "invalid JSON")
	}

	object, ok := value.(map[string]interface{})
	if !ok {
		return MatchingKey{}, newMalformed(questionID, models.Matching, fmt.Sprintf("unrecognized key shape %T", value))
	}

	pairs := make(map[string]map[string]bool)
	addPair := func(leftID, rightID string) {
		if pairs[leftID] == nil {
			pairs[leftID] = make(map[string]bool)
		}
		pairs[leftID][rightID] = true
	}

	if matches, ok := object["matches"].([]interface{}); ok {
		for _, entry := range matches {
			pair, ok := entry.(map[string]interface{})
			if !ok {
				return MatchingKey{}, newMalformed(questionID, models.Matching, "matches entry is not an object")
			}
			leftID, lok := pairString(pair, "leftId", "left_id", "left")
			rightID, rok := pairString(pair, "rightId", "right_id", "right")
			if !lok || !rok {
				return MatchingKey{}, newMalformed(questionID, models.Matching, "matches entry missing left/right id")
			}
			addPair(leftID, rightID)
		}
		if len(pairs) == 0 {
			return MatchingKey{}, newMalformed(questionID, models.Matching, "empty matches list")
		}
		return MatchingKey{Pairs: pairs}, nil
	}

	if indexPairs, ok := object["pairs"].(map[string]interface{}); ok {
		for leftRef, rightRef := range indexPairs {
			leftID, ok := resolveItemRef(leftRef, content.LeftItems)
			if !ok {
				return MatchingKey{}, newMalformed(questionID, models.Matching, fmt.Sprintf("left index %q out of range", leftRef))
			}
			rightRefs, ok := rightRef.([]interface{})
			if !ok {
				rightRefs = []interface{}{rightRef}
			}
			for _, ref := range rightRefs {
				rightID, ok := resolveItemValue(ref, content.RightItems)
				if !ok {
					return MatchingKey{}, newMalformed(questionID, models.Matching, fmt.Sprintf("right index %v out of range", ref))
				}
				addPair(leftID, rightID)
			}
		}
		if len(pairs) == 0 {
			return MatchingKey{}, newMalformed(questionID, models.Matching, "empty pairs map")
		}
		return MatchingKey{Pairs: pairs}, nil
	}

	return MatchingKey{}, newMalformed(questionID, models.Matching, "object key missing matches/pairs")
}

// DecodeShortKey accepts a bare string, an array of accepted strings, or an
// object carrying the accepted list and case flag.
func DecodeShortKey(questionID uint, raw json.RawMessage, caseSensitive bool) (ShortKey, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return ShortKey{}, newMalformed(questionID, models.ShortAnswer, "invalid JSON")
	}

	key := ShortKey{CaseSensitive: caseSensitive}
	switch v := value.(type) {
	case string:
		key.Accepted = []string{v}
	case []interface{}:
		accepted, ok := stringSlice(v)
		if !ok {
			return ShortKey{}, newMalformed(questionID, models.ShortAnswer, "accepted list holds a non-string entry")
		}
		key.Accepted = accepted
	case map[string]interface{}:
		var list []interface{}
		for _, field := range []string{"accepted", "acceptedAnswers", "accepted_answers", "answers"} {
			if entries, ok := v[field].([]interface{}); ok {
				list = entries
				break
			}
		}
		if list == nil {
			return ShortKey{}, newMalformed(questionID, models.ShortAnswer, "object key missing accepted answers")
		}
		accepted, ok := stringSlice(list)
		if !ok {
			return ShortKey{}, newMalformed(questionID, models.ShortAnswer, "accepted list holds a non-string entry")
		}
		key.Accepted = accepted
		for _, field := range []string{"caseSensitive", "case_sensitive"} {
			if flag, ok := v[field].(bool); ok {
				key.CaseSensitive = flag
			}
		}
	default:
		return ShortKey{}, newMalformed(questionID, models.ShortAnswer, fmt.Sprintf("unrecognized key shape %T", value))
	}

	if len(key.Accepted) == 0 {
		return ShortKey{}, newMalformed(questionID, models.ShortAnswer, "empty accepted answer set")
	}
	return key, nil
}

type essayKeyJSON struct {
	Rubric     []rubricCriterionJSON `json:"rubric"`
	Criteria   []rubricCriterionJSON `json:"criteria"`
	Guidelines string                `json:"guidelines"`
	Keywords   []string              `json:"keywords"`
}

type rubricCriterionJSON struct {
	Criterion string   `json:"criterion"`
	Name      string   `json:"name"`
	MaxPoints *float64 `json:"max_points"`
	MaxAlt    *float64 `json:"maxPoints"`
	Points    *float64 `json:"points"`
}

// DecodeEssayKey accepts the rubric under either "rubric" or "criteria",
// with per-criterion points under max_points/maxPoints/points.
func DecodeEssayKey(questionID uint, raw json.RawMessage) (EssayKey, error) {
	if len(raw) == 0 || string(raw) == "null" {
		// Essays may carry no rubric at all; manual grading is still possible.
		return EssayKey{}, nil
	}

	var decoded essayKeyJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return EssayKey{}, newMalformed(questionID, models.Essay, "invalid JSON")
	}

	entries := decoded.Rubric
	if len(entries) == 0 {
		entries = decoded.Criteria
	}

	key := EssayKey{Guidelines: decoded.Guidelines, Keywords: decoded.Keywords}
	for _, entry := range entries {
		criterion := entry.Criterion
		if criterion == "" {
			criterion = entry.Name
		}
		points := 0.0
		switch {
		case entry.MaxPoints != nil:
			points = *entry.MaxPoints
		case entry.MaxAlt != nil:
			points = *entry.MaxAlt
		case entry.Points != nil:
			points = *entry.Points
		}
		if criterion == "" {
			return EssayKey{}, newMalformed(questionID, models.Essay, "rubric criterion missing name")
		}
		key.Rubric = append(key.Rubric, RubricCriterion{Criterion: criterion, MaxPoints: points})
	}
	return key, nil
}

// DecodeTrueFalseKey accepts a boolean, the legacy numeric encoding
// (0=true, 1=false, an index into [True, False]) or a "true"/"false" string.
func DecodeTrueFalseKey(questionID uint, raw json.RawMessage) (TrueFalseKey, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return TrueFalseKey{}, newMalformed(questionID, models.TrueFalse, "invalid JSON")
	}
	result, ok := boolFromValue(value)
	if !ok {
		return TrueFalseKey{}, newMalformed(questionID, models.TrueFalse, fmt.Sprintf("unrecognized key shape %v", value))
	}
	return TrueFalseKey{Value: result}, nil
}

// ===== STUDENT ANSWERS =====

// DecodeMCAnswer accepts a label string or a single-element array.
func DecodeMCAnswer(questionID uint, raw json.RawMessage) (MCAnswer, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return MCAnswer{}, newMalformed(questionID, models.MultipleChoice, "invalid JSON")
	}
	if list, ok := value.([]interface{}); ok && len(list) == 1 {
		value = list[0]
	}
	label, ok := labelFromValue(value)
	if !ok {
		return MCAnswer{}, newMalformed(questionID, models.MultipleChoice, fmt.Sprintf("unrecognized answer shape %T", value))
	}
	return MCAnswer{Option: label}, nil
}

// DecodeComplexMCAnswer accepts an array of labels/indices or a single label.
func DecodeComplexMCAnswer(questionID uint, raw json.RawMessage) (ComplexMCAnswer, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return ComplexMCAnswer{}, newMalformed(questionID, models.ComplexChoice, "invalid JSON")
	}

	entries, ok := value.([]interface{})
	if !ok {
		entries = []interface{}{value}
	}

	options := make(map[string]bool, len(entries))
	for _, entry := range entries {
		label, lok := labelFromValue(entry)
		if !lok {
			return ComplexMCAnswer{}, newMalformed(questionID, models.ComplexChoice, fmt.Sprintf("unrecognized option reference %v", entry))
		}
		options[label] = true
	}
	return ComplexMCAnswer{Options: options}, nil
}

// DecodeMatchingAnswer accepts an array of {left,right}/{leftId,rightId}
// pairs or a plain object map of left id to right id.
func DecodeMatchingAnswer(questionID uint, raw json.RawMessage) (MatchingAnswer, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return MatchingAnswer{}, newMalformed(questionID, models.Matching, "invalid JSON")
	}

	pairs := make(map[string]string)
	switch v := value.(type) {
	case []interface{}:
		for _, entry := range v {
			pair, ok := entry.(map[string]interface{})
			if !ok {
				return MatchingAnswer{}, newMalformed(questionID, models.Matching, "pair entry is not an object")
			}
			leftID, lok := pairString(pair, "leftId", "left_id", "left")
			rightID, rok := pairString(pair, "rightId", "right_id", "right")
			if !lok || !rok {
				return MatchingAnswer{}, newMalformed(questionID, models.Matching, "pair entry missing left/right id")
			}
			pairs[leftID] = rightID
		}
	case map[string]interface{}:
		for leftID, rightRef := range v {
			rightID, ok := rightRef.(string)
			if !ok {
				return MatchingAnswer{}, newMalformed(questionID, models.Matching, "map value is not a right item id")
			}
			pairs[leftID] = rightID
		}
	default:
		return MatchingAnswer{}, newMalformed(questionID, models.Matching, fmt.Sprintf("unrecognized answer shape %T", value))
	}

	return MatchingAnswer{Pairs: pairs}, nil
}

// DecodeShortAnswer accepts a bare string or {"text": "..."}.
func DecodeShortAnswer(questionID uint, raw json.RawMessage) (ShortAnswer, error) {
	text, err := decodeTextAnswer(questionID, models.ShortAnswer, raw)
	if err != nil {
		return ShortAnswer{}, err
	}
	return ShortAnswer{Text: text}, nil
}

// DecodeEssayAnswer accepts a bare string or {"text": "..."}.
func DecodeEssayAnswer(questionID uint, raw json.RawMessage) (EssayAnswer, error) {
	text, err := decodeTextAnswer(questionID, models.Essay, raw)
	if err != nil {
		return EssayAnswer{}, err
	}
	return EssayAnswer{Text: text}, nil
}

// DecodeTrueFalseAnswer accepts the same encodings as the key.
func DecodeTrueFalseAnswer(questionID uint, raw json.RawMessage) (TrueFalseAnswer, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return TrueFalseAnswer{}, newMalformed(questionID, models.TrueFalse, "invalid JSON")
	}
	result, ok := boolFromValue(value)
	if !ok {
		return TrueFalseAnswer{}, newMalformed(questionID, models.TrueFalse, fmt.Sprintf("unrecognized answer shape %v", value))
	}
	return TrueFalseAnswer{Value: result}, nil
}

// NormalizeStudentAnswer validates a submitted answer against the question
// type and re-encodes it in the canonical persisted shape. Called once on
// every save so stored answers never carry legacy encodings.
func NormalizeStudentAnswer(questionID uint, qType models.QuestionType, raw json.RawMessage) (json.RawMessage, error) {
	switch qType {
	case models.MultipleChoice:
		answer, err := DecodeMCAnswer(questionID, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer.Option)
	case models.ComplexChoice:
		answer, err := DecodeComplexMCAnswer(questionID, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer.SortedOptions())
	case models.Matching:
		answer, err := DecodeMatchingAnswer(questionID, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer.Pairs)
	case models.ShortAnswer:
		answer, err := DecodeShortAnswer(questionID, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer.Text)
	case models.Essay:
		answer, err := DecodeEssayAnswer(questionID, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer.Text)
	case models.TrueFalse:
		answer, err := DecodeTrueFalseAnswer(questionID, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(answer.Value)
	}
	return nil, newMalformed(questionID, qType, "unsupported question type")
}

// ===== SHARED DECODING HELPERS =====

func decodeTextAnswer(questionID uint, qType models.QuestionType, raw json.RawMessage) (string, error) {
	value, err := decodeValue(raw)
	if err != nil {
		return "", newMalformed(questionID, qType, "invalid JSON")
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			return text, nil
		}
		if text, ok := v["answer"].(string); ok {
			return text, nil
		}
	}
	return "", newMalformed(questionID, qType, fmt.Sprintf("unrecognized answer shape %T", value))
}

func boolFromValue(value interface{}) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case json.Number:
		switch v.String() {
		case "0":
			return true, true
		case "1":
			return false, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		case "0":
			return true, true
		case "1":
			return false, true
		}
	}
	return false, false
}

func pairString(pair map[string]interface{}, fields ...string) (string, bool) {
	for _, field := range fields {
		if value, ok := pair[field].(string); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

func stringSlice(entries []interface{}) ([]string, bool) {
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		text, ok := entry.(string)
		if !ok {
			return nil, false
		}
		result = append(result, text)
	}
	return result, true
}

func resolveItemRef(ref string, items []models.MatchItem) (string, bool) {
	if index, err := strconv.Atoi(ref); err == nil {
		if index < 0 || index >= len(items) {
			return "", false
		}
		return items[index].ID, true
	}
	// Already an item id.
	for _, item := range items {
		if item.ID == ref {
			return item.ID, true
		}
	}
	return "", false
}

func resolveItemValue(ref interface{}, items []models.MatchItem) (string, bool) {
	switch v := ref.(type) {
	case string:
		return resolveItemRef(v, items)
	case json.Number:
		index, err := strconv.Atoi(v.String())
		if err != nil || index < 0 || index >= len(items) {
			return "", false
		}
		return items[index].ID, true
	}
	return "", false
}
