package randomizer

import (
	"github.com/open-exam/exam-engine/internal/models"
)

// Order applies the template's ordering mode to the assembled question list
// and returns a valid permutation of it: no entry duplicated, none dropped,
// positions outside the shuffled subset left untouched.
func Order(questions []models.InstanceQuestion, rules models.RandomizationRules, g *Generator) []models.InstanceQuestion {
	result := make([]models.InstanceQuestion, len(questions))
	copy(result, questions)

	switch rules.Mode {
	case models.RandomizeAll:
		shuffleSubset(result, allIndices(len(result)), g)
	case models.RandomizeByType:
		shuffleSubset(result, indicesOfTypes(result, rules.Types, true), g)
	case models.RandomizeExcludeType:
		shuffleSubset(result, indicesOfTypes(result, rules.Types, false), g)
	case models.RandomizeSpecific:
		shuffleSubset(result, indicesOfPositions(len(result), rules.Positions), g)
	}

	for i := range result {
		result[i].Position = i + 1
	}
	return result
}

// shuffleSubset permutes only the given index positions among themselves.
func shuffleSubset(questions []models.InstanceQuestion, indices []int, g *Generator) {
	if len(indices) < 2 {
		return
	}
	subset := make([]models.InstanceQuestion, len(indices))
	for i, idx := range indices {
		subset[i] = questions[idx]
	}
	perm := g.Perm(len(indices))
	for i, idx := range indices {
		questions[idx] = subset[perm[i]]
	}
}

func allIndices(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func indicesOfTypes(questions []models.InstanceQuestion, types []models.QuestionType, include bool) []int {
	typeSet := make(map[models.QuestionType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	var indices []int
	for i, q := range questions {
		if typeSet[q.Type] == include {
			indices = append(indices, i)
		}
	}
	return indices
}

// indicesOfPositions maps 1-based display positions to indices, dropping
// out-of-range entries.
func indicesOfPositions(n int, positions []int) []int {
	seen := make(map[int]bool, len(positions))
	var indices []int
	for _, pos := range positions {
		idx := pos - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	return indices
}
