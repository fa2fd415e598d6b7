// Package randomizer produces deterministic question instances. All
// randomness flows through an explicit seeded Generator value; there is no
// process-wide random source, so the same seed always yields the same
// output regardless of call order or restarts.
package randomizer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"

	"github.com/open-exam/exam-engine/internal/models"
)

type Generator struct {
	rng *rand.Rand
}

// New derives a reproducible generator from a seed string by hashing it
// into a 64-bit source.
func New(seed string) *Generator {
	hash := sha256.Sum256([]byte(seed))
	source := int64(binary.BigEndian.Uint64(hash[:8]))
	return &Generator{rng: rand.New(rand.NewSource(source))}
}

// DeriveSeed builds the default per-participant seed. Preview flows may pass
// an arbitrary seed instead.
func DeriveSeed(sessionID uint, participantID string) string {
	return fmt.Sprintf("session:%d:participant:%s", sessionID, participantID)
}

// SampleIndices draws count distinct indices from [0, poolSize) without
// replacement and returns them in ascending order, so unselected ordering
// falls back to pool insertion order.
func (g *Generator) SampleIndices(poolSize, count int) []int {
	if count > poolSize {
		count = poolSize
	}
	perm := g.rng.Perm(poolSize)
	selected := make([]int, count)
	copy(selected, perm[:count])
	sort.Ints(selected)
	return selected
}

// Perm returns a permutation of [0, n).
func (g *Generator) Perm(n int) []int {
	return g.rng.Perm(n)
}

// ShuffleOptions permutes a choice question's option list and reassigns
// display labels by new position. It returns the shuffled options, the
// option ids in display order, and a map from option id to new label used
// to rewrite answer-key references.
func (g *Generator) ShuffleOptions(options []models.ChoiceOption) ([]models.ChoiceOption, []string, map[string]string) {
	shuffled := make([]models.ChoiceOption, len(options))
	copy(shuffled, options)
	g.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	idOrder := make([]string, len(shuffled))
	newLabels := make(map[string]string, len(shuffled))
	for i := range shuffled {
		label := positionLabel(i)
		shuffled[i].Label = label
		idOrder[i] = shuffled[i].ID
		newLabels[shuffled[i].ID] = label
	}
	return shuffled, idOrder, newLabels
}

func positionLabel(index int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if index < len(alphabet) {
		return string(alphabet[index])
	}
	return fmt.Sprintf("%c%c", alphabet[index/len(alphabet)-1], alphabet[index%len(alphabet)])
}
