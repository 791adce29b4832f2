package narrative

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/user/narrative-engine/config"
	"github.com/user/narrative-engine/internal/types"
)

// DiceRoller handles dice rolling from a seeded source
type DiceRoller struct {
	rng *rand.Rand
}

// NewDiceRoller creates a dice roller whose rolls are fully determined by seed
func NewDiceRoller(seed int64) *DiceRoller {
	return &DiceRoller{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Roll rolls a die with the specified number of sides
func (dr *DiceRoller) Roll(sides int) int {
	return dr.rng.Intn(sides) + 1
}

// Float returns a value in [0,1)
func (dr *DiceRoller) Float() float64 {
	return dr.rng.Float64()
}

// NewSeed draws a seed from crypto/rand
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:]) & 0x7fffffffffffffff), nil
}

// resolveSeed returns the requested seed, or a fresh one when none was given
func resolveSeed(seed *int64) (int64, error) {
	if seed != nil {
		return *seed, nil
	}
	return NewSeed()
}

// ResolveSkillCheck rolls a skill check. The outcome depends only on its
// arguments, so the same seed always replays the same result.
func ResolveSkillCheck(check types.SkillCheck, skillValue, modifier int, seed int64, rules config.NarrativeConfig) types.SkillCheckResult {
	die := rules.SkillCheckDie
	if die < 2 {
		die = 20
	}
	roller := NewDiceRoller(seed)

	rolls := []int{roller.Roll(die)}
	roll := rolls[0]
	if check.Advantage {
		second := roller.Roll(die)
		rolls = append(rolls, second)
		if second > roll {
			roll = second
		}
	}

	total := roll + skillValue + modifier
	return types.SkillCheckResult{
		Skill:           check.Skill,
		Difficulty:      check.Difficulty,
		Rolls:           rolls,
		Roll:            roll,
		SkillValue:      skillValue,
		Modifier:        modifier,
		Total:           total,
		Margin:          total - check.Difficulty,
		Success:         total >= check.Difficulty,
		CriticalSuccess: roll == rules.CriticalSuccess,
		CriticalFailure: roll == rules.CriticalFailure,
		AdvantageUsed:   check.Advantage,
		Seed:            seed,
	}
}
