package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/narrative-engine/config"
	"github.com/user/narrative-engine/internal/types"
)

func TestDiceRollerRange(t *testing.T) {
	dr := NewDiceRoller(42)
	for i := 0; i < 1000; i++ {
		r := dr.Roll(20)
		assert.GreaterOrEqual(t, r, 1)
		assert.LessOrEqual(t, r, 20)
	}
}

func TestResolveSkillCheckDeterministic(t *testing.T) {
	rules := config.DefaultConfig().Narrative
	check := types.SkillCheck{Skill: "hacking", Difficulty: 15, Advantage: true}

	for seed := int64(0); seed < 50; seed++ {
		a := ResolveSkillCheck(check, 4, 2, seed, rules)
		b := ResolveSkillCheck(check, 4, 2, seed, rules)
		assert.Equal(t, a, b)
	}
}

func TestResolveSkillCheckArithmetic(t *testing.T) {
	rules := config.DefaultConfig().Narrative

	for seed := int64(0); seed < 200; seed++ {
		res := ResolveSkillCheck(types.SkillCheck{Skill: "cool", Difficulty: 12}, 3, 1, seed, rules)
		require.Len(t, res.Rolls, 1)
		assert.Equal(t, res.Rolls[0], res.Roll)
		assert.Equal(t, res.Roll+4, res.Total)
		assert.Equal(t, res.Total >= 12, res.Success)
		assert.Equal(t, res.Total-12, res.Margin)
		assert.Equal(t, res.Roll == 20, res.CriticalSuccess)
		assert.Equal(t, res.Roll == 1, res.CriticalFailure)
		assert.Equal(t, seed, res.Seed)
	}
}

func TestResolveSkillCheckAdvantageTakesBest(t *testing.T) {
	rules := config.DefaultConfig().Narrative

	for seed := int64(0); seed < 200; seed++ {
		res := ResolveSkillCheck(types.SkillCheck{Difficulty: 10, Advantage: true}, 0, 0, seed, rules)
		require.Len(t, res.Rolls, 2)
		assert.True(t, res.AdvantageUsed)
		assert.Equal(t, max(res.Rolls[0], res.Rolls[1]), res.Roll)
	}
}

func TestNewSeed(t *testing.T) {
	a, err := NewSeed()
	require.NoError(t, err)
	b, err := NewSeed()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a, int64(0))
	assert.NotEqual(t, a, b)
}
