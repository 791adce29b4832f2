package narrative

import (
	"fmt"

	"github.com/user/narrative-engine/internal/types"
)

// GateResult is the combined outcome of a set of conditions
type GateResult struct {
	// Open is true when every required condition passed
	Open bool
	// Recommended is true when at least one optional condition passed, or there are none
	Recommended bool
	// Score is the fraction of optional conditions that passed
	Score float64

	Reasons      []string
	Hints        []string
	MissingFlags []string
	MissingItems []string
}

// Evaluate checks a single condition against a player context.
// It never mutates the context and never fails: unknown variants and missing
// keys evaluate to false with a reason.
func Evaluate(cond types.BranchCondition, pc types.PlayerContext) (bool, string) {
	switch cond.Type {
	case types.ConditionQuestCompleted:
		if pc.CompletedQuests[cond.QuestID] {
			return true, ""
		}
		return false, fmt.Sprintf("quest %s not completed", cond.QuestID)

	case types.ConditionChoiceMade:
		if pc.ChoicesMade[cond.ChoiceID] {
			return true, ""
		}
		return false, fmt.Sprintf("choice %s not made", cond.ChoiceID)

	case types.ConditionReputation:
		return atLeast("reputation with "+cond.Faction, pc.Reputation, cond.Faction, cond.Min)

	case types.ConditionItemOwned:
		need := cond.Min
		if need < 1 {
			need = 1
		}
		if pc.Inventory[cond.ItemID] >= need {
			return true, ""
		}
		return false, fmt.Sprintf("item %s not owned", cond.ItemID)

	case types.ConditionSkillLevel:
		return atLeast("skill "+cond.Skill, pc.Skills, cond.Skill, cond.Min)

	case types.ConditionRelationshipLevel:
		return atLeast("relationship with "+cond.NPCID, pc.Relationships, cond.NPCID, cond.Min)

	case types.ConditionFactionStanding:
		return atLeast("standing with "+cond.Faction, pc.FactionStanding, cond.Faction, cond.Min)

	case types.ConditionWorldState:
		v, ok := pc.WorldState[cond.Flag]
		if !ok {
			return false, fmt.Sprintf("world flag %s unknown", cond.Flag)
		}
		if v != cond.Value {
			return false, fmt.Sprintf("world flag %s is %t, want %t", cond.Flag, v, cond.Value)
		}
		return true, ""

	default:
		return false, fmt.Sprintf("unknown condition type %q", cond.Type)
	}
}

func atLeast(label string, m map[string]int, key string, min int) (bool, string) {
	v, ok := m[key]
	if !ok {
		return false, fmt.Sprintf("%s unknown (need %d)", label, min)
	}
	if v < min {
		return false, fmt.Sprintf("%s is %d (need %d)", label, v, min)
	}
	return true, ""
}

// EvaluateGate runs AND over required conditions and OR-any over optional ones
func EvaluateGate(conds []types.BranchCondition, pc types.PlayerContext) GateResult {
	res := GateResult{Open: true, Score: 1}

	optional, passed := 0, 0
	for _, c := range conds {
		ok, reason := Evaluate(c, pc)
		if c.Required {
			if !ok {
				res.Open = false
				res.Reasons = append(res.Reasons, reason)
				collectMissing(&res, c)
			}
			continue
		}
		optional++
		if ok {
			passed++
		} else {
			res.Hints = append(res.Hints, reason)
		}
	}

	if optional > 0 {
		res.Score = float64(passed) / float64(optional)
		res.Recommended = passed > 0
	} else {
		res.Recommended = true
	}
	return res
}

func collectMissing(res *GateResult, c types.BranchCondition) {
	switch c.Type {
	case types.ConditionItemOwned:
		res.MissingItems = append(res.MissingItems, c.ItemID)
	case types.ConditionWorldState:
		res.MissingFlags = append(res.MissingFlags, c.Flag)
	}
}

// IsKnownCondition reports whether t is one of the closed condition variants
func IsKnownCondition(t types.ConditionType) bool {
	for _, k := range types.ConditionTypes {
		if k == t {
			return true
		}
	}
	return false
}
