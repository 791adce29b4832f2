package narrative

import (
	"github.com/user/narrative-engine/internal/types"
)

// Apply turns a declarative consequence into the deltas it produces for a
// character. It does not touch any state; the caller decides when the deltas
// become visible.
func Apply(c types.Consequence, pc types.PlayerContext) ([]types.StateDelta, error) {
	if c.Target == "" {
		return nil, newError(CodeInvalidArgument, "consequence %s has no target", c.ID)
	}

	d := types.StateDelta{
		ConsequenceID: c.ID,
		CharacterID:   pc.CharacterID,
		Key:           c.Target,
		Amount:        c.Amount,
	}

	switch c.Type {
	case types.ConsequenceReputationChange:
		d.Target, d.Kind = types.TargetReputation, types.DeltaReputation
		d.Previous = pc.Reputation[c.Target]
	case types.ConsequenceRelationshipChange:
		d.Target, d.Kind = types.TargetReputation, types.DeltaRelationship
		d.Previous = pc.Relationships[c.Target]
	case types.ConsequenceFactionStandingChange:
		d.Target, d.Kind = types.TargetReputation, types.DeltaFactionStanding
		d.Previous = pc.FactionStanding[c.Target]
	case types.ConsequenceItemReward:
		if d.Amount == 0 {
			d.Amount = 1
		}
		d.Target, d.Kind = types.TargetInventory, types.DeltaItemGrant
		d.Previous = pc.Inventory[c.Target]
	case types.ConsequenceQuestUnlock:
		d.Target, d.Kind, d.Value = types.TargetSession, types.DeltaQuestVisibility, true
		return []types.StateDelta{d}, nil
	case types.ConsequenceQuestLock:
		d.Target, d.Kind, d.Value = types.TargetSession, types.DeltaQuestVisibility, false
		return []types.StateDelta{d}, nil
	case types.ConsequenceWorldStateChange:
		d.Target, d.Kind, d.Value = types.TargetWorld, types.DeltaWorldState, c.Value
		d.Amount = 0
		return []types.StateDelta{d}, nil
	default:
		return nil, newError(CodeInvalidArgument, "unknown consequence type %q", c.Type)
	}

	d.Current = d.Previous + d.Amount
	return []types.StateDelta{d}, nil
}

// ApplyAll applies consequences in order. Each consequence sees the effects
// of the ones before it.
func ApplyAll(cs []types.Consequence, pc types.PlayerContext) ([]types.StateDelta, error) {
	pc = cloneContext(pc)
	var out []types.StateDelta
	for _, c := range cs {
		deltas, err := Apply(c, pc)
		if err != nil {
			return nil, err
		}
		for _, d := range deltas {
			mirrorContext(&pc, d)
		}
		out = append(out, deltas...)
	}
	return out, nil
}

// RewardDeltas expands a reward bundle into grant deltas
func RewardDeltas(source string, r types.Reward, pc types.PlayerContext) []types.StateDelta {
	pc = cloneContext(pc)
	var out []types.StateDelta
	if r.Experience != 0 {
		out = append(out, types.StateDelta{
			ConsequenceID: source, CharacterID: pc.CharacterID,
			Target: types.TargetInventory, Kind: types.DeltaExperienceGrant,
			Key: "experience", Amount: r.Experience,
		})
	}
	if r.Currency != 0 {
		out = append(out, types.StateDelta{
			ConsequenceID: source, CharacterID: pc.CharacterID,
			Target: types.TargetInventory, Kind: types.DeltaCurrencyGrant,
			Key: "currency", Amount: r.Currency,
		})
	}
	for _, item := range r.Items {
		prev := pc.Inventory[item]
		out = append(out, types.StateDelta{
			ConsequenceID: source, CharacterID: pc.CharacterID,
			Target: types.TargetInventory, Kind: types.DeltaItemGrant,
			Key: item, Amount: 1, Previous: prev, Current: prev + 1,
		})
		pc.Inventory[item] = prev + 1
	}
	return out
}

// mirrorContext applies a delta to a player context so later consequences in
// the same batch observe it
func mirrorContext(pc *types.PlayerContext, d types.StateDelta) {
	switch d.Kind {
	case types.DeltaReputation:
		pc.Reputation[d.Key] = d.Current
	case types.DeltaRelationship:
		pc.Relationships[d.Key] = d.Current
	case types.DeltaFactionStanding:
		pc.FactionStanding[d.Key] = d.Current
	case types.DeltaItemGrant:
		pc.Inventory[d.Key] = d.Current
	case types.DeltaWorldState:
		pc.WorldState[d.Key] = d.Value
	}
}

// commitDelta applies a delta to a draft session. External deltas update the
// local mirror, session deltas update the visibility sets.
func commitDelta(s *types.NarrativeSessionState, d types.StateDelta) {
	ext := &s.External
	switch d.Kind {
	case types.DeltaReputation:
		ext.Reputation[d.Key] += d.Amount
	case types.DeltaRelationship:
		ext.Relationships[d.Key] += d.Amount
	case types.DeltaFactionStanding:
		ext.FactionStanding[d.Key] += d.Amount
	case types.DeltaItemGrant:
		ext.Inventory[d.Key] += d.Amount
	case types.DeltaWorldState:
		ext.WorldState[d.Key] = d.Value
	case types.DeltaQuestVisibility:
		if d.Value {
			s.UnlockedQuests[d.Key] = true
			delete(s.LockedQuests, d.Key)
		} else {
			s.LockedQuests[d.Key] = true
			delete(s.UnlockedQuests, d.Key)
		}
	case types.DeltaCurrencyGrant, types.DeltaExperienceGrant, types.DeltaBranchDeactivation:
		// owned elsewhere or already reflected in the branch sets
	}
}

// IsKnownConsequence reports whether t is one of the closed consequence variants
func IsKnownConsequence(t types.ConsequenceType) bool {
	for _, k := range types.ConsequenceTypes {
		if k == t {
			return true
		}
	}
	return false
}

func cloneContext(pc types.PlayerContext) types.PlayerContext {
	pc.Reputation = copyInts(pc.Reputation)
	pc.Relationships = copyInts(pc.Relationships)
	pc.FactionStanding = copyInts(pc.FactionStanding)
	pc.Inventory = copyInts(pc.Inventory)
	ws := make(map[string]bool, len(pc.WorldState))
	for k, v := range pc.WorldState {
		ws[k] = v
	}
	pc.WorldState = ws
	return pc
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
