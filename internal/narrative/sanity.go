package narrative

import (
	"context"
	"fmt"

	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

const (
	minSanity = 0
	maxSanity = 100

	minAnomalyChance = 0.05
	maxAnomalyChance = 0.95
)

// Sanity bands
const (
	SanityStable   = "stable"
	SanityUnstable = "unstable"
	SanityCritical = "critical"
	SanityInsane   = "insane"
)

func clampSanity(v int) int {
	if v < minSanity {
		return minSanity
	}
	if v > maxSanity {
		return maxSanity
	}
	return v
}

// sanityStatus maps a sanity value onto the configured bands
func (e *Engine) sanityStatus(v int) string {
	rules := e.config.Narrative
	switch {
	case v >= rules.SanityStable:
		return SanityStable
	case v >= rules.SanityUnstable:
		return SanityUnstable
	case v >= rules.SanityCritical:
		return SanityCritical
	default:
		return SanityInsane
	}
}

// AdjustSanity applies delta to a character's sanity, clamped to [0,100]
func (e *Engine) AdjustSanity(ctx context.Context, characterID string, delta int, reason string) (*types.MemberSanity, error) {
	var before int
	next, err := e.store.Mutate(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		before = draft.Sanity
		draft.Sanity = clampSanity(draft.Sanity + delta)
		return nil
	})
	if err != nil {
		return nil, err
	}

	reading := &types.MemberSanity{
		CharacterID: characterID,
		Sanity:      next.Sanity,
		Status:      e.sanityStatus(next.Sanity),
	}
	e.emitSanity(characterID, "", before, next.Sanity, reason)
	return reading, nil
}

func (e *Engine) emitSanity(characterID, raidID string, before, after int, reason string) {
	if before == after {
		return
	}
	e.Logger.Debug("Sanity changed",
		zap.String("character_id", characterID),
		zap.Int("before", before),
		zap.Int("after", after),
		zap.String("reason", reason))
	e.emit(types.NarrativeEvent{
		Type:        types.EventSanityChanged,
		CharacterID: characterID,
		RaidID:      raidID,
		Payload: map[string]any{
			"before": before,
			"after":  after,
			"status": e.sanityStatus(after),
			"reason": reason,
		},
	})
}

// partySanity summarizes member states read under one lock set
func (e *Engine) partySanity(raidID string, members []string, states map[string]*types.NarrativeSessionState) *types.PartySanity {
	party := &types.PartySanity{RaidID: raidID, Members: make([]types.MemberSanity, 0, len(members))}
	total := 0
	for i, id := range members {
		s := states[id].Sanity
		party.Members = append(party.Members, types.MemberSanity{
			CharacterID: id,
			Sanity:      s,
			Status:      e.sanityStatus(s),
		})
		total += s
		if i == 0 || s < party.Min {
			party.Min = s
		}
	}
	if len(members) > 0 {
		party.Average = float64(total) / float64(len(members))
	}
	party.Status = e.sanityStatus(party.Min)
	return party
}

// GetPartySanity reads every member of a raid at a single consistent point
func (e *Engine) GetPartySanity(ctx context.Context, raidID string) (*types.PartySanity, error) {
	members, err := e.raidMembers(ctx, raidID)
	if err != nil {
		return nil, err
	}
	states, err := e.store.ViewMany(ctx, members)
	if err != nil {
		return nil, err
	}
	return e.partySanity(raidID, members, states), nil
}

// ApplyPartySanityShock applies the same sanity delta to every raid member
// in one transaction
func (e *Engine) ApplyPartySanityShock(ctx context.Context, raidID string, delta int) (*types.PartySanity, error) {
	members, err := e.raidMembers(ctx, raidID)
	if err != nil {
		return nil, err
	}

	before := make(map[string]int, len(members))
	states, err := e.store.MutateMany(ctx, members, func(drafts map[string]*types.NarrativeSessionState) error {
		for _, id := range members {
			if _, ok := drafts[id].Raids[raidID]; !ok {
				return newError(CodeNarrativeCoherence, "member %s is not in raid %s", id, raidID)
			}
			before[id] = drafts[id].Sanity
			drafts[id].Sanity = clampSanity(drafts[id].Sanity + delta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("party shock in raid %s", raidID)
	for _, id := range members {
		e.emitSanity(id, raidID, before[id], states[id].Sanity, reason)
	}
	return e.partySanity(raidID, members, states), nil
}

// anomalyOdds returns the success chance of an action and its sanity impact
// on success and failure
func anomalyOdds(action types.AnomalyAction, severity int, skills map[string]int) (chance float64, onSuccess, onFailure int, err error) {
	sev := float64(severity)
	tech := float64(skills["tech"])
	will := float64(skills["willpower"])

	switch action {
	case types.AnomalyStabilize:
		chance = 0.35 + 0.04*tech + 0.02*will - 0.05*sev
		onSuccess, onFailure = -severity, -2*severity
	case types.AnomalyNeutralize:
		chance = 0.25 + 0.05*float64(skills["combat"]) + 0.02*will - 0.06*sev
		onSuccess, onFailure = -(severity + 2), -3*severity
	case types.AnomalyBypass:
		chance = 0.6 + 0.03*float64(skills["stealth"]) - 0.03*sev
		onSuccess, onFailure = -severity/2, -severity
	default:
		return 0, 0, 0, newError(CodeInvalidArgument, "unknown anomaly action %q", action)
	}

	if chance < minAnomalyChance {
		chance = minAnomalyChance
	}
	if chance > maxAnomalyChance {
		chance = maxAnomalyChance
	}
	return chance, onSuccess, onFailure, nil
}

// HandleRealityAnomaly resolves an anomaly encounter for one character.
// Success marks the anomaly in world state; a failed bypass raises threat.
func (e *Engine) HandleRealityAnomaly(ctx context.Context, req types.AnomalyRequest) (*types.AnomalyResult, error) {
	if req.AnomalyID == "" {
		return nil, newError(CodeInvalidArgument, "anomaly id is required")
	}
	if req.Severity < 1 || req.Severity > e.config.Narrative.MaxAnomalySeverity {
		return nil, newError(CodeInvalidArgument, "severity %d outside 1..%d", req.Severity, e.config.Narrative.MaxAnomalySeverity)
	}
	if _, _, _, err := anomalyOdds(req.Action, req.Severity, nil); err != nil {
		return nil, err
	}

	seed, err := resolveSeed(req.Seed)
	if err != nil {
		return nil, err
	}

	result := &types.AnomalyResult{AnomalyID: req.AnomalyID, Action: req.Action, Seed: seed}
	var staged int

	next, err := e.store.Mutate(ctx, req.CharacterID, func(draft *types.NarrativeSessionState) error {
		chance, onSuccess, onFailure, err := anomalyOdds(req.Action, req.Severity, draft.External.Skills)
		if err != nil {
			return err
		}
		result.SuccessChance = chance
		result.Success = NewDiceRoller(seed).Float() < chance

		impact := onFailure
		var deltas []types.StateDelta
		if result.Success {
			impact = onSuccess
			applied, err := Apply(types.Consequence{
				Type:   types.ConsequenceWorldStateChange,
				Target: fmt.Sprintf("anomaly:%s:%s", req.AnomalyID, req.Action),
				Value:  true,
			}, draft.Context())
			if err != nil {
				return err
			}
			for _, d := range applied {
				commitDelta(draft, d)
			}
			deltas = applied
		} else if req.Action == types.AnomalyBypass {
			draft.Threat += req.Severity
		}

		result.SanityBefore = draft.Sanity
		draft.Sanity = clampSanity(draft.Sanity + impact)
		result.SanityAfter = draft.Sanity
		result.SanityImpact = result.SanityAfter - result.SanityBefore

		rec := e.record(draft, types.PlayerChoice{
			Source:       types.SourceAnomaly,
			NodeID:       req.AnomalyID,
			ChoiceID:     fmt.Sprintf("anomaly:%s:%s", req.AnomalyID, req.Action),
			Consequences: deltas,
		})
		staged = e.queue(draft, rec.ID, deltas)
		result.Consequences = rec.Consequences
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Status = e.sanityStatus(next.Sanity)
	result.ThreatAfter = next.Threat

	e.Logger.Info("Reality anomaly handled",
		zap.String("character_id", req.CharacterID),
		zap.String("anomaly_id", req.AnomalyID),
		zap.String("action", string(req.Action)),
		zap.Bool("success", result.Success),
		zap.Int("sanity", result.SanityAfter))
	e.emit(types.NarrativeEvent{
		Type:        types.EventAnomalyResolved,
		CharacterID: req.CharacterID,
		Payload: map[string]any{
			"anomaly_id": req.AnomalyID,
			"action":     string(req.Action),
			"success":    result.Success,
			"seed":       seed,
		},
	})
	e.emitSanity(req.CharacterID, "", result.SanityBefore, result.SanityAfter, "anomaly "+req.AnomalyID)
	e.flushAfterCommit(ctx, req.CharacterID, staged)
	return result, nil
}
