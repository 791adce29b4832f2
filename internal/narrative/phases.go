package narrative

import (
	"context"

	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

// Raid kinds
const (
	RaidBlackwall = "blackwall"
	RaidCEOFight  = "ceo_fight"
)

// raidPhases lists each raid kind's phases in their only legal order
var raidPhases = map[string][]string{
	RaidBlackwall: {"infiltration", "firewall_breach", "daemon_hunt", "core_confrontation", "extraction"},
	RaidCEOFight:  {"negotiation", "security_response", "ceo_duel", "aftermath"},
}

// RaidPhases returns the ordered phases of a raid kind
func RaidPhases(kind string) ([]string, bool) {
	phases, ok := raidPhases[kind]
	if !ok {
		return nil, false
	}
	return append([]string(nil), phases...), true
}

func phaseIndex(kind, phase string) int {
	for i, p := range raidPhases[kind] {
		if p == phase {
			return i
		}
	}
	return -1
}

// raidMembers returns the party of a raid, scanning loaded records when the
// raid is not indexed yet (e.g. after a restart)
func (e *Engine) raidMembers(ctx context.Context, raidID string) ([]string, error) {
	e.raidMu.Lock()
	members, ok := e.raids[raidID]
	e.raidMu.Unlock()
	if ok {
		return members, nil
	}

	for _, id := range e.store.IDs() {
		state, err := e.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if raid, ok := state.Raids[raidID]; ok {
			members = append([]string(nil), raid.Members...)
			e.raidMu.Lock()
			e.raids[raidID] = members
			e.raidMu.Unlock()
			return members, nil
		}
	}
	return nil, notFound("raid", raidID)
}

// leaveRaid drops a character from a raid party. The leader role passes to
// the first remaining member and a raid with nobody left is forgotten.
func (e *Engine) leaveRaid(ctx context.Context, characterID, raidID string) error {
	members, err := e.raidMembers(ctx, raidID)
	if err != nil {
		return err
	}
	rest := make([]string, 0, len(members))
	for _, id := range members {
		if id != characterID {
			rest = append(rest, id)
		}
	}

	var leader string
	if len(rest) > 0 {
		_, err = e.store.MutateMany(ctx, rest, func(drafts map[string]*types.NarrativeSessionState) error {
			for _, id := range rest {
				raid, ok := drafts[id].Raids[raidID]
				if !ok {
					continue
				}
				raid.Members = append([]string(nil), rest...)
				if raid.Leader == characterID {
					raid.Leader = rest[0]
				}
				leader = raid.Leader
				drafts[id].Raids[raidID] = raid
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	e.raidMu.Lock()
	if len(rest) == 0 {
		delete(e.raids, raidID)
	} else {
		e.raids[raidID] = rest
	}
	e.raidMu.Unlock()

	e.Logger.Info("Raid member left",
		zap.String("raid_id", raidID),
		zap.String("character_id", characterID),
		zap.String("leader", leader),
		zap.Int("members", len(rest)))
	e.emit(types.NarrativeEvent{
		Type:        types.EventRaidMemberLeft,
		CharacterID: characterID,
		RaidID:      raidID,
		Payload:     map[string]any{"leader": leader, "members": rest},
	})
	return nil
}

// StartRaid registers a raid party at the first phase of its kind
func (e *Engine) StartRaid(ctx context.Context, spec types.RaidSpec) error {
	phases, ok := raidPhases[spec.Kind]
	if !ok {
		return newError(CodeInvalidArgument, "unknown raid kind %q", spec.Kind)
	}
	if spec.RaidID == "" || spec.Leader == "" {
		return newError(CodeInvalidArgument, "raid id and leader are required")
	}

	members := sortedUnique(append([]string{spec.Leader}, spec.Members...))
	_, err := e.store.MutateMany(ctx, members, func(drafts map[string]*types.NarrativeSessionState) error {
		for _, id := range members {
			if _, exists := drafts[id].Raids[spec.RaidID]; exists {
				return newError(CodeInvalidChoice, "raid %s already started", spec.RaidID)
			}
		}
		for _, id := range members {
			drafts[id].Raids[spec.RaidID] = types.RaidProgress{
				RaidID:  spec.RaidID,
				Kind:    spec.Kind,
				Leader:  spec.Leader,
				Members: append([]string(nil), members...),
				Phase:   phases[0],
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.raidMu.Lock()
	e.raids[spec.RaidID] = members
	e.raidMu.Unlock()

	e.Logger.Info("Raid started",
		zap.String("raid_id", spec.RaidID),
		zap.String("kind", spec.Kind),
		zap.String("leader", spec.Leader),
		zap.Int("members", len(members)))
	e.emit(types.NarrativeEvent{
		Type:   types.EventRaidStarted,
		RaidID: spec.RaidID,
		Payload: map[string]any{
			"kind":    spec.Kind,
			"leader":  spec.Leader,
			"members": members,
			"phase":   phases[0],
		},
	})
	return nil
}

// AdvanceRaidPhase moves a raid to the immediate successor of its current
// phase. Only the leader may advance, and fromPhase must match what every
// member sees, so of two concurrent identical requests exactly one wins.
func (e *Engine) AdvanceRaidPhase(ctx context.Context, req types.PhaseAdvanceRequest) (*types.PhaseAdvanceResult, error) {
	return e.advance(ctx, req, "")
}

// AdvanceBlackwallPhase is AdvanceRaidPhase restricted to Blackwall raids
func (e *Engine) AdvanceBlackwallPhase(ctx context.Context, req types.PhaseAdvanceRequest) (*types.PhaseAdvanceResult, error) {
	return e.advance(ctx, req, RaidBlackwall)
}

func (e *Engine) advance(ctx context.Context, req types.PhaseAdvanceRequest, wantKind string) (*types.PhaseAdvanceResult, error) {
	members, err := e.raidMembers(ctx, req.RaidID)
	if err != nil {
		return nil, err
	}

	var transition types.PhaseTransition
	_, err = e.store.MutateMany(ctx, members, func(drafts map[string]*types.NarrativeSessionState) error {
		leaderView, ok := drafts[members[0]].Raids[req.RaidID]
		if !ok {
			return notFound("raid", req.RaidID)
		}
		if wantKind != "" && leaderView.Kind != wantKind {
			return newError(CodeInvalidArgument, "raid %s is a %s raid", req.RaidID, leaderView.Kind)
		}
		if req.ActorID != leaderView.Leader {
			return newError(CodeNotPartyLeader, "only %s can advance raid %s", leaderView.Leader, req.RaidID)
		}

		phases := raidPhases[leaderView.Kind]
		cur := phaseIndex(leaderView.Kind, leaderView.Phase)
		if req.FromPhase != leaderView.Phase {
			return newError(CodePhaseOrderViolation, "raid %s is in %s, not %s", req.RaidID, leaderView.Phase, req.FromPhase)
		}
		if cur+1 >= len(phases) {
			return newError(CodePhaseOrderViolation, "raid %s is already in its final phase", req.RaidID)
		}
		if req.ToPhase != phases[cur+1] {
			return newError(CodePhaseOrderViolation, "raid %s must advance from %s to %s, not %s",
				req.RaidID, leaderView.Phase, phases[cur+1], req.ToPhase)
		}

		for _, id := range members {
			raid, ok := drafts[id].Raids[req.RaidID]
			if !ok || raid.Phase != leaderView.Phase {
				return newError(CodeNarrativeCoherence, "member %s disagrees on raid %s phase", id, req.RaidID)
			}
			raid.Phase = req.ToPhase
			drafts[id].Raids[req.RaidID] = raid
			drafts[id].Threat += cur + 1
		}

		transition = types.PhaseTransition{
			RaidID:        req.RaidID,
			PreviousPhase: leaderView.Phase,
			NewPhase:      req.ToPhase,
			AdvancedBy:    req.ActorID,
			Timestamp:     e.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("Raid phase advanced",
		zap.String("raid_id", req.RaidID),
		zap.String("from", transition.PreviousPhase),
		zap.String("to", transition.NewPhase),
		zap.String("by", req.ActorID))
	e.emit(types.NarrativeEvent{
		Type:      types.EventRaidPhaseAdvanced,
		RaidID:    req.RaidID,
		Timestamp: transition.Timestamp,
		Payload: map[string]any{
			"previous_phase": transition.PreviousPhase,
			"new_phase":      transition.NewPhase,
			"advanced_by":    transition.AdvancedBy,
		},
	})

	return &types.PhaseAdvanceResult{
		RaidID:        req.RaidID,
		PreviousPhase: transition.PreviousPhase,
		NewPhase:      transition.NewPhase,
		Transition:    transition,
	}, nil
}
