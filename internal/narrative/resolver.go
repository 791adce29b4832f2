package narrative

import (
	"fmt"
	"sort"

	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

// Resolver applies the branch activation protocol to drafts. It never
// commits anything itself; the caller runs it inside a store mutation.
type Resolver struct {
	registry *Registry
	Logger   *zap.Logger
}

// NewResolver creates a resolver over the given content
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{
		registry: registry,
		Logger:   zap.NewNop(),
	}
}

// activation is what a successful branch activation changed in the draft
type activation struct {
	BranchID    string
	Deactivated []string
	Deltas      []types.StateDelta
}

// Activate runs the activation protocol for branchID on draft:
// gate, exclusivity, requires, then commit to the draft.
func (r *Resolver) Activate(draft *types.NarrativeSessionState, q *types.Quest, branchID string) (*activation, error) {
	branch, ok := q.Branches[branchID]
	if !ok {
		return nil, notFound("branch", branchID)
	}

	inst, ok := draft.Quests[q.ID]
	if !ok || inst.Status != types.QuestActive {
		return nil, newError(CodeRequirementUnsatisfied, "quest %s is not active", q.ID)
	}
	if draft.ActiveBranches[branchID] {
		return nil, newError(CodeInvalidChoice, "branch %s is already active", branchID)
	}
	if draft.LockedBranches[branchID] {
		return nil, &Error{
			Code:    CodeBranchLocked,
			Message: fmt.Sprintf("branch %s is blocked", branchID),
			Reasons: []string{"blocked by an earlier branch"},
		}
	}

	pc := draft.Context()
	gate := EvaluateGate(branch.Conditions, pc)
	r.logHints(draft.CharacterID, branchID, gate)
	if !gate.Open {
		return nil, &Error{
			Code:         CodeBranchLocked,
			Message:      fmt.Sprintf("branch %s is locked", branchID),
			MissingFlags: gate.MissingFlags,
			MissingItems: gate.MissingItems,
			Reasons:      gate.Reasons,
		}
	}

	blocked := r.blockTargets(q, branchID)
	conflicts := r.conflicts(q, branchID, draft.ActiveBranches, blocked)
	if len(conflicts) > 0 {
		return nil, &Error{
			Code:      CodeBranchConflict,
			Message:   fmt.Sprintf("branch %s conflicts with an active branch", branchID),
			Conflicts: conflicts,
		}
	}

	if missing := r.missingRequires(q, branchID, draft.ActiveBranches, blocked); len(missing) > 0 {
		return nil, &Error{
			Code:      CodeRequirementUnsatisfied,
			Message:   fmt.Sprintf("branch %s requires other branches first", branchID),
			Reasons:   prefixAll("requires ", missing),
			Conflicts: missing,
		}
	}

	act := &activation{BranchID: branchID}
	for _, target := range blocked {
		if draft.ActiveBranches[target] {
			act.Deactivated = append(act.Deactivated, target)
			act.Deltas = append(act.Deltas, types.StateDelta{
				ConsequenceID: "blocks:" + branchID,
				CharacterID:   draft.CharacterID,
				Target:        types.TargetSession,
				Kind:          types.DeltaBranchDeactivation,
				Key:           target,
			})
		}
		delete(draft.ActiveBranches, target)
		draft.LockedBranches[target] = true
	}

	draft.ActiveBranches[branchID] = true
	draft.ActivatedBranches[branchID] = true

	if branch.EntryNode != "" {
		moveTo(inst, branch.EntryNode)
	}

	deltas, err := ApplyAll(branch.Consequences, draft.Context())
	if err != nil {
		return nil, err
	}
	act.Deltas = append(act.Deltas, deltas...)
	return act, nil
}

// blockTargets lists the branches branchID blocks
func (r *Resolver) blockTargets(q *types.Quest, branchID string) []string {
	var out []string
	for _, rel := range q.Relationships {
		if rel.Type == types.RelationBlocks && rel.From == branchID {
			out = append(out, rel.To)
		}
	}
	sort.Strings(out)
	return out
}

// conflicts lists active branches exclusive with branchID that it does not block
func (r *Resolver) conflicts(q *types.Quest, branchID string, active map[string]bool, blocked []string) []string {
	skip := make(map[string]bool, len(blocked))
	for _, b := range blocked {
		skip[b] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, rel := range q.Relationships {
		if rel.Type != types.RelationExclusiveWith {
			continue
		}
		other := ""
		switch branchID {
		case rel.From:
			other = rel.To
		case rel.To:
			other = rel.From
		default:
			continue
		}
		if active[other] && !skip[other] && !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// missingRequires lists requires targets of branchID that are not active
func (r *Resolver) missingRequires(q *types.Quest, branchID string, active map[string]bool, blocked []string) []string {
	var out []string
	for _, rel := range q.Relationships {
		if rel.Type != types.RelationRequires || rel.From != branchID {
			continue
		}
		if !active[rel.To] || contains(blocked, rel.To) {
			out = append(out, rel.To)
		}
	}
	sort.Strings(out)
	return out
}

// Availability reports whether a branch could be activated right now and why not
func (r *Resolver) Availability(q *types.Quest, branchID string, state *types.NarrativeSessionState) types.BranchAvailability {
	branch := q.Branches[branchID]
	pc := state.Context()
	gate := EvaluateGate(branch.Conditions, pc)

	av := types.BranchAvailability{
		BranchID:        branchID,
		Name:            branch.Name,
		Active:          state.ActiveBranches[branchID],
		Recommended:     gate.Recommended,
		Score:           gate.Score,
		MissingFlags:    nonNil(gate.MissingFlags),
		MissingItems:    nonNil(gate.MissingItems),
		Reasons:         nonNil(gate.Reasons),
		Conflicts:       []string{},
		MissingRequires: []string{},
	}

	blocked := r.blockTargets(q, branchID)
	av.Conflicts = nonNil(r.conflicts(q, branchID, state.ActiveBranches, blocked))
	av.MissingRequires = nonNil(r.missingRequires(q, branchID, state.ActiveBranches, blocked))

	if inst, ok := state.Quests[q.ID]; !ok || inst.Status != types.QuestActive {
		av.Reasons = append(av.Reasons, "quest not active")
	}
	if state.LockedBranches[branchID] {
		av.Reasons = append(av.Reasons, "blocked by an earlier branch")
	}

	av.Eligible = !av.Active && len(av.Reasons) == 0 && len(av.Conflicts) == 0 && len(av.MissingRequires) == 0
	return av
}

func (r *Resolver) logHints(characterID, branchID string, gate GateResult) {
	logSoftGaps(r.Logger, characterID, zap.String("branch_id", branchID), gate)
}

// logSoftGaps logs each unmet optional condition of a gate
func logSoftGaps(logger *zap.Logger, characterID string, subject zap.Field, gate GateResult) {
	for _, hint := range gate.Hints {
		logger.Debug("Optional condition not met",
			zap.String("character_id", characterID),
			subject,
			zap.String("gap", hint))
	}
}

// moveTo points a quest instance at a new node
func moveTo(inst *types.QuestInstance, nodeID string) {
	inst.CurrentNode = nodeID
	if !contains(inst.VisitedNodes, nodeID) {
		inst.VisitedNodes = append(inst.VisitedNodes, nodeID)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func prefixAll(prefix string, list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = prefix + s
	}
	return out
}
