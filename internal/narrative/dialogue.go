package narrative

import (
	"context"
	"fmt"

	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

func (e *Engine) dialogue(treeID string) (*types.DialogueTree, error) {
	t, ok := e.registry.Dialogue(treeID)
	if !ok {
		return nil, notFound("dialogue", treeID)
	}
	return t, nil
}

// choiceGate checks flags, items and conditions of a dialogue choice. It also
// returns the gate so callers can report unmet optional conditions.
func choiceGate(c types.Choice, s *types.NarrativeSessionState, pc types.PlayerContext) (bool, types.LockedOption, GateResult) {
	locked := types.LockedOption{
		ChoiceID:     c.ID,
		Text:         c.Text,
		MissingFlags: []string{},
		MissingItems: []string{},
		Reasons:      []string{},
	}
	for _, f := range c.RequiredFlags {
		if !s.Flags[f] {
			locked.MissingFlags = append(locked.MissingFlags, f)
			locked.Reasons = append(locked.Reasons, fmt.Sprintf("flag %s not set", f))
		}
	}
	for _, item := range c.RequiredItems {
		if pc.Inventory[item] < 1 {
			locked.MissingItems = append(locked.MissingItems, item)
			locked.Reasons = append(locked.Reasons, fmt.Sprintf("item %s not owned", item))
		}
	}
	gate := EvaluateGate(c.Conditions, pc)
	locked.MissingFlags = append(locked.MissingFlags, gate.MissingFlags...)
	locked.MissingItems = append(locked.MissingItems, gate.MissingItems...)
	locked.Reasons = append(locked.Reasons, gate.Reasons...)

	return len(locked.Reasons) == 0, locked, gate
}

// viewNode filters a node's choices live against the current state
func viewNode(t *types.DialogueTree, nodeID string, s *types.NarrativeSessionState, ended bool) types.DialogueView {
	node := t.Nodes[nodeID]
	v := types.DialogueView{
		TreeID:  t.ID,
		NodeID:  nodeID,
		Speaker: node.Speaker,
		Text:    node.Text,
		Offered: []types.Choice{},
		Locked:  []types.LockedOption{},
		Ended:   ended,
	}
	if ended {
		return v
	}

	pc := s.Context()
	for _, c := range node.Choices {
		if ok, locked, _ := choiceGate(c, s, pc); ok {
			v.Offered = append(v.Offered, c)
		} else {
			v.Locked = append(v.Locked, locked)
		}
	}
	return v
}

// enterNode moves a session to nodeID and marks it ended at terminal nodes
func enterNode(t *types.DialogueTree, sess *types.DialogueSession, nodeID string) {
	sess.CurrentNode = nodeID
	sess.Visits[nodeID]++
	if t.Nodes[nodeID].IsTerminal() {
		sess.Status = types.DialogueEnded
	} else {
		sess.Status = types.DialogueAtNode
	}
}

// advanceDialogueObjectives applies a choice's objective steps to the quests
// the character is running. Steps for quests not running are skipped.
func (e *Engine) advanceDialogueObjectives(draft *types.NarrativeSessionState, c types.Choice) error {
	for _, step := range c.Progress {
		questID := step.QuestID
		if questID == "" {
			questID = c.QuestID
		}
		q, err := e.quest(questID)
		if err != nil {
			return err
		}
		inst, ok := draft.Quests[questID]
		if !ok || inst.Status != types.QuestActive {
			e.Logger.Debug("Objective step skipped, quest not running",
				zap.String("character_id", draft.CharacterID),
				zap.String("quest_id", questID),
				zap.String("objective_id", step.ObjectiveID))
			continue
		}
		if _, err := advanceObjective(inst, q, step); err != nil {
			return err
		}
	}
	return nil
}

// StartDialogue opens a conversation at the tree's root node
func (e *Engine) StartDialogue(ctx context.Context, characterID, treeID string) (*types.DialogueView, error) {
	t, err := e.dialogue(treeID)
	if err != nil {
		return nil, err
	}

	next, err := e.store.Mutate(ctx, characterID, func(draft *types.NarrativeSessionState) error {
		sess, ok := draft.Dialogues[treeID]
		if !ok {
			sess = &types.DialogueSession{TreeID: treeID, Visits: make(map[string]int)}
			draft.Dialogues[treeID] = sess
		}
		enterNode(t, sess, t.Root)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess := next.Dialogues[treeID]
	view := viewNode(t, sess.CurrentNode, next, sess.Status == types.DialogueEnded)
	return &view, nil
}

// ExecuteDialogueNode takes a choice at the conversation's current node
func (e *Engine) ExecuteDialogueNode(ctx context.Context, req types.DialogueRequest) (*types.DialogueResult, error) {
	t, err := e.dialogue(req.TreeID)
	if err != nil {
		return nil, err
	}

	// the seed is fixed before the transaction starts
	seed, err := resolveSeed(req.Seed)
	if err != nil {
		return nil, err
	}

	result := &types.DialogueResult{}
	var staged int
	var deactivated []string
	var questID string

	next, err := e.store.Mutate(ctx, req.CharacterID, func(draft *types.NarrativeSessionState) error {
		sess, ok := draft.Dialogues[req.TreeID]
		if !ok {
			sess = &types.DialogueSession{TreeID: req.TreeID, Visits: make(map[string]int)}
			draft.Dialogues[req.TreeID] = sess
			enterNode(t, sess, t.Root)
		}
		if sess.Status == types.DialogueEnded {
			return newError(CodeInvalidChoice, "conversation %s has ended", req.TreeID)
		}

		node := t.Nodes[sess.CurrentNode]
		var choice *types.Choice
		for i := range node.Choices {
			if node.Choices[i].ID == req.ChoiceID {
				choice = &node.Choices[i]
				break
			}
		}
		if choice == nil {
			return newError(CodeInvalidChoice, "choice %s is not offered at node %s", req.ChoiceID, node.ID)
		}

		pc := draft.Context()
		ok, locked, gate := choiceGate(*choice, draft, pc)
		logSoftGaps(e.Logger, req.CharacterID, zap.String("choice_id", choice.ID), gate)
		if !ok {
			return &Error{
				Code:         CodeBranchLocked,
				Message:      fmt.Sprintf("choice %s is locked", choice.ID),
				MissingFlags: locked.MissingFlags,
				MissingItems: locked.MissingItems,
				Reasons:      locked.Reasons,
			}
		}

		result.PreviousNode = node.ID
		passed := true
		target := choice.LeadsToNode

		if check := choice.SkillCheck; check != nil {
			// resolved below before the mutation commits
			sess.Status = types.DialogueSkillCheckPending
			res := ResolveSkillCheck(*check, pc.Skills[check.Skill], req.SkillModifier, seed, e.config.Narrative)
			result.SkillCheck = &res
			passed = res.Success
			if passed {
				if check.SuccessNode != "" {
					target = check.SuccessNode
				}
			} else {
				// without a failure route the walker stays where it is
				target = check.FailureNode
			}
		}

		var deltas []types.StateDelta
		if passed {
			for _, f := range choice.SetFlags {
				draft.Flags[f] = true
			}

			applied, err := ApplyAll(choice.Consequences, draft.Context())
			if err != nil {
				return err
			}
			for _, d := range applied {
				commitDelta(draft, d)
			}
			deltas = applied

			if err := e.advanceDialogueObjectives(draft, *choice); err != nil {
				return err
			}

			if choice.ActivatesBranch != "" {
				_, q, ok := e.registry.Branch(choice.ActivatesBranch)
				if !ok {
					return notFound("branch", choice.ActivatesBranch)
				}
				act, err := e.resolver.Activate(draft, q, choice.ActivatesBranch)
				if err != nil {
					return err
				}
				for _, d := range act.Deltas {
					commitDelta(draft, d)
				}
				deltas = append(deltas, act.Deltas...)
				deactivated = act.Deactivated
				questID = q.ID
				result.BranchActivated = act.BranchID
			}
		}

		switch {
		case passed && choice.EndConversation:
			if target != "" {
				sess.CurrentNode = target
				sess.Visits[target]++
			}
			sess.Status = types.DialogueEnded
		case target != "":
			enterNode(t, sess, target)
		default:
			sess.Status = types.DialogueAtNode
		}

		rec := e.record(draft, types.PlayerChoice{
			Source:              types.SourceDialogue,
			QuestID:             questID,
			TreeID:              req.TreeID,
			NodeID:              node.ID,
			ChoiceID:            choice.ID,
			BranchID:            result.BranchActivated,
			NextNodeID:          sess.CurrentNode,
			SkillCheck:          result.SkillCheck,
			Failed:              !passed,
			Consequences:        deltas,
			DeactivatedBranches: deactivated,
		})
		staged = e.queue(draft, rec.ID, deltas)
		result.Consequences = rec.Consequences
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess := next.Dialogues[req.TreeID]
	result.Node = viewNode(t, sess.CurrentNode, next, sess.Status == types.DialogueEnded)
	result.NewState = next.Clone()

	e.Logger.Debug("Dialogue advanced",
		zap.String("character_id", req.CharacterID),
		zap.String("tree_id", req.TreeID),
		zap.String("from", result.PreviousNode),
		zap.String("to", sess.CurrentNode))
	payload := map[string]any{
		"tree_id":   req.TreeID,
		"choice_id": req.ChoiceID,
		"from_node": result.PreviousNode,
		"to_node":   sess.CurrentNode,
	}
	if result.SkillCheck != nil {
		payload["skill_check_success"] = result.SkillCheck.Success
		payload["seed"] = result.SkillCheck.Seed
	}
	e.emit(types.NarrativeEvent{Type: types.EventDialogueAdvanced, CharacterID: req.CharacterID, Payload: payload})
	if result.BranchActivated != "" {
		e.emitBranchActivated(req.CharacterID, questID, result.BranchActivated, deactivated)
	}
	e.flushAfterCommit(ctx, req.CharacterID, staged)
	return result, nil
}
