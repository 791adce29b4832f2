package narrative

import (
	"fmt"

	"github.com/user/narrative-engine/internal/types"
)

// objectiveTarget returns the progress that completes an objective
func objectiveTarget(o types.Objective) int {
	if o.Target < 1 {
		return 1
	}
	return o.Target
}

// findObjective looks an objective up across every node of a quest
func findObjective(q *types.Quest, objectiveID string) (types.Objective, string, bool) {
	for _, nodeID := range sortedKeys(q.Nodes) {
		for _, o := range q.Nodes[nodeID].Objectives {
			if o.ID == objectiveID {
				return o, nodeID, true
			}
		}
	}
	return types.Objective{}, "", false
}

// initProgress starts every objective of a quest at zero
func initProgress(q *types.Quest) map[string]types.ObjectiveProgress {
	out := make(map[string]types.ObjectiveProgress)
	for _, n := range q.Nodes {
		for _, o := range n.Objectives {
			out[o.ID] = types.ObjectiveProgress{Target: objectiveTarget(o)}
		}
	}
	return out
}

// advanceObjective applies a step to a running instance. Progress stays
// within [0, target].
func advanceObjective(inst *types.QuestInstance, q *types.Quest, step types.ObjectiveStep) (types.ObjectiveProgress, error) {
	if inst.Progress == nil {
		inst.Progress = make(map[string]types.ObjectiveProgress)
	}
	p, ok := inst.Progress[step.ObjectiveID]
	if !ok {
		o, _, found := findObjective(q, step.ObjectiveID)
		if !found {
			return p, notFound("objective", step.ObjectiveID)
		}
		p = types.ObjectiveProgress{Target: objectiveTarget(o)}
	}

	if step.Complete {
		p.Current = p.Target
	} else {
		amount := step.Amount
		if amount == 0 {
			amount = 1
		}
		p.Current += amount
		if p.Current < 0 {
			p.Current = 0
		}
		if p.Current > p.Target {
			p.Current = p.Target
		}
	}
	p.Completed = p.Current >= p.Target
	inst.Progress[step.ObjectiveID] = p
	return p, nil
}

// completeObjectives fills every objective of a finished instance
func completeObjectives(inst *types.QuestInstance) {
	for id, p := range inst.Progress {
		p.Current = p.Target
		p.Completed = true
		inst.Progress[id] = p
	}
}

// objectiveViolations checks objective IDs are unique within a quest and that
// progress steps point at real objectives
func objectiveViolations(q *types.Quest) []types.Violation {
	var out []types.Violation
	seen := make(map[string]string)
	for _, nodeID := range sortedKeys(q.Nodes) {
		for _, o := range q.Nodes[nodeID].Objectives {
			if other, dup := seen[o.ID]; dup {
				out = append(out, types.Violation{
					Kind:    types.ViolationDuplicateID,
					QuestID: q.ID,
					Detail:  fmt.Sprintf("quest %s: objective %s defined at both %s and %s", q.ID, o.ID, other, nodeID),
				})
				continue
			}
			seen[o.ID] = nodeID
		}
	}
	for _, nodeID := range sortedKeys(q.Nodes) {
		for _, tr := range q.Nodes[nodeID].Transitions {
			for _, step := range tr.Progress {
				if _, ok := seen[step.ObjectiveID]; !ok {
					out = append(out, types.Violation{
						Kind:    types.ViolationUnknownReference,
						QuestID: q.ID,
						Detail:  fmt.Sprintf("quest %s: transition %s advances unknown objective %q", q.ID, tr.ChoiceID, step.ObjectiveID),
					})
				}
			}
		}
	}
	return out
}
